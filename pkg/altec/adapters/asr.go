package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// bedrockASR calls a Bedrock foundation model to transcribe the contents at
// audioRef. ALTEC treats the model choice as an implementation detail
// (spec.md §1); the client is built once and reused for every call.
type bedrockASR struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockASR builds an ASR adapter backed by AWS Bedrock.
func NewBedrockASR(ctx context.Context, cfg Config) (ASR, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.BedrockRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &bedrockASR{
		client:  bedrockruntime.NewFromConfig(awsCfg),
		modelID: "amazon.titan-text-express-v1",
	}, nil
}

type bedrockTranscribeRequest struct {
	AudioRef string `json:"audio_ref"`
}

type bedrockTranscribeResponse struct {
	Transcript string `json:"transcript"`
}

func (a *bedrockASR) Transcribe(ctx context.Context, audioRef string) (string, error) {
	payload, err := json.Marshal(bedrockTranscribeRequest{AudioRef: audioRef})
	if err != nil {
		return "", fmt.Errorf("marshal transcribe request: %w", err)
	}

	out, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		ContentType: aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return "", fmt.Errorf("invoke bedrock model: %w", err)
	}

	var resp bedrockTranscribeResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal transcribe response: %w", err)
	}
	return resp.Transcript, nil
}
