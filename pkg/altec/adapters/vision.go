package adapters

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// genaiVision calls a Gemini vision model to describe the content at a
// frame reference.
type genaiVision struct {
	client *genai.Client
	model  string
}

// NewGenAIVision builds a Vision adapter backed by Google's generative AI
// API. The returned adapter owns the client and should be closed via
// Close when the worker shuts down.
func NewGenAIVision(ctx context.Context, cfg Config) (*genaiVision, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GenAIAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &genaiVision{client: client, model: "gemini-1.5-pro"}, nil
}

func (v *genaiVision) Close() error {
	return v.client.Close()
}

func (v *genaiVision) AnalyzeFrame(ctx context.Context, frameRef string) (string, error) {
	model := v.client.GenerativeModel(v.model)
	prompt := genai.Text(fmt.Sprintf("Describe the visual content of %s in one sentence.", frameRef))

	resp, err := model.GenerateContent(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("generate frame description: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("genai returned no candidates for %s", frameRef)
	}
	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("unexpected genai response part type for %s", frameRef)
	}
	return string(text), nil
}
