package adapters

import (
	"context"
	"fmt"

	mistral "github.com/gage-technologies/mistral-go"
)

// mistralEmbedding calls Mistral's embeddings endpoint for a chunk of text.
type mistralEmbedding struct {
	client *mistral.MistralClient
	model  string
}

// NewMistralEmbedding builds an Embedding adapter backed by Mistral.
func NewMistralEmbedding(cfg Config) Embedding {
	return &mistralEmbedding{
		client: mistral.NewMistralClientDefault(cfg.MistralAPIKey),
		model:  "mistral-embed",
	}
}

func (e *mistralEmbedding) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := e.client.Embeddings(e.model, []string{text})
	if err != nil {
		return nil, fmt.Errorf("mistral embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("mistral returned no embedding data")
	}
	return resp.Data[0].Embedding, nil
}
