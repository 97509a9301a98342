// Package adapters is ALTEC's boundary to external model providers and the
// result store. Per spec.md §1, the exact prompt, model choice, and vendor
// SDK behind each of these calls is explicitly out of scope: pipelines see
// only these opaque, eventually-consistent interfaces.
package adapters

import (
	"context"
	"time"
)

// ASR transcribes an audio resource to text.
type ASR interface {
	Transcribe(ctx context.Context, audioRef string) (transcript string, err error)
}

// Vision extracts a textual description from a single image or video frame.
type Vision interface {
	AnalyzeFrame(ctx context.Context, frameRef string) (description string, err error)
}

// Embedding computes a vector embedding for a chunk of text.
type Embedding interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Summarize condenses a block of text (a transcript, a set of extracted
// statistics, a sequence of frame descriptions) into a short narrative.
type Summarize interface {
	Summarize(ctx context.Context, text string) (summary string, err error)
}

// ResultStore persists a pipeline's final artifact and returns a
// content-addressed reference safe to use as a Task's result_ref, and
// fetches it back.
type ResultStore interface {
	Put(ctx context.Context, key string, payload []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Adapters bundles every model/storage adapter a pipeline may call.
type Adapters struct {
	ASR         ASR
	Vision      Vision
	Embedding   Embedding
	Summarize   Summarize
	ResultStore ResultStore
}

// Config configures every concrete adapter construction in this package.
type Config struct {
	AnthropicAPIKey string
	BedrockRegion   string
	MistralAPIKey   string
	GenAIAPIKey     string
	ResultStoreURL  string
	RequestTimeout  time.Duration
}
