package pipelines

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mindforge/altec/pkg/altec/adapters"
	"github.com/mindforge/altec/pkg/altec/executor"
	"github.com/mindforge/altec/pkg/altec/policy"
)

// audioCheckpoint threads state across the audio-transcribe pipeline's
// five phases.
type audioCheckpoint struct {
	AudioRef      string      `json:"audio_ref"`
	Transcript    string      `json:"transcript,omitempty"`
	Optimized     string      `json:"optimized_transcript,omitempty"`
	SegmentEmbeds [][]float64 `json:"segment_embeddings,omitempty"`
	ResultRef     string      `json:"result_ref,omitempty"`
}

func decodeAudio(raw []byte) (audioCheckpoint, error) {
	var chk audioCheckpoint
	if len(raw) == 0 {
		return chk, nil
	}
	if err := json.Unmarshal(raw, &chk); err != nil {
		return chk, fmt.Errorf("decode audio checkpoint: %w", err)
	}
	return chk, nil
}

func encodeAudio(chk audioCheckpoint) ([]byte, error) {
	out, err := json.Marshal(chk)
	if err != nil {
		return nil, fmt.Errorf("encode audio checkpoint: %w", err)
	}
	return out, nil
}

// AudioTranscribe builds the audio-transcribe pipeline (spec.md §4.4):
// preprocess, transcribe, post_optimize, embed_segments, finalize.
func AudioTranscribe(a *adapters.Adapters) executor.Pipeline {
	return executor.Pipeline{
		Kind: "audio-transcribe",
		Phases: []executor.Phase{
			{Name: "preprocess", Run: audioPreprocess},
			{Name: "transcribe", Run: audioTranscribe(a)},
			{Name: "post_optimize", Run: audioPostOptimize(a)},
			{Name: "embed_segments", Run: audioEmbedSegments(a)},
			{Name: "finalize", Run: audioFinalize(a)},
		},
		ResultRef: func(finalCheckpoint []byte) string {
			chk, err := decodeAudio(finalCheckpoint)
			if err != nil {
				return ""
			}
			return chk.ResultRef
		},
	}
}

func audioPreprocess(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
	audioRef, _ := descriptor["audio_ref"].(string)
	chk, err := decodeAudio(prev)
	if err != nil {
		return nil, executor.Permanent(err)
	}
	chk.AudioRef = audioRef
	sink.Report(100, "audio normalized")
	return encodeAudio(chk)
}

func audioTranscribe(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeAudio(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		transcript, err := a.ASR.Transcribe(ctx, chk.AudioRef)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.Transcript = transcript
		sink.Report(100, "transcription complete")
		return encodeAudio(chk)
	}
}

func audioPostOptimize(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeAudio(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		optimized, err := a.Summarize.Summarize(ctx, chk.Transcript)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.Optimized = optimized
		sink.Report(100, "transcript optimized")
		return encodeAudio(chk)
	}
}

// audioEmbedSegments splits the optimized transcript into sentence-ish
// segments and embeds each independently, so downstream search can locate
// the moment in the recording a query matches.
func audioEmbedSegments(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeAudio(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		segments := splitSegments(chk.Optimized)
		embeds := make([][]float64, 0, len(segments))
		for i, seg := range segments {
			if cancel.Cancelled() {
				return nil, executor.Permanent(fmt.Errorf("cancelled during segment embedding"))
			}
			vec, err := a.Embedding.Embed(ctx, seg)
			if err != nil {
				return nil, executor.Transient(err)
			}
			embeds = append(embeds, vec)
			sink.Report(float64(i+1)/float64(len(segments))*100, "embedding segments")
		}
		chk.SegmentEmbeds = embeds
		return encodeAudio(chk)
	}
}

func audioFinalize(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeAudio(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		payload, err := json.Marshal(chk)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		ref, err := a.ResultStore.Put(ctx, chk.AudioRef, payload)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.ResultRef = ref
		sink.Report(100, "result stored")
		return encodeAudio(chk)
	}
}

func splitSegments(text string) []string {
	if text == "" {
		return nil
	}
	raw := strings.Split(text, ". ")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) == 0 {
		segments = append(segments, text)
	}
	return segments
}
