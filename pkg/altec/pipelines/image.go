package pipelines

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mindforge/altec/pkg/altec/adapters"
	"github.com/mindforge/altec/pkg/altec/executor"
	"github.com/mindforge/altec/pkg/altec/policy"
)

// imageCheckpoint threads state across the image-analyze pipeline. Unlike
// video-deep and audio-transcribe, spec.md leaves this pipeline's phase
// list unspecified beyond its constant ~20s predicted duration; it is kept
// short since the estimator always places it in duration class S.
type imageCheckpoint struct {
	ImageRef    string `json:"image_ref"`
	Description string `json:"description,omitempty"`
	Caption     string `json:"caption,omitempty"`
	ResultRef   string `json:"result_ref,omitempty"`
}

func decodeImage(raw []byte) (imageCheckpoint, error) {
	var chk imageCheckpoint
	if len(raw) == 0 {
		return chk, nil
	}
	if err := json.Unmarshal(raw, &chk); err != nil {
		return chk, fmt.Errorf("decode image checkpoint: %w", err)
	}
	return chk, nil
}

func encodeImage(chk imageCheckpoint) ([]byte, error) {
	out, err := json.Marshal(chk)
	if err != nil {
		return nil, fmt.Errorf("encode image checkpoint: %w", err)
	}
	return out, nil
}

// ImageAnalyze builds the image-analyze pipeline: decode, visual_analysis,
// caption_synthesis, finalize.
func ImageAnalyze(a *adapters.Adapters) executor.Pipeline {
	return executor.Pipeline{
		Kind: "image-analyze",
		Phases: []executor.Phase{
			{Name: "decode", Run: imageDecode},
			{Name: "visual_analysis", Run: imageVisualAnalysis(a)},
			{Name: "caption_synthesis", Run: imageCaptionSynthesis(a)},
			{Name: "finalize", Run: imageFinalize(a)},
		},
		ResultRef: func(finalCheckpoint []byte) string {
			chk, err := decodeImage(finalCheckpoint)
			if err != nil {
				return ""
			}
			return chk.ResultRef
		},
	}
}

func imageDecode(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
	imageRef, _ := descriptor["image_ref"].(string)
	if imageRef == "" {
		return nil, executor.Permanent(fmt.Errorf("descriptor missing image_ref"))
	}
	chk := imageCheckpoint{ImageRef: imageRef}
	sink.Report(100, "image decoded")
	return encodeImage(chk)
}

func imageVisualAnalysis(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeImage(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		desc, err := a.Vision.AnalyzeFrame(ctx, chk.ImageRef)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.Description = desc
		sink.Report(100, "visual content analyzed")
		return encodeImage(chk)
	}
}

func imageCaptionSynthesis(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeImage(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		caption, err := a.Summarize.Summarize(ctx, chk.Description)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.Caption = caption
		sink.Report(100, "caption synthesized")
		return encodeImage(chk)
	}
}

func imageFinalize(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeImage(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		payload, err := json.Marshal(chk)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		ref, err := a.ResultStore.Put(ctx, chk.ImageRef, payload)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.ResultRef = ref
		sink.Report(100, "result stored")
		return encodeImage(chk)
	}
}
