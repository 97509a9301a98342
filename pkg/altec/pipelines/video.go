package pipelines

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mindforge/altec/pkg/altec/adapters"
	"github.com/mindforge/altec/pkg/altec/executor"
	"github.com/mindforge/altec/pkg/altec/policy"
)

// videoCheckpoint threads state across the video-deep pipeline's eight
// phases. Every phase reads the fields it needs and writes the ones it
// produces; fields it doesn't touch pass through unmodified.
type videoCheckpoint struct {
	VideoRef        string   `json:"video_ref"`
	FrameRefs       []string `json:"frame_refs,omitempty"`
	FrameDescs      []string `json:"frame_descriptions,omitempty"`
	AudioRef        string   `json:"audio_ref,omitempty"`
	Transcript      string   `json:"transcript,omitempty"`
	AudioSemantics  string   `json:"audio_semantics,omitempty"`
	FusedNarrative  string   `json:"fused_narrative,omitempty"`
	StoryAnalysis   string   `json:"story_analysis,omitempty"`
	ResultRef       string   `json:"result_ref,omitempty"`
}

func decodeVideo(raw []byte) (videoCheckpoint, error) {
	var chk videoCheckpoint
	if len(raw) == 0 {
		return chk, nil
	}
	if err := json.Unmarshal(raw, &chk); err != nil {
		return chk, fmt.Errorf("decode video checkpoint: %w", err)
	}
	return chk, nil
}

func encodeVideo(chk videoCheckpoint) ([]byte, error) {
	out, err := json.Marshal(chk)
	if err != nil {
		return nil, fmt.Errorf("encode video checkpoint: %w", err)
	}
	return out, nil
}

// VideoDeep builds the video-deep analysis pipeline (spec.md §4.4):
// frame_extraction, visual_analysis, audio_extraction, speech_recognition,
// audio_semantics, multimodal_fusion, story_analysis, finalization.
func VideoDeep(a *adapters.Adapters) executor.Pipeline {
	return executor.Pipeline{
		Kind: "video-deep",
		Phases: []executor.Phase{
			{Name: "frame_extraction", Run: videoFrameExtraction},
			{Name: "visual_analysis", Run: videoVisualAnalysis(a)},
			{Name: "audio_extraction", Run: videoAudioExtraction},
			{Name: "speech_recognition", Run: videoSpeechRecognition(a)},
			{Name: "audio_semantics", Run: videoAudioSemantics(a)},
			{Name: "multimodal_fusion", Run: videoMultimodalFusion(a)},
			{Name: "story_analysis", Run: videoStoryAnalysis(a)},
			{Name: "finalization", Run: videoFinalization(a)},
		},
		ResultRef: func(finalCheckpoint []byte) string {
			chk, err := decodeVideo(finalCheckpoint)
			if err != nil {
				return ""
			}
			return chk.ResultRef
		},
	}
}

func videoFrameExtraction(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
	videoRef, _ := descriptor["video_ref"].(string)
	chk, err := decodeVideo(prev)
	if err != nil {
		return nil, executor.Permanent(err)
	}
	chk.VideoRef = videoRef

	frameCount := 1
	if n, ok := descriptor["frames_analyzed"].(float64); ok && n > 0 {
		frameCount = int(n)
	}
	frames := make([]string, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		if cancel.Cancelled() {
			return nil, executor.Permanent(fmt.Errorf("cancelled during frame extraction"))
		}
		frames = append(frames, fmt.Sprintf("%s#frame-%d", videoRef, i))
		sink.Report(float64(i+1)/float64(frameCount)*100, "extracting frames")
	}
	chk.FrameRefs = frames
	return encodeVideo(chk)
}

func videoVisualAnalysis(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeVideo(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		descs := make([]string, 0, len(chk.FrameRefs))
		for i, frame := range chk.FrameRefs {
			desc, err := a.Vision.AnalyzeFrame(ctx, frame)
			if err != nil {
				return nil, executor.Transient(err)
			}
			descs = append(descs, desc)
			sink.Report(float64(i+1)/float64(len(chk.FrameRefs))*100, "analyzing frames")
		}
		chk.FrameDescs = descs
		return encodeVideo(chk)
	}
}

func videoAudioExtraction(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
	chk, err := decodeVideo(prev)
	if err != nil {
		return nil, executor.Permanent(err)
	}
	chk.AudioRef = chk.VideoRef + "#audio"
	sink.Report(100, "audio track extracted")
	return encodeVideo(chk)
}

func videoSpeechRecognition(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeVideo(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		transcript, err := a.ASR.Transcribe(ctx, chk.AudioRef)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.Transcript = transcript
		sink.Report(100, "speech transcribed")
		return encodeVideo(chk)
	}
}

func videoAudioSemantics(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeVideo(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		semantics, err := a.Summarize.Summarize(ctx, chk.Transcript)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.AudioSemantics = semantics
		sink.Report(100, "audio semantics extracted")
		return encodeVideo(chk)
	}
}

func videoMultimodalFusion(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeVideo(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		combined := fmt.Sprintf("visual: %v\naudio: %s", chk.FrameDescs, chk.AudioSemantics)
		narrative, err := a.Summarize.Summarize(ctx, combined)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.FusedNarrative = narrative
		sink.Report(100, "modalities fused")
		return encodeVideo(chk)
	}
}

func videoStoryAnalysis(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeVideo(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		story, err := a.Summarize.Summarize(ctx, "Narrative arc of: "+chk.FusedNarrative)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.StoryAnalysis = story
		sink.Report(100, "story analyzed")
		return encodeVideo(chk)
	}
}

func videoFinalization(a *adapters.Adapters) executor.PhaseFunc {
	return func(ctx context.Context, descriptor policy.Descriptor, prev []byte, sink executor.ProgressSink, cancel executor.CancelToken) ([]byte, error) {
		chk, err := decodeVideo(prev)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		payload, err := json.Marshal(chk)
		if err != nil {
			return nil, executor.Permanent(err)
		}
		ref, err := a.ResultStore.Put(ctx, chk.VideoRef, payload)
		if err != nil {
			return nil, executor.Transient(err)
		}
		chk.ResultRef = ref
		sink.Report(100, "result stored")
		return encodeVideo(chk)
	}
}
