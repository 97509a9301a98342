// Package pipelines holds the concrete phase lists for each task.Kind
// (spec.md §4.4's example pipelines), wired into an executor.Registry.
package pipelines

import (
	"github.com/mindforge/altec/pkg/altec/adapters"
	"github.com/mindforge/altec/pkg/altec/executor"
	"github.com/mindforge/altec/pkg/altec/task"
)

// RegisterAll builds every pipeline in this package against the given
// Adapters bundle and registers them on registry.
func RegisterAll(registry *executor.Registry, a *adapters.Adapters) error {
	if err := registry.Register(task.KindVideoDeep, VideoDeep(a)); err != nil {
		return err
	}
	if err := registry.Register(task.KindAudioTranscribe, AudioTranscribe(a)); err != nil {
		return err
	}
	if err := registry.Register(task.KindTextProfile, TextProfile(a)); err != nil {
		return err
	}
	if err := registry.Register(task.KindImageAnalyze, ImageAnalyze(a)); err != nil {
		return err
	}
	return nil
}
