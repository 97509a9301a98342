package executor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mindforge/altec/pkg/altec/task"
)

func testPipeline() Pipeline {
	return Pipeline{
		Kind:   task.KindImageAnalyze,
		Phases: []Phase{{Name: "analyze", Run: nil}},
	}
}

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	assert.NotNil(t, registry)
	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(task.KindImageAnalyze, testPipeline())
	assert.NoError(t, err)
	assert.Equal(t, 1, registry.Count())
	assert.True(t, registry.IsRegistered(task.KindImageAnalyze))

	err = registry.Register(task.KindImageAnalyze, testPipeline())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewRegistry()

	registry.Register(task.KindImageAnalyze, testPipeline())
	assert.Equal(t, 1, registry.Count())

	registry.Unregister(task.KindImageAnalyze)
	assert.Equal(t, 0, registry.Count())
	assert.False(t, registry.IsRegistered(task.KindImageAnalyze))

	registry.Unregister(task.Kind("non_existent"))
	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry()
	registry.Register(task.KindImageAnalyze, testPipeline())

	pipeline, err := registry.Get(task.KindImageAnalyze)
	assert.NoError(t, err)
	assert.Equal(t, task.KindImageAnalyze, pipeline.Kind)
	assert.Len(t, pipeline.Phases, 1)
}

func TestRegistry_Get_UnknownKind(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.Get(task.Kind("unknown"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestRegistry_IsRegistered(t *testing.T) {
	registry := NewRegistry()

	assert.False(t, registry.IsRegistered(task.KindImageAnalyze))

	registry.Register(task.KindImageAnalyze, testPipeline())
	assert.True(t, registry.IsRegistered(task.KindImageAnalyze))

	registry.Unregister(task.KindImageAnalyze)
	assert.False(t, registry.IsRegistered(task.KindImageAnalyze))
}

func TestRegistry_Count(t *testing.T) {
	registry := NewRegistry()
	assert.Equal(t, 0, registry.Count())

	registry.Register(task.KindImageAnalyze, testPipeline())
	assert.Equal(t, 1, registry.Count())

	registry.Register(task.KindTextProfile, testPipeline())
	assert.Equal(t, 2, registry.Count())

	registry.Unregister(task.KindImageAnalyze)
	assert.Equal(t, 1, registry.Count())

	registry.Unregister(task.KindTextProfile)
	assert.Equal(t, 0, registry.Count())
}

func TestRegistry_RegisteredKinds(t *testing.T) {
	registry := NewRegistry()

	kinds := registry.RegisteredKinds()
	assert.Empty(t, kinds)

	registry.Register(task.KindImageAnalyze, testPipeline())
	registry.Register(task.KindTextProfile, testPipeline())
	registry.Register(task.KindAudioTranscribe, testPipeline())

	kinds = registry.RegisteredKinds()
	assert.Len(t, kinds, 3)
	assert.Contains(t, kinds, task.KindImageAnalyze)
	assert.Contains(t, kinds, task.KindTextProfile)
	assert.Contains(t, kinds, task.KindAudioTranscribe)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	registry := NewRegistry()
	kinds := []task.Kind{task.KindImageAnalyze, task.KindTextProfile, task.KindAudioTranscribe, task.KindVideoDeep}

	done := make(chan bool)

	go func() {
		for i, kind := range kinds {
			registry.Register(kind, testPipeline())
			_ = fmt.Sprintf("registered %d", i)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < len(kinds); i++ {
			registry.RegisteredKinds()
			registry.Count()
		}
		done <- true
	}()

	<-done
	<-done

	assert.Equal(t, len(kinds), registry.Count())
}
