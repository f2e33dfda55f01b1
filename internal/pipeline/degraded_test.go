package pipeline

import (
	"testing"

	"storyreel/internal/queue"
	"storyreel/internal/stage"
)

func TestSceneDegradationsFromStoredScenes(t *testing.T) {
	scenes := []queue.Scene{
		{Number: 1, HasImage: true, ImageStatus: queue.SceneFailed, AudioStatus: queue.SceneFailed,
			ErrorMessage: "image: content filter; audio: voice rejected"},
		{Number: 2, HasImage: true, ImageStatus: queue.SceneCompleted, AudioStatus: queue.SceneCompleted},
		{Number: 3, AudioStatus: queue.SceneFailed, ErrorMessage: "audio: quota; retry later"},
	}
	got := sceneDegradations(scenes)
	want := []stage.Degradation{
		{SceneNumber: 1, Media: "image", Error: "content filter"},
		{SceneNumber: 1, Media: "audio", Error: "voice rejected"},
		{SceneNumber: 3, Media: "audio", Error: "quota; retry later"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("degradation %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	warnings := earlierRunWarnings(got, want[:1])
	if len(warnings) != 2 || warnings[0] != "scene 1 audio failed in an earlier run" {
		t.Fatalf("unexpected warnings %v", warnings)
	}
}
