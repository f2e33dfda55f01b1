package steps

import (
	"context"
	"fmt"
	"time"

	"storyreel/internal/packaging"
	"storyreel/internal/queue"
	"storyreel/internal/services"
	"storyreel/internal/stage"
)

// Bundler packages the story's scenes and media into the output archive.
type Bundler struct {
	base
}

// NewBundler constructs the package handler.
func NewBundler(env Env) *Bundler {
	return &Bundler{base: newBase(env, stage.Package)}
}

func (b *Bundler) Prepare(ctx context.Context, story *queue.Story) error {
	if b.env.Packager == nil {
		return services.Wrap(services.ErrConfiguration, b.step, "resolve packager", "no packager configured", nil)
	}
	return nil
}

func (b *Bundler) Execute(ctx context.Context, story *queue.Story) (stage.Result, error) {
	scenes, err := loadScenes(ctx, b.env.Store, b.step, story.ID)
	if err != nil {
		return stage.Result{}, err
	}
	var warnings []string
	for _, sc := range scenes {
		if sc.Status == queue.SceneFailed {
			warnings = append(warnings, fmt.Sprintf("scene %d: %s", sc.Number, sc.ErrorMessage))
		}
	}
	packager := *b.env.Packager
	packager.Logger = b.log(ctx)
	archive, err := packager.Package(ctx, story, scenes, packaging.Metadata{
		RunID:       story.RunID,
		GeneratedAt: time.Now().UTC(),
		Warnings:    warnings,
	})
	if err != nil {
		return stage.Result{}, err
	}
	story.ArchivePath = archive.Path
	return stage.Result{
		Summary: fmt.Sprintf("%d scene(s), %d placeholder image(s), %d missing audio", archive.Scenes, archive.Placeholders, archive.MissingAudio),
	}, nil
}

func (b *Bundler) HealthCheck(context.Context) stage.Health {
	if b.env.Packager == nil {
		return stage.Unhealthy(b.step, "packager not configured")
	}
	return stage.Healthy(b.step)
}
