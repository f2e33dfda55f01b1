package preflight

import (
	"context"

	"storyreel/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// RunAll executes the cheap checks that gate story processing. Provider calls
// are not included; they cost a request per check.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	if cfg.Inbox.Enabled {
		results = append(results, CheckDirectoryAccess("Inbox directory", cfg.Inbox.Dir))
	}
	results = append(results, CheckProviders(cfg))
	if cfg.Redis.Enabled {
		results = append(results, CheckRedis(ctx, cfg.Redis))
	}
	return results
}
