package preflight

import (
	"context"

	"recast/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Failed reports whether a required check did not pass.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed && !r.Optional {
			return true
		}
	}
	return false
}

// RunAll executes the checks that apply to cfg. Collaborator endpoints are
// only probed when configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if cfg.Storage.Backend == config.StorageLocal {
		results = append(results, CheckDirectoryAccess("Local storage", cfg.Storage.LocalDir))
	}
	results = append(results, CheckSystemDeps(cfg)...)

	if cfg.Providers.BaseURL != "" {
		results = append(results, CheckEndpoint(ctx, "Provider gateway", cfg.Providers.BaseURL, cfg.Providers.Token))
	}
	if cfg.Publish.RelayURL != "" {
		results = append(results, CheckEndpoint(ctx, "Publish relay", cfg.Publish.RelayURL, cfg.Publish.RelayToken))
	}
	return results
}
