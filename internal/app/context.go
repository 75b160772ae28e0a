package app

import (
	"context"
	"errors"
	"fmt"

	"gigledger/internal/config"
	"gigledger/internal/repo"
)

// ResolveConfig returns the effective config for a workspace. A
// gigledger.yml in the workspace wins and is mirrored into the DB so the
// server and CLI agree; otherwise the DB copy is used; a fresh workspace
// is seeded with defaults.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if fileCfg != nil {
		if err := r.UpsertConfig(ctx, fileCfg); err != nil {
			return nil, fmt.Errorf("mirror config: %w", err)
		}
		return fileCfg, nil
	}

	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	cfg = config.Default()
	if err := r.UpsertConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return cfg, nil
}
