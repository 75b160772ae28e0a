package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"gigledger/internal/domain"
	"gigledger/internal/events"
)

// SyncExperiments reconciles the experiments table with the config block.
// Configured experiments are created or have their variants refreshed;
// experiments no longer configured are paused, never deleted, so their
// results stay queryable.
func (e Engine) SyncExperiments(ctx context.Context, actorID string) ([]domain.Experiment, error) {
	if e.Config == nil {
		return nil, errors.New("config not loaded")
	}
	now := e.nowStr()

	existing, err := e.Repo.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]domain.Experiment, len(existing))
	for _, exp := range existing {
		byName[exp.Name] = exp
	}

	var out []domain.Experiment
	for name, spec := range e.Config.Experiments {
		variants := make([]domain.ExperimentVariant, 0, len(spec.Variants))
		for id, weight := range spec.Variants {
			variants = append(variants, domain.ExperimentVariant{ID: id, Name: id, Weight: weight})
		}
		sort.Slice(variants, func(i, j int) bool { return variants[i].ID < variants[j].ID })

		exp, ok := byName[name]
		if !ok {
			exp = domain.Experiment{
				ID:        uuid.NewString(),
				Name:      name,
				Status:    "active",
				Variants:  variants,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := e.Repo.InsertExperiment(ctx, exp); err != nil {
				return nil, err
			}
		} else {
			exp.Status = "active"
			exp.Variants = variants
			exp.UpdatedAt = now
			if err := e.Repo.UpdateExperiment(ctx, exp); err != nil {
				return nil, err
			}
		}
		delete(byName, name)
		out = append(out, exp)
	}

	for _, orphan := range byName {
		if orphan.Status == "paused" {
			continue
		}
		orphan.Status = "paused"
		orphan.UpdatedAt = now
		if err := e.Repo.UpdateExperiment(ctx, orphan); err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// RecomputeExperiment rebuilds an experiment's per-variant rollups from
// proposal and ledger history. The cached rows are dropped and rewritten
// in one transaction.
func (e Engine) RecomputeExperiment(ctx context.Context, actorID, name string) ([]domain.ExperimentResult, error) {
	exp, err := e.Repo.GetExperimentByName(ctx, name)
	if err != nil {
		return nil, err
	}
	now := e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := e.Repo.ResetExperimentResultsTx(ctx, tx, exp.ID); err != nil {
		return nil, err
	}
	for _, v := range exp.Variants {
		impressions, conversions, revenue, err := e.Repo.VariantOutcomeTx(ctx, tx, v.ID)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", v.ID, err)
		}
		if err := e.Repo.BumpExperimentResultTx(ctx, tx, exp.ID, v.ID, impressions, conversions, revenue, now); err != nil {
			return nil, err
		}
	}
	err = e.Events.Append(ctx, tx, "experiment.recomputed", "experiment", exp.ID, actorID, events.EventPayload{
		"name": exp.Name,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, conflict("experiment", exp.ID, err)
	}
	return e.Repo.ListExperimentResults(ctx, exp.ID)
}

// ExperimentReport pairs an experiment with its current rollups.
type ExperimentReport struct {
	Experiment domain.Experiment         `json:"experiment"`
	Results    []domain.ExperimentResult `json:"results"`
}

func (e Engine) ExperimentReport(ctx context.Context, name string) (ExperimentReport, error) {
	exp, err := e.Repo.GetExperimentByName(ctx, name)
	if err != nil {
		return ExperimentReport{}, err
	}
	results, err := e.Repo.ListExperimentResults(ctx, exp.ID)
	if err != nil {
		return ExperimentReport{}, err
	}
	return ExperimentReport{Experiment: exp, Results: results}, nil
}
