package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"underwriter/pkg/metrics"
	"underwriter/pkg/persistence"
)

const statusQueryTimeout = 10 * time.Second

type applicationStatus struct {
	Record *persistence.ApplicationRecord `json:"record"`
	Steps  []persistence.StepRecord       `json:"steps"`
}

type pipelineStatus struct {
	Applications    map[string]float64            `json:"applications"`
	Steps           map[string]*metrics.StepStats `json:"steps"`
	RouterFallbacks map[string]float64            `json:"router_fallbacks"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status [application-id]",
		Short: "Show a stored application, or pipeline totals from Prometheus",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), statusQueryTimeout)
			defer cancel()

			var view any
			if len(args) == 1 {
				if !cfg.Storage.Enabled {
					return errors.New("storage is disabled; enable storage to look up applications")
				}
				view, err = storedApplication(ctx, cfg.Storage.DatabasePath, args[0])
			} else {
				if cfg.Metrics.PrometheusURL == "" {
					return errors.New("metrics.prometheus_url is not configured")
				}
				view, err = pipelineTotals(ctx, cfg.Metrics.PrometheusURL)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		},
	}
}

func storedApplication(ctx context.Context, dbPath, applicationID string) (*applicationStatus, error) {
	store, err := persistence.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	rec, err := store.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	steps, err := store.ListSteps(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return &applicationStatus{Record: rec, Steps: steps}, nil
}

func pipelineTotals(ctx context.Context, prometheusURL string) (*pipelineStatus, error) {
	qs, err := metrics.NewQueryService(prometheusURL)
	if err != nil {
		return nil, err
	}
	apps, err := qs.ApplicationsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query applications: %w", err)
	}
	steps, err := qs.StepSuccessRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	fallbacks, err := qs.RouterFallbacks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query router fallbacks: %w", err)
	}
	return &pipelineStatus{Applications: apps, Steps: steps, RouterFallbacks: fallbacks}, nil
}
