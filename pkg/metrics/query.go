package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// StepStats aggregates executions of one step across all applications.
type StepStats struct {
	Step        string  `json:"step"`
	Total       float64 `json:"total"`
	SuccessRate float64 `json:"success_rate"`
}

// QueryService provides methods to query underwriter metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// vectorByLabel runs an instant query and indexes the result by one label.
func (q *QueryService) vectorByLabel(ctx context.Context, query string, label model.LabelName) (map[string]float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query %q: %w", query, err)
	}

	out := make(map[string]float64)
	vector, ok := result.(model.Vector)
	if !ok {
		return out, nil
	}
	for _, sample := range vector {
		out[string(sample.Metric[label])] = float64(sample.Value)
	}
	return out, nil
}

// StepSuccessRate returns per-step execution totals and success rates.
func (q *QueryService) StepSuccessRate(ctx context.Context) (map[string]*StepStats, error) {
	totals, err := q.vectorByLabel(ctx, fmt.Sprintf(`sum by (step) (%s)`, MetricSteps), "step")
	if err != nil {
		return nil, err
	}
	successes, err := q.vectorByLabel(ctx, fmt.Sprintf(`sum by (step) (%s{success="true"})`, MetricSteps), "step")
	if err != nil {
		return nil, err
	}

	stats := make(map[string]*StepStats, len(totals))
	for step, total := range totals {
		s := &StepStats{Step: step, Total: total}
		if total > 0 {
			s.SuccessRate = successes[step] / total
		}
		stats[step] = s
	}
	return stats, nil
}

// ApplicationsByStatus returns finished application counts per terminal status.
func (q *QueryService) ApplicationsByStatus(ctx context.Context) (map[string]float64, error) {
	return q.vectorByLabel(ctx, fmt.Sprintf(`sum by (status) (%s)`, MetricApplications), "status")
}

// RouterFallbacks returns LLM routing fallbacks per reason.
func (q *QueryService) RouterFallbacks(ctx context.Context) (map[string]float64, error) {
	return q.vectorByLabel(ctx, fmt.Sprintf(`sum by (reason) (%s)`, MetricRouterFallbacks), "reason")
}
