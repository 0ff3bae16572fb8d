package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// StageMetrics aggregates guard behavior per stage over a window.
type StageMetrics struct {
	Stage          string `json:"stage"`
	Turns          int64  `json:"turns"`
	Advances       int64  `json:"advances"`
	ForcedAdvances int64  `json:"forced_advances"`
	GuardOverrides int64  `json:"guard_overrides"`
}

// QueryService reads aggregated coach metrics back out of a Prometheus
// server, for operational reporting.
type QueryService struct {
	queryAPI v1.API
}

// NewQueryService connects to a Prometheus server.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client)}, nil
}

// StageReport aggregates turn and transition counts for one stage.
func (q *QueryService) StageReport(ctx context.Context, stage string) (*StageMetrics, error) {
	out := &StageMetrics{Stage: stage}

	turns, err := q.scalar(ctx, fmt.Sprintf(`sum(coach_turns_total{stage=%q})`, stage))
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	out.Turns = turns

	advances, err := q.scalar(ctx, `sum(coach_transitions_total{kind="advance"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query advances: %w", err)
	}
	out.Advances = advances

	forced, err := q.scalar(ctx, `sum(coach_transitions_total{kind="force_advance"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query forced advances: %w", err)
	}
	out.ForcedAdvances = forced

	overrides, err := q.scalar(ctx, fmt.Sprintf(`sum(coach_guard_overrides_total{stage=%q})`, stage))
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	out.GuardOverrides = overrides

	return out, nil
}

// BackwardRejections returns the total count of rejected backward
// proposals.
func (q *QueryService) BackwardRejections(ctx context.Context) (int64, error) {
	return q.scalar(ctx, `sum(coach_backward_proposals_rejected_total)`)
}

func (q *QueryService) scalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
