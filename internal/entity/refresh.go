package entity

import (
	"fmt"
	"time"

	perrors "github.com/jmgilman/go/errors"
)

type RefreshTrigger string

const (
	RefreshTriggerScheduled RefreshTrigger = "scheduled"
	RefreshTriggerManual    RefreshTrigger = "manual"
	RefreshTriggerEvent     RefreshTrigger = "event"
)

type RefreshFailure struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

type RefreshReport struct {
	RunID      string           `json:"run_id"`
	Trigger    RefreshTrigger   `json:"trigger"`
	Total      int              `json:"total"`
	Refreshed  int              `json:"refreshed"`
	Skipped    int              `json:"skipped"`
	Failed     []RefreshFailure `json:"failed"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

func (r *RefreshReport) FailedCount() int {
	return len(r.Failed)
}

func (r *RefreshReport) FailedSymbols() []string {
	symbols := make([]string, 0, len(r.Failed))
	for _, failure := range r.Failed {
		symbols = append(symbols, failure.Symbol)
	}

	return symbols
}

// Err returns a PartialBatchFailure error when at least one asset failed.
func (r *RefreshReport) Err() error {
	if r == nil || len(r.Failed) == 0 {
		return nil
	}

	return perrors.WrapWithContext(ErrPartialBatchFailure, ErrPartialBatchFailure.Code(),
		fmt.Sprintf("%d of %d assets failed to refresh", len(r.Failed), r.Total),
		map[string]interface{}{
			"run_id": r.RunID,
			"failed": r.FailedSymbols(),
		})
}
