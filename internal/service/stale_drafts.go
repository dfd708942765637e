package service

import (
	"context"
	"fmt"
	"time"

	"sugu-checkout/internal/models"
	"sugu-checkout/internal/store"
	"sugu-checkout/internal/util"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultStaleDays is the draft age reported when none is configured.
const DefaultStaleDays = 7

// StaleDraftReporter lists abandoned DRAFT orders. It never mutates them.
type StaleDraftReporter struct {
	repo store.Repository
	now  func() time.Time
}

// NewStaleDraftReporter creates a new stale draft reporter
func NewStaleDraftReporter(repo store.Repository) *StaleDraftReporter {
	return &StaleDraftReporter{repo: repo, now: time.Now}
}

// Report returns DRAFT orders older than days, oldest first, with their age
// in whole days.
func (r *StaleDraftReporter) Report(ctx context.Context, days int) ([]models.StaleDraft, error) {
	ctx, span := util.StartSpan(ctx, "StaleDraftReporter.Report", attribute.Int("days", days))
	defer span.End()

	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", models.ErrValidation)
	}

	now := r.now()
	drafts, err := r.repo.ListDraftsOlderThan(ctx, now.Add(-time.Duration(days)*24*time.Hour))
	if err != nil {
		util.SpanError(span, err)
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	for i := range drafts {
		drafts[i].AgeDays = int(now.Sub(drafts[i].CreatedAt) / (24 * time.Hour))
	}
	if drafts == nil {
		drafts = []models.StaleDraft{}
	}
	return drafts, nil
}
