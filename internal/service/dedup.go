package service

import (
	"context"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
)

// DedupCheck is the suppressor's answer. Err is set when the lookup failed; Duplicate is
// then always false so the view is still recorded.
type DedupCheck struct {
	Duplicate bool
	Err       error
}

// DuplicateSuppressor flags a view when the same (subject, session) already has an event
// newer than now-window.
type DuplicateSuppressor struct {
	store  domain.ViewStore
	window time.Duration
	guard  *AdvisoryGuard
}

func NewDuplicateSuppressor(store domain.ViewStore, window time.Duration, guard *AdvisoryGuard) *DuplicateSuppressor {
	return &DuplicateSuppressor{store: store, window: window, guard: guard}
}

func (d *DuplicateSuppressor) IsDuplicate(ctx context.Context, subjectID, sessionID string, now time.Time) DedupCheck {
	dup, err := d.guard.Do(func() (bool, error) {
		return d.store.HasSessionViewSince(ctx, subjectID, sessionID, now.Add(-d.window))
	})
	if err != nil {
		return DedupCheck{Duplicate: false, Err: err}
	}
	return DedupCheck{Duplicate: dup}
}
