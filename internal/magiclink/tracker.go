package magiclink

import (
	"context"
	"fmt"
	"time"

	"sourcedesk.io/internal/obs"
)

// Tracker records successful link uses.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker binds a tracker to a store, usually the one of the current transaction.
func NewTracker(store Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: store, now: now}
}

// OnSuccess records one use of linkID. It must run after the guarded operation
// and before its result is released; an error means the result must be dropped.
func (t *Tracker) OnSuccess(ctx context.Context, linkID string) (Link, error) {
	link, err := t.store.RecordUse(ctx, linkID, t.now().UTC())
	if err != nil {
		return Link{}, fmt.Errorf("record use: %w", err)
	}
	obs.ObserveUse()
	return link, nil
}
