package detector

import (
	"context"
	"fmt"
	"log"

	"github.com/shaunagostinho/tripdiary/internal/store"
	"github.com/shaunagostinho/tripdiary/internal/trip"
)

// SyncResult summarises one pass over the pending queue.
type SyncResult struct {
	Unauthenticated bool `json:"unauthenticated"`
	Synced          int  `json:"synced"`
	Failed          int  `json:"failed"`
}

// SyncPendingTrips retries every queued trip for the signed-in user. A failed
// insert does not stop the pass; the queue ends up holding exactly the trips
// that failed, in their original order. With nobody signed in it does nothing.
func (d *TripDetector) SyncPendingTrips(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	if d.queue == nil {
		return res, nil
	}
	if d.remote == nil {
		res.Unauthenticated = true
		return res, nil
	}

	user, err := d.remote.CurrentUser(ctx)
	if err != nil {
		return res, fmt.Errorf("detector: sync: %w", err)
	}
	if user == nil {
		res.Unauthenticated = true
		return res, nil
	}

	d.syncMu.Lock()
	defer d.syncMu.Unlock()

	// The queue lock is held only to read and rewrite, so fallbacks and
	// readers are not stuck behind remote inserts.
	d.queueMu.Lock()
	pending, err := d.queue.ReadAll(ctx)
	d.queueMu.Unlock()
	if err != nil {
		return res, fmt.Errorf("detector: sync: %w", err)
	}
	if len(pending) == 0 {
		return res, nil
	}

	var failed []trip.DetectedTrip
	for i, t := range pending {
		if ctx.Err() != nil {
			failed = append(failed, pending[i:]...)
			break
		}
		if err := d.remote.InsertTrip(ctx, user.ID, store.RecordFromTrip(t)); err != nil {
			log.Printf("[detector] sync trip %d/%d: %v", i+1, len(pending), err)
			failed = append(failed, t)
			continue
		}
		res.Synced++
	}
	res.Failed = len(failed)

	// The rewrite must happen even if ctx expired mid-pass.
	if err := d.rewriteQueue(context.WithoutCancel(ctx), len(pending), failed); err != nil {
		return res, fmt.Errorf("detector: sync: rewrite queue: %w", err)
	}
	log.Printf("[detector] sync: %d synced, %d still pending", res.Synced, res.Failed)
	return res, nil
}

// rewriteQueue replaces the first n entries (the ones a sync pass read) with
// failed, keeping anything appended since.
func (d *TripDetector) rewriteQueue(ctx context.Context, n int, failed []trip.DetectedTrip) error {
	d.queueMu.Lock()
	defer d.queueMu.Unlock()

	current, err := d.queue.ReadAll(ctx)
	if err != nil {
		return err
	}
	if len(current) > n {
		failed = append(failed, current[n:]...)
	}
	return d.queue.Replace(ctx, failed)
}

// PendingTrips lists the queued trips.
func (d *TripDetector) PendingTrips(ctx context.Context) ([]trip.DetectedTrip, error) {
	if d.queue == nil {
		return nil, nil
	}
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return d.queue.ReadAll(ctx)
}
