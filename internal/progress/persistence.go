// Package progress persists playback position to the backend on a cadence,
// queues failed saves locally, and drains the queue when connectivity returns.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/talefeed/talefeed/internal/logger"
	"github.com/talefeed/talefeed/internal/models"
	"github.com/talefeed/talefeed/internal/store"
)

const (
	// queueCapacity bounds the retry queue; older entries are dropped first
	queueCapacity = 10
	// dedupeWindowSeconds collapses queued saves for the same track within
	// this position proximity
	dedupeWindowSeconds = 5
	// maxRetryAttempts caps per-entry queue retries before silent drop
	maxRetryAttempts = 3
	// forceDriftSeconds bypasses the rate limit once position has drifted
	// this far from the last confirmed write
	forceDriftSeconds = 5.0
)

// saver is the subset of the backend client progress persistence needs
type saver interface {
	SaveProgress(ctx context.Context, record models.ProgressRecord) error
	LoadProgress(ctx context.Context, trackID, voice string) (*models.ProgressRecord, error)
	SaveProgressBeacon(record models.ProgressRecord)
}

// Snapshot is the engine-owned playback state a sync is taken from
type Snapshot struct {
	TrackID      string
	VoiceID      string
	Position     float64
	Duration     float64
	Playing      bool
	SeekInFlight bool
}

// Persistence serializes playback position to the backend and manages the
// local retry queue. Persistence failures are never surfaced to the user.
type Persistence struct {
	client       saver
	queue        *store.ProgressQueueRepository
	online       func() bool
	syncInterval time.Duration

	paused         bool
	lastSyncAt     time.Time
	lastSyncedPos  float64
	lastSyncedItem string
	mu             sync.Mutex
}

// NewPersistence creates a progress persistence component. online reports
// backend reachability; nil means always online.
func NewPersistence(client saver, queue *store.ProgressQueueRepository, online func() bool, syncInterval time.Duration) *Persistence {
	if online == nil {
		online = func() bool { return true }
	}
	return &Persistence{
		client:       client,
		queue:        queue,
		online:       online,
		syncInterval: syncInterval,
	}
}

// Pause suspends syncs (used while the engine reinitializes a stream)
func (p *Persistence) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume re-enables syncs
func (p *Persistence) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

// SyncProgress writes the snapshot's position to the backend. No-ops while
// paused, without an active track or known duration, or while a seek is in
// flight. Rate-limited to one write per sync interval unless forced or the
// position drifted past the drift threshold. Failures enqueue for retry.
func (p *Persistence) SyncProgress(ctx context.Context, snap Snapshot, force bool) error {
	p.mu.Lock()
	if p.paused || snap.TrackID == "" || snap.Duration <= 0 || snap.SeekInFlight {
		p.mu.Unlock()
		return nil
	}

	drift := snap.Position - p.lastSyncedPos
	if drift < 0 {
		drift = -drift
	}
	sameItem := p.lastSyncedItem == snap.TrackID+"|"+snap.VoiceID
	if !force && sameItem && time.Since(p.lastSyncAt) < p.syncInterval && drift < forceDriftSeconds {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	record := models.NewProgressRecord(snap.TrackID, snap.VoiceID, snap.Position, snap.Duration)
	record.IsPlaying = snap.Playing

	if !p.online() {
		return p.enqueue(ctx, record)
	}

	if err := p.client.SaveProgress(ctx, record); err != nil {
		logger.Log.Debug().
			Err(err).
			Str("track_id", snap.TrackID).
			Msg("Progress save failed, queuing for retry")
		return p.enqueue(ctx, record)
	}

	p.mu.Lock()
	p.lastSyncAt = time.Now()
	p.lastSyncedPos = snap.Position
	p.lastSyncedItem = snap.TrackID + "|" + snap.VoiceID
	p.mu.Unlock()

	return nil
}

// enqueue stores a failed save for later retry, collapsing near-duplicate
// entries for the same track and trimming the queue to its capacity
func (p *Persistence) enqueue(ctx context.Context, record models.ProgressRecord) error {
	if err := p.queue.DeleteForTrackNearPosition(ctx, record.TrackID, record.Position, dedupeWindowSeconds); err != nil {
		return err
	}

	entry := &models.QueuedProgress{
		TrackID:  record.TrackID,
		VoiceID:  record.VoiceID,
		Position: record.Position,
		Duration: record.Duration,
	}
	if err := p.queue.Enqueue(ctx, entry); err != nil {
		return err
	}

	return p.queue.TrimToNewest(ctx, queueCapacity)
}

// ProcessQueue drains queued saves. Entries that keep failing past the retry
// cap are dropped silently.
func (p *Persistence) ProcessQueue(ctx context.Context) error {
	entries, err := p.queue.List(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if err := p.client.SaveProgress(ctx, entry.Record()); err != nil {
			if entry.Attempts+1 >= maxRetryAttempts {
				logger.Log.Debug().
					Str("track_id", entry.TrackID).
					Int("attempts", entry.Attempts+1).
					Msg("Dropping progress save after retry cap")
				if err := p.queue.Delete(ctx, entry.ID); err != nil {
					return err
				}
				continue
			}
			if err := p.queue.IncrementAttempts(ctx, entry.ID); err != nil {
				return err
			}
			continue
		}
		if err := p.queue.Delete(ctx, entry.ID); err != nil {
			return err
		}
	}

	return nil
}

// LoadProgress fetches the saved resume point. Returns nil on any failure;
// callers treat nil as start-from-zero.
func (p *Persistence) LoadProgress(ctx context.Context, trackID, voice string) *models.ProgressRecord {
	record, err := p.client.LoadProgress(ctx, trackID, voice)
	if err != nil {
		return nil
	}
	return record
}

// Flush fires a one-way best-effort save. Used on shutdown when the process
// may terminate before a normal request completes.
func (p *Persistence) Flush(snap Snapshot) {
	if snap.TrackID == "" || snap.Duration <= 0 {
		return
	}
	record := models.NewProgressRecord(snap.TrackID, snap.VoiceID, snap.Position, snap.Duration)
	record.IsPlaying = snap.Playing
	p.client.SaveProgressBeacon(record)
}
