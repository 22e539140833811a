package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/talefeed/talefeed/internal/models"
)

// ProgressQueueRepository persists progress saves awaiting retry so the
// queue survives process restarts
type ProgressQueueRepository struct {
	store *Store
}

// NewProgressQueueRepository creates a new progress queue repository
func NewProgressQueueRepository(store *Store) *ProgressQueueRepository {
	return &ProgressQueueRepository{store: store}
}

// Enqueue inserts a new queue entry
func (r *ProgressQueueRepository) Enqueue(ctx context.Context, entry *models.QueuedProgress) error {
	if entry.QueuedAt.IsZero() {
		entry.QueuedAt = time.Now().UTC()
	}
	result := r.store.WithContext(ctx).Create(entry)
	if result.Error != nil {
		return MapGormError(result.Error)
	}
	return nil
}

// List returns all queued entries oldest first
func (r *ProgressQueueRepository) List(ctx context.Context) ([]*models.QueuedProgress, error) {
	var entries []*models.QueuedProgress
	result := r.store.WithContext(ctx).
		Order("queued_at ASC, id ASC").
		Find(&entries)
	if result.Error != nil {
		return nil, MapGormError(result.Error)
	}
	return entries, nil
}

// DeleteForTrackNearPosition removes queued entries for the same track whose
// position lies within window seconds of the given position. Used to replace
// near-duplicate saves instead of growing the queue.
func (r *ProgressQueueRepository) DeleteForTrackNearPosition(ctx context.Context, trackID string, position, window int64) error {
	result := r.store.WithContext(ctx).
		Where("track_id = ? AND position BETWEEN ? AND ?", trackID, position-window, position+window).
		Delete(&models.QueuedProgress{})
	if result.Error != nil {
		return MapGormError(result.Error)
	}
	return nil
}

// TrimToNewest keeps only the newest keep entries, deleting the rest
func (r *ProgressQueueRepository) TrimToNewest(ctx context.Context, keep int) error {
	subQuery := r.store.WithContext(ctx).
		Model(&models.QueuedProgress{}).
		Select("id").
		Order("queued_at DESC, id DESC").
		Limit(keep)

	result := r.store.WithContext(ctx).
		Where("id NOT IN (?)", subQuery).
		Delete(&models.QueuedProgress{})
	if result.Error != nil {
		return MapGormError(result.Error)
	}
	return nil
}

// Delete removes a single queue entry by id
func (r *ProgressQueueRepository) Delete(ctx context.Context, id uint) error {
	result := r.store.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.QueuedProgress{})
	if result.Error != nil {
		return MapGormError(result.Error)
	}
	return nil
}

// IncrementAttempts bumps the retry counter for a queue entry
func (r *ProgressQueueRepository) IncrementAttempts(ctx context.Context, id uint) error {
	result := r.store.WithContext(ctx).
		Model(&models.QueuedProgress{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1"))
	if result.Error != nil {
		return MapGormError(result.Error)
	}
	return nil
}

// Count returns the number of queued entries
func (r *ProgressQueueRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	result := r.store.WithContext(ctx).
		Model(&models.QueuedProgress{}).
		Count(&count)
	if result.Error != nil {
		return 0, MapGormError(result.Error)
	}
	return count, nil
}
