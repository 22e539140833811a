package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"github.com/talefeed/talefeed/internal/models"
)

// TrackStateRepository persists per-track player state, keyed by track id
type TrackStateRepository struct {
	store *Store
}

// NewTrackStateRepository creates a new track state repository
func NewTrackStateRepository(store *Store) *TrackStateRepository {
	return &TrackStateRepository{store: store}
}

// Save upserts the state for a track
func (r *TrackStateRepository) Save(ctx context.Context, state *models.TrackState) error {
	state.UpdatedAt = time.Now().UTC()

	result := r.store.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "track_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"position", "volume", "muted", "rate", "playing", "content_version", "updated_at",
			}),
		}).
		Create(state)
	if result.Error != nil {
		return MapGormError(result.Error)
	}
	return nil
}

// Get returns the state for a track, ErrNotFound when absent
func (r *TrackStateRepository) Get(ctx context.Context, trackID string) (*models.TrackState, error) {
	var state models.TrackState
	result := r.store.WithContext(ctx).
		Where("track_id = ?", trackID).
		First(&state)
	if result.Error != nil {
		return nil, MapGormError(result.Error)
	}
	return &state, nil
}

// Delete removes the state for a track
func (r *TrackStateRepository) Delete(ctx context.Context, trackID string) error {
	result := r.store.WithContext(ctx).
		Where("track_id = ?", trackID).
		Delete(&models.TrackState{})
	if result.Error != nil {
		return MapGormError(result.Error)
	}
	return nil
}
