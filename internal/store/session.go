package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/talefeed/talefeed/internal/models"
)

// SessionRepository persists the current TrackSession as a single
// schema-versioned row. This is the one typed boundary through which
// session state is serialized and restored.
type SessionRepository struct {
	store *Store
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(store *Store) *SessionRepository {
	return &SessionRepository{store: store}
}

// Save serializes and upserts the current session snapshot
func (r *SessionRepository) Save(ctx context.Context, snapshot models.TrackSession) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	record := models.SessionRecord{
		Key:       models.CurrentSessionKey,
		Payload:   string(payload),
		UpdatedAt: time.Now().UTC(),
	}

	result := r.store.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
		}).
		Create(&record)
	if result.Error != nil {
		return MapGormError(result.Error)
	}
	return nil
}

// Load restores the persisted session. Returns ErrNotFound when no session
// has been saved and ErrSchemaVersion when the stored payload predates the
// current schema.
func (r *SessionRepository) Load(ctx context.Context) (*models.TrackSession, error) {
	var record models.SessionRecord
	result := r.store.WithContext(ctx).
		Where("key = ?", models.CurrentSessionKey).
		First(&record)
	if result.Error != nil {
		return nil, MapGormError(result.Error)
	}

	var session models.TrackSession
	if err := json.Unmarshal([]byte(record.Payload), &session); err != nil {
		return nil, fmt.Errorf("failed to deserialize session: %w", err)
	}

	if session.SchemaVersion != models.SessionSchemaVersion {
		return nil, fmt.Errorf("%w: stored %d, current %d",
			ErrSchemaVersion, session.SchemaVersion, models.SessionSchemaVersion)
	}

	return &session, nil
}

// Clear removes the persisted session (close-player action)
func (r *SessionRepository) Clear(ctx context.Context) error {
	result := r.store.WithContext(ctx).
		Where("key = ?", models.CurrentSessionKey).
		Delete(&models.SessionRecord{})
	if result.Error != nil {
		return MapGormError(result.Error)
	}
	return nil
}
