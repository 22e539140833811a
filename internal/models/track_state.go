package models

import "time"

// TrackState is the per-track player state blob kept in the local store,
// partitioned by track id so concurrent tracks never clobber each other.
type TrackState struct {
	TrackID        string    `json:"track_id" gorm:"type:text;primaryKey;column:track_id"`
	Position       float64   `json:"position" gorm:"type:real;not null;default:0;column:position"`
	Volume         float64   `json:"volume" gorm:"type:real;not null;default:1;column:volume"`
	Muted          bool      `json:"muted" gorm:"type:integer;not null;default:0;column:muted"`
	Rate           float64   `json:"rate" gorm:"type:real;not null;default:1;column:rate"`
	Playing        bool      `json:"playing" gorm:"type:integer;not null;default:0;column:playing"`
	ContentVersion int64     `json:"content_version" gorm:"type:integer;not null;default:0;column:content_version"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"type:datetime;column:updated_at"`
}

// SessionRecord holds the serialized current TrackSession. A single row
// (fixed key) typed boundary instead of ad hoc string-keyed storage.
type SessionRecord struct {
	Key       string    `gorm:"type:text;primaryKey;column:key"`
	Payload   string    `gorm:"type:text;not null;column:payload"`
	UpdatedAt time.Time `gorm:"type:datetime;column:updated_at"`
}

// CurrentSessionKey is the fixed key of the single current-session row
const CurrentSessionKey = "current"
