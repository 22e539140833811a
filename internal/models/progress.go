package models

import "time"

// completedThreshold marks a track finished once 90% of it has been played
const completedThreshold = 0.9

// ProgressRecord is the server-persisted resume point for a (track, voice) pair.
// Progress is voice-specific for tts tracks.
type ProgressRecord struct {
	TrackID      string `json:"track_id"`
	VoiceID      string `json:"voice_id,omitempty"`
	Position     int64  `json:"position"` // seconds, integer-floored
	Duration     int64  `json:"duration"` // seconds
	Completed    bool   `json:"completed"`
	WordPosition *int   `json:"word_position,omitempty"` // word-level sync for read-along
	IsPlaying    bool   `json:"is_playing"`
}

// NewProgressRecord builds a record with the Completed flag derived from
// position and duration
func NewProgressRecord(trackID, voiceID string, position, duration float64) ProgressRecord {
	pos := int64(position)
	dur := int64(duration)
	return ProgressRecord{
		TrackID:   trackID,
		VoiceID:   voiceID,
		Position:  pos,
		Duration:  dur,
		Completed: IsCompleted(position, duration),
	}
}

// IsCompleted reports whether a position counts as having finished the track.
// A non-positive position never marks completion.
func IsCompleted(position, duration float64) bool {
	if duration <= 0 || position <= 0 {
		return false
	}
	return position >= completedThreshold*duration
}

// QueuedProgress is a progress record waiting for retry after a failed or
// offline save. Persisted locally so the queue survives restarts.
type QueuedProgress struct {
	ID       uint      `json:"id" gorm:"primaryKey;autoIncrement;column:id"`
	TrackID  string    `json:"track_id" gorm:"type:text;not null;index;column:track_id"`
	VoiceID  string    `json:"voice_id" gorm:"type:text;column:voice_id"`
	Position int64     `json:"position" gorm:"type:integer;not null;column:position"`
	Duration int64     `json:"duration" gorm:"type:integer;not null;column:duration"`
	Attempts int       `json:"attempts" gorm:"type:integer;not null;default:0;column:attempts"`
	QueuedAt time.Time `json:"queued_at" gorm:"type:datetime;not null;column:queued_at"`
}

// Record converts a queue entry back to the wire-format progress record
func (q *QueuedProgress) Record() ProgressRecord {
	return ProgressRecord{
		TrackID:   q.TrackID,
		VoiceID:   q.VoiceID,
		Position:  q.Position,
		Duration:  q.Duration,
		Completed: IsCompleted(float64(q.Position), float64(q.Duration)),
	}
}
