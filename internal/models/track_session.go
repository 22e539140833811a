package models

import (
	"sync"
	"time"
)

// SessionSchemaVersion is bumped whenever the serialized TrackSession
// layout changes, so older persisted sessions can be detected and dropped.
const SessionSchemaVersion = 1

// TrackSession is the engine's working state for the currently loaded item.
// At most one session is live (attached to a streaming instance) at a time.
type TrackSession struct {
	SchemaVersion  int       `json:"schema_version"`
	TrackID        string    `json:"track_id"`
	Voice          string    `json:"voice,omitempty"` // set only for tts tracks
	TrackType      TrackType `json:"track_type"`
	AlbumID        string    `json:"album_id,omitempty"`
	ContentVersion int64     `json:"content_version"` // cache-bust token on stream URLs
	Title          string    `json:"title"`
	Album          string    `json:"album"`
	CoverArtPath   string    `json:"cover_art_path"`
	UpdatedAt      time.Time `json:"updated_at"`
	mu             sync.RWMutex
}

// NewTrackSession creates a session for a track at the current schema version
func NewTrackSession(trackID string, trackType TrackType) *TrackSession {
	return &TrackSession{
		SchemaVersion: SessionSchemaVersion,
		TrackID:       trackID,
		TrackType:     trackType,
		UpdatedAt:     time.Now().UTC(),
	}
}

// GetTrackID returns the track identifier (thread-safe)
func (s *TrackSession) GetTrackID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TrackID
}

// GetVoice returns the resolved voice, empty for non-tts tracks (thread-safe)
func (s *TrackSession) GetVoice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Voice
}

// SetVoice sets the resolved voice (thread-safe)
func (s *TrackSession) SetVoice(voice string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Voice = voice
	s.UpdatedAt = time.Now().UTC()
}

// GetTrackType returns the track type (thread-safe)
func (s *TrackSession) GetTrackType() TrackType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TrackType
}

// GetAlbumID returns the album identifier, empty when unknown (thread-safe)
func (s *TrackSession) GetAlbumID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AlbumID
}

// GetContentVersion returns the cache-bust token (thread-safe)
func (s *TrackSession) GetContentVersion() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ContentVersion
}

// SetContentVersion sets the cache-bust token (thread-safe)
func (s *TrackSession) SetContentVersion(version int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ContentVersion = version
	s.UpdatedAt = time.Now().UTC()
}

// SetDisplayMetadata sets title, album and cover art path (thread-safe)
func (s *TrackSession) SetDisplayMetadata(title, album, coverArtPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Title = title
	s.Album = album
	s.CoverArtPath = coverArtPath
	s.UpdatedAt = time.Now().UTC()
}

// SetAlbumID sets the album identifier used for access checks (thread-safe)
func (s *TrackSession) SetAlbumID(albumID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AlbumID = albumID
	s.UpdatedAt = time.Now().UTC()
}

// Snapshot returns a copy of the session safe to serialize or hand to callers
func (s *TrackSession) Snapshot() TrackSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return TrackSession{
		SchemaVersion:  s.SchemaVersion,
		TrackID:        s.TrackID,
		Voice:          s.Voice,
		TrackType:      s.TrackType,
		AlbumID:        s.AlbumID,
		ContentVersion: s.ContentVersion,
		Title:          s.Title,
		Album:          s.Album,
		CoverArtPath:   s.CoverArtPath,
		UpdatedAt:      s.UpdatedAt,
	}
}
