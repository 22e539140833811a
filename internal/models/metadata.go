package models

// VoiceInfo describes the available tts voice renditions for a track
type VoiceInfo struct {
	AvailableVoices []string `json:"available_voices"`
	CurrentVoice    string   `json:"current_voice"`
}

// HasVoice reports whether the named voice is one of the available renditions
func (v *VoiceInfo) HasVoice(voice string) bool {
	if v == nil {
		return false
	}
	for _, candidate := range v.AvailableVoices {
		if candidate == voice {
			return true
		}
	}
	return false
}

// TrackMetadata is the backend's metadata response for a track or a
// (track, voice) pair
type TrackMetadata struct {
	TrackID        string     `json:"track_id"`
	Title          string     `json:"title"`
	Album          string     `json:"album"`
	CoverArtPath   string     `json:"cover_art_path"`
	ContentVersion int64      `json:"content_version"`
	Duration       float64    `json:"duration"`
	VoiceInfo      *VoiceInfo `json:"voice_info,omitempty"` // present for tts tracks
}

// SegmentProgress is the server-side transcoding status for content
// requested before it is fully prepared. Ephemeral, never persisted.
type SegmentProgress struct {
	Status     string                    `json:"status"`
	Percentage float64                   `json:"percentage"`
	Current    int                       `json:"current"`
	Total      int                       `json:"total"`
	Formatted  SegmentProgressFormatting `json:"formatted"`
}

// SegmentProgressFormatting carries display strings preformatted by the server
type SegmentProgressFormatting struct {
	Current string `json:"current"`
	Total   string `json:"total"`
}

// DownloadStatus is the backend's render-job status for an offline download
type DownloadStatus struct {
	Status        string  `json:"status"`
	Progress      float64 `json:"progress"`
	QueuePosition int     `json:"queue_position"`
}

// WordTime is the backend's word-index to playback-time lookup result
type WordTime struct {
	Status string  `json:"status"`
	Time   float64 `json:"time"`
}
