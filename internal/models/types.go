package models

// TrackType identifies what kind of media a track is
type TrackType string

// Track type constants
const (
	// TrackTypeAudio is regular recorded audio
	TrackTypeAudio TrackType = "audio"
	// TrackTypeTTS is synthesized speech with one or more voice renditions
	TrackTypeTTS TrackType = "tts"
)

// IsValid checks if the track type is a known value
func (t TrackType) IsValid() bool {
	return t == TrackTypeAudio || t == TrackTypeTTS
}

// String returns the string representation of the track type
func (t TrackType) String() string {
	return string(t)
}
