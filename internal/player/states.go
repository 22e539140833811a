// Package player implements the streaming playback engine: the single
// authority over what the media session is playing, at what position, and
// how failures are recovered.
package player

import "errors"

// PlaybackState represents the current state of the playback engine
type PlaybackState string

// Playback state constants
const (
	StateIdle            PlaybackState = "idle"             // no session loaded
	StateResolving       PlaybackState = "resolving"        // parallel metadata/progress/access fetch
	StateOpening         PlaybackState = "opening"          // adaptive manifest load
	StatePlaying         PlaybackState = "playing"          // position advancing
	StatePaused          PlaybackState = "paused"           // session live, position held
	StateEnded           PlaybackState = "ended"            // playback reached the end
	StateErrorRecovering PlaybackState = "error_recovering" // bounded retry in progress
)

// Common errors
var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// String returns the string representation of the playback state
func (s PlaybackState) String() string {
	return string(s)
}

// IsValid checks if the playback state is a known valid value
func (s PlaybackState) IsValid() bool {
	switch s {
	case StateIdle, StateResolving, StateOpening, StatePlaying, StatePaused, StateEnded, StateErrorRecovering:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a transition from current state to newState is valid
func (s PlaybackState) CanTransitionTo(newState PlaybackState) bool {
	switch s {
	case StateIdle:
		return newState == StateResolving
	case StateResolving:
		// Resolution can open a stream, abort to idle (denied access,
		// failed open), or supersede into a fresh resolution
		return newState == StateOpening || newState == StateIdle || newState == StateResolving
	case StateOpening:
		return newState == StatePlaying || newState == StatePaused ||
			newState == StateErrorRecovering || newState == StateIdle
	case StatePlaying:
		return newState == StatePaused || newState == StateEnded ||
			newState == StateErrorRecovering || newState == StateResolving || newState == StateIdle
	case StatePaused:
		return newState == StatePlaying || newState == StateResolving ||
			newState == StateEnded || newState == StateIdle
	case StateEnded:
		return newState == StateResolving || newState == StatePlaying || newState == StateIdle
	case StateErrorRecovering:
		// Recovery either resumes playback or gives up to idle
		return newState == StatePlaying || newState == StatePaused ||
			newState == StateOpening || newState == StateIdle
	default:
		return false
	}
}
