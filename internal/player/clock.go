package player

import (
	"sync"
	"time"
)

// Playback rate bounds
const (
	MinPlaybackRate = 0.25
	MaxPlaybackRate = 3.0
)

// seekTolerance is the window within which a seek is a no-op
const seekTolerance = 0.1

// playbackClock tracks the playback position of the live session. The
// position advances with the configured rate while playing, clamped to
// [0, duration].
type playbackClock struct {
	position   float64 // seconds, as of lastUpdate
	rate       float64
	playing    bool
	duration   float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// newPlaybackClock creates a stopped clock for a stream of the given duration
func newPlaybackClock(duration float64) *playbackClock {
	return &playbackClock{
		rate:       1.0,
		duration:   duration,
		lastUpdate: time.Now(),
	}
}

// advanceLocked folds elapsed wall time into position (must hold lock)
func (c *playbackClock) advanceLocked() {
	now := time.Now()
	if c.playing {
		c.position += now.Sub(c.lastUpdate).Seconds() * c.rate
		if c.duration > 0 && c.position >= c.duration {
			c.position = c.duration
			c.playing = false
		}
		if c.position < 0 {
			c.position = 0
		}
	}
	c.lastUpdate = now
}

// Position returns the current position in seconds
func (c *playbackClock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()
	return c.position
}

// Duration returns the stream duration in seconds
func (c *playbackClock) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// Play starts position advancement
func (c *playbackClock) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()
	c.playing = true
}

// Pause halts position advancement
func (c *playbackClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()
	c.playing = false
}

// Playing reports whether the clock is advancing
func (c *playbackClock) Playing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()
	return c.playing
}

// Ended reports whether the position has reached the duration
func (c *playbackClock) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()
	return c.duration > 0 && c.position >= c.duration
}

// SeekTo moves the position, clamped to [0, duration]. Positions already
// within the seek tolerance are a no-op; returns the effective position.
func (c *playbackClock) SeekTo(target float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()

	if target < 0 {
		target = 0
	}
	if c.duration > 0 && target > c.duration {
		target = c.duration
	}

	delta := target - c.position
	if delta < 0 {
		delta = -delta
	}
	if delta <= seekTolerance {
		return c.position
	}

	c.position = target
	return c.position
}

// SetRate sets the playback rate, clamped to [MinPlaybackRate, MaxPlaybackRate];
// returns the effective rate
func (c *playbackClock) SetRate(rate float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()

	if rate < MinPlaybackRate {
		rate = MinPlaybackRate
	}
	if rate > MaxPlaybackRate {
		rate = MaxPlaybackRate
	}
	c.rate = rate
	return c.rate
}

// Rate returns the current playback rate
func (c *playbackClock) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}
