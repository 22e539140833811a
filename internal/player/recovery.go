package player

import (
	"context"
	"time"

	"github.com/talefeed/talefeed/internal/logger"
)

// Recovery configuration constants
const (
	// RetryBackoffBase is the initial backoff for network restarts
	RetryBackoffBase = 1 * time.Second
)

// retryBackoff calculates the exponential restart delay for an attempt:
// 1s, 2s, 4s, 8s, 16s
func retryBackoff(attempt int) time.Duration {
	if attempt <= 1 {
		return RetryBackoffBase
	}
	backoff := RetryBackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}

// handleStreamError routes a fatal stream error to the appropriate recovery
// strategy. Only errors from the current session generation are handled;
// stale errors from a superseded session are ignored.
func (e *Engine) handleStreamError(generation uint64, err error) {
	if !e.isCurrentGeneration(generation) {
		return
	}

	playbackErr := ClassifyError(err)

	logger.Log.Warn().
		Err(err).
		Str("error_type", playbackErr.Type.String()).
		Str("severity", playbackErr.Severity.String()).
		Msg("Stream error")

	e.events.Publish(Event{Type: EventPlaybackError, Payload: map[string]string{
		"error_type": playbackErr.Type.String(),
		"severity":   playbackErr.Severity.String(),
		"message":    playbackErr.Message,
	}})

	switch playbackErr.Type {
	case ErrorTypeAuthorization:
		// Key/authorization failures are fatal; surface and stop
		e.degradeToIdle()

	case ErrorTypeContentNotReady:
		// Content is mid-transcode; poll generation progress instead of
		// treating the fragment failure as fatal
		e.startSegmentProgressPolling(generation)

	case ErrorTypeMedia:
		e.recoverMedia(generation)

	case ErrorTypeNetwork:
		e.recoverNetwork(generation)

	default:
		e.degradeToIdle()
	}
}

// recoverMedia invokes the session's media-error-recovery primitive, counting
// against the retry budget
func (e *Engine) recoverMedia(generation uint64) {
	attempt := e.bumpRetry()
	if attempt > e.cfg.RetryBudget {
		e.fullReinitialize(generation, attempt)
		return
	}

	e.mu.Lock()
	stream := e.stream
	clock := e.clock
	e.mu.Unlock()
	if stream == nil || clock == nil {
		return
	}

	e.setState(StateErrorRecovering)

	logger.Log.Info().
		Int("attempt", attempt).
		Msg("Attempting media error recovery")

	stream.RecoverMedia(clock.Position())
	stream.StartFetchLoop(clock.Position)
	go e.watchStream(generation, stream)

	e.restoreStateAfterRecovery()
}

// recoverNetwork restarts segment loading after an exponential backoff
func (e *Engine) recoverNetwork(generation uint64) {
	attempt := e.bumpRetry()
	if attempt > e.cfg.RetryBudget {
		e.fullReinitialize(generation, attempt)
		return
	}

	e.setState(StateErrorRecovering)

	backoff := retryBackoff(attempt)
	logger.Log.Info().
		Int("attempt", attempt).
		Dur("backoff", backoff).
		Msg("Restarting segment loading after backoff")

	time.Sleep(backoff)
	if !e.isCurrentGeneration(generation) {
		return
	}

	e.mu.Lock()
	stream := e.stream
	clock := e.clock
	e.mu.Unlock()
	if stream == nil || clock == nil {
		return
	}

	stream.StartFetchLoop(clock.Position)
	go e.watchStream(generation, stream)

	e.restoreStateAfterRecovery()
}

// fullReinitialize destroys the adaptive session and rebuilds it after a
// backoff seeded from the attempt count, restoring position, rate and
// play-state. Reached when the retry budget is exhausted.
func (e *Engine) fullReinitialize(generation uint64, attempt int) {
	if !e.isCurrentGeneration(generation) {
		return
	}

	backoff := retryBackoff(attempt - e.cfg.RetryBudget)
	logger.Log.Warn().
		Int("attempt", attempt).
		Dur("backoff", backoff).
		Msg("Retry budget exhausted, reinitializing stream")

	e.setState(StateErrorRecovering)
	time.Sleep(backoff)
	if !e.isCurrentGeneration(generation) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ManifestTimeout)
	defer cancel()

	if err := e.reinitialize(ctx, false); err != nil {
		logger.Log.Error().Err(err).Msg("Stream reinitialization failed")
		e.degradeToIdle()
		return
	}

	e.resetRetry()
}

// restoreStateAfterRecovery returns from ErrorRecovering to the play-state
// the clock is actually in
func (e *Engine) restoreStateAfterRecovery() {
	e.mu.Lock()
	clock := e.clock
	e.mu.Unlock()
	if clock == nil {
		return
	}
	if clock.Playing() {
		e.setState(StatePlaying)
	} else {
		e.setState(StatePaused)
	}
}
