package player

import (
	"context"
	"sync"
	"time"

	"github.com/talefeed/talefeed/internal/logger"
	"github.com/talefeed/talefeed/internal/models"
)

const (
	segmentPollInterval = 2 * time.Second
	// segmentPollStaleAfter tears the poller down when progress stops moving
	segmentPollStaleAfter = 30 * time.Second
)

// segmentProgressPoller tracks server-side transcoding progress for content
// requested before it is fully prepared. Ephemeral UI-only state: torn down
// on completion, error, or staleness.
type segmentProgressPoller struct {
	trackID    string
	voice      string
	fetch      func(ctx context.Context, trackID, voice string) (*models.SegmentProgress, error)
	onUpdate   func(models.SegmentProgress)
	onComplete func()

	stopChan chan struct{}
	stopOnce sync.Once
}

func newSegmentProgressPoller(
	trackID, voice string,
	fetch func(ctx context.Context, trackID, voice string) (*models.SegmentProgress, error),
	onUpdate func(models.SegmentProgress),
	onComplete func(),
) *segmentProgressPoller {
	return &segmentProgressPoller{
		trackID:    trackID,
		voice:      voice,
		fetch:      fetch,
		onUpdate:   onUpdate,
		onComplete: onComplete,
		stopChan:   make(chan struct{}),
	}
}

// run polls until completion, error, staleness, or Stop
func (p *segmentProgressPoller) run() {
	ticker := time.NewTicker(segmentPollInterval)
	defer ticker.Stop()

	lastChange := time.Now()
	lastPercentage := -1.0

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), segmentPollInterval)
			progress, err := p.fetch(ctx, p.trackID, p.voice)
			cancel()

			if err != nil {
				logger.Log.Debug().
					Err(err).
					Str("track_id", p.trackID).
					Msg("Segment progress poll failed")
				return
			}

			if progress.Percentage != lastPercentage {
				lastPercentage = progress.Percentage
				lastChange = time.Now()
			}
			if time.Since(lastChange) > segmentPollStaleAfter {
				logger.Log.Debug().
					Str("track_id", p.trackID).
					Msg("Segment progress stale, stopping poll")
				return
			}

			p.onUpdate(*progress)

			switch progress.Status {
			case "completed":
				p.onComplete()
				return
			case "error":
				return
			}
		}
	}
}

// Stop tears the poller down. Safe to call more than once.
func (p *segmentProgressPoller) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
}
