// Package hls implements the client side of an adaptive-streaming session:
// manifest loading, variant selection, and a sliding segment fetch loop.
package hls

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"

	"github.com/talefeed/talefeed/internal/logger"
)

const (
	segmentRetryAttempts = 3
	segmentRetryDelay    = 500 * time.Millisecond
	fetchLoopInterval    = 250 * time.Millisecond
)

// Buffer profiles control how far ahead of the playback position the fetch
// loop keeps segments
const (
	// StandardBufferAhead suits the embedded mini player
	StandardBufferAhead = 3
	// ExtendedBufferAhead suits a dedicated player surface
	ExtendedBufferAhead = 6
)

// SegmentObserver receives one throughput measurement per fetched segment
type SegmentObserver func(bytes int64, elapsed time.Duration)

// segmentRef is one entry of the resolved media playlist
type segmentRef struct {
	uri      string
	duration float64
}

// Session owns one adaptive-streaming connection: the parsed manifest, the
// selected variant, and the background segment fetch loop. Exactly one
// session may be attached to the playback engine at a time; Close must be
// called before opening a successor.
type Session struct {
	manifestURL string
	httpClient  *http.Client
	observer    SegmentObserver
	bufferAhead int

	segments      []segmentRef
	totalDuration float64
	mediaBase     string

	fetchedThrough int // highest contiguous segment index fetched, -1 initially
	errCh          chan error
	stopChan       chan struct{}
	closed         bool
	mu             sync.Mutex
}

// SessionOptions configures Open
type SessionOptions struct {
	HTTPClient  *http.Client
	Observer    SegmentObserver
	BufferAhead int
}

// Open loads and parses the manifest at manifestURL and prepares a session.
// The caller bounds manifest loading through ctx; a deadline expiry surfaces
// as ErrManifestTimeout.
func Open(ctx context.Context, manifestURL string, opts SessionOptions) (*Session, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	bufferAhead := opts.BufferAhead
	if bufferAhead <= 0 {
		bufferAhead = StandardBufferAhead
	}

	s := &Session{
		manifestURL:    manifestURL,
		httpClient:     httpClient,
		observer:       opts.Observer,
		bufferAhead:    bufferAhead,
		fetchedThrough: -1,
		errCh:          make(chan error, 1),
		stopChan:       make(chan struct{}),
	}

	if err := s.loadManifest(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// loadManifest fetches the master playlist, picks the highest-bandwidth
// variant, and resolves the media playlist into the segment list
func (s *Session) loadManifest(ctx context.Context) error {
	playlist, listType, base, err := s.fetchPlaylist(ctx, s.manifestURL)
	if err != nil {
		return err
	}

	var media *m3u8.MediaPlaylist
	mediaBase := base

	switch listType {
	case m3u8.MASTER:
		master := playlist.(*m3u8.MasterPlaylist)
		variantURI := selectVariant(master)
		if variantURI == "" {
			return fmt.Errorf("master playlist has no variants")
		}
		variantURL := resolveURL(base, variantURI)

		variantPlaylist, variantType, variantBase, err := s.fetchPlaylist(ctx, variantURL)
		if err != nil {
			return err
		}
		if variantType != m3u8.MEDIA {
			return fmt.Errorf("variant playlist is not a media playlist")
		}
		media = variantPlaylist.(*m3u8.MediaPlaylist)
		mediaBase = variantBase
	case m3u8.MEDIA:
		media = playlist.(*m3u8.MediaPlaylist)
	default:
		return fmt.Errorf("unrecognized playlist type")
	}

	segments := make([]segmentRef, 0, media.Count())
	var total float64
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		segments = append(segments, segmentRef{uri: seg.URI, duration: seg.Duration})
		total += seg.Duration
	}
	if len(segments) == 0 {
		return ErrNotReady
	}

	s.segments = segments
	s.totalDuration = total
	s.mediaBase = mediaBase

	logger.Log.Debug().
		Str("manifest_url", s.manifestURL).
		Int("segments", len(segments)).
		Float64("duration", total).
		Msg("Manifest resolved")

	return nil
}

// fetchPlaylist GETs and decodes one playlist, classifying HTTP failures
func (s *Session) fetchPlaylist(ctx context.Context, playlistURL string) (m3u8.Playlist, m3u8.ListType, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to build manifest request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, 0, "", ErrManifestTimeout
		}
		return nil, 0, "", fmt.Errorf("manifest request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, 0, "", ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return nil, 0, "", ErrNotReady
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, 0, "", fmt.Errorf("manifest request returned %d", resp.StatusCode)
	}

	playlist, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, 0, "", ErrManifestTimeout
		}
		return nil, 0, "", fmt.Errorf("failed to decode playlist: %w", err)
	}

	return playlist, listType, playlistURL, nil
}

// selectVariant picks the highest-bandwidth variant URI
func selectVariant(master *m3u8.MasterPlaylist) string {
	var best string
	var bestBandwidth uint32
	for _, variant := range master.Variants {
		if variant == nil {
			continue
		}
		if best == "" || variant.Bandwidth > bestBandwidth {
			best = variant.URI
			bestBandwidth = variant.Bandwidth
		}
	}
	return best
}

// resolveURL resolves a possibly-relative playlist or segment URI against the
// URL it was referenced from
func resolveURL(baseURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}

// Duration returns the total stream duration in seconds
func (s *Session) Duration() float64 {
	return s.totalDuration
}

// SegmentCount returns the number of segments in the resolved playlist
func (s *Session) SegmentCount() int {
	return len(s.segments)
}

// Errors delivers fatal fetch-loop errors. At most one error is buffered;
// after an error the loop stops and the engine decides recovery.
func (s *Session) Errors() <-chan error {
	return s.errCh
}

// StartFetchLoop launches the background segment prefetcher. positionFn
// reports the current playback position in seconds; the loop keeps segments
// fetched through position + bufferAhead. The loop stops on the first fatal
// error; recovery restarts it.
func (s *Session) StartFetchLoop(positionFn func() float64) {
	go s.runFetchLoop(positionFn)
}

func (s *Session) runFetchLoop(positionFn func() float64) {
	ticker := time.NewTicker(fetchLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			target := s.targetIndex(positionFn())
			for {
				s.mu.Lock()
				next := s.fetchedThrough + 1
				s.mu.Unlock()
				if next > target || next >= len(s.segments) {
					break
				}
				if err := s.fetchSegment(next); err != nil {
					select {
					case s.errCh <- err:
					default:
					}
					return
				}
				s.mu.Lock()
				s.fetchedThrough = next
				s.mu.Unlock()
			}
		}
	}
}

// targetIndex maps a playback position to the last segment index the loop
// should have fetched
func (s *Session) targetIndex(position float64) int {
	var elapsed float64
	current := 0
	for i, seg := range s.segments {
		elapsed += seg.duration
		if position < elapsed {
			current = i
			break
		}
		current = i
	}
	return current + s.bufferAhead
}

// fetchSegment downloads one segment with bounded retries, reporting
// throughput to the observer and discarding the payload
func (s *Session) fetchSegment(index int) error {
	segURL := resolveURL(s.mediaBase, s.segments[index].uri)

	var lastErr error
	for attempt := 1; attempt <= segmentRetryAttempts; attempt++ {
		start := time.Now()
		n, err := s.downloadSegment(segURL)
		if err == nil {
			if n == 0 {
				lastErr = ErrDecode
			} else {
				if s.observer != nil {
					s.observer(n, time.Since(start))
				}
				return nil
			}
		} else {
			lastErr = err
		}

		if lastErr == ErrUnauthorized || lastErr == ErrNotReady {
			return lastErr
		}

		select {
		case <-s.stopChan:
			return ErrSessionClosed
		case <-time.After(segmentRetryDelay * time.Duration(attempt)):
		}
	}

	return fmt.Errorf("segment %d failed after %d attempts: %w", index, segmentRetryAttempts, lastErr)
}

func (s *Session) downloadSegment(segURL string) (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, segURL, nil)
	if err != nil {
		return 0, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return 0, ErrNotReady
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, fmt.Errorf("segment request returned %d", resp.StatusCode)
	}

	return io.Copy(io.Discard, resp.Body)
}

// RecoverMedia rewinds the fetch marker to the segment containing position so
// the loop refetches from there. The media-error-recovery primitive.
func (s *Session) RecoverMedia(position float64) {
	index := 0
	var elapsed float64
	for i, seg := range s.segments {
		if position < elapsed+seg.duration {
			index = i
			break
		}
		elapsed += seg.duration
	}

	s.mu.Lock()
	s.fetchedThrough = index - 1
	s.mu.Unlock()

	logger.Log.Debug().
		Float64("position", position).
		Int("segment_index", index).
		Msg("Media recovery: refetching from current segment")
}

// Closed reports whether the session has been torn down
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopChan)

	// Wake any error watcher so it can exit
	select {
	case s.errCh <- ErrSessionClosed:
	default:
	}
}
