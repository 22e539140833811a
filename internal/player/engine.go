package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talefeed/talefeed/internal/access"
	"github.com/talefeed/talefeed/internal/backend"
	"github.com/talefeed/talefeed/internal/config"
	"github.com/talefeed/talefeed/internal/hls"
	"github.com/talefeed/talefeed/internal/logger"
	"github.com/talefeed/talefeed/internal/models"
	"github.com/talefeed/talefeed/internal/netmon"
	"github.com/talefeed/talefeed/internal/progress"
	"github.com/talefeed/talefeed/internal/store"
)

// Common engine errors
var (
	ErrNoTrackLoaded = errors.New("no track loaded")
	ErrEngineStopped = errors.New("playback engine has been stopped")
)

const tickInterval = 1 * time.Second

// PlayRequest carries everything a caller supplies when selecting a track
type PlayRequest struct {
	TrackID      string           `json:"track_id"`
	Title        string           `json:"title"`
	Album        string           `json:"album"`
	CoverArtPath string           `json:"cover_art_path"`
	AutoPlay     *bool            `json:"auto_play,omitempty"`
	Voice        string           `json:"voice,omitempty"`
	TrackType    models.TrackType `json:"track_type"`
	AlbumID      string           `json:"album_id,omitempty"`
}

// Status is the engine's externally visible state
type Status struct {
	State    PlaybackState       `json:"state"`
	Track    *models.TrackSession `json:"track,omitempty"`
	Position float64             `json:"position"`
	Duration float64             `json:"duration"`
	Rate     float64             `json:"rate"`
	Volume   float64             `json:"volume"`
	Muted    bool                `json:"muted"`
	Playing  bool                `json:"playing"`
	Quality  netmon.Quality      `json:"quality"`
	Online   bool                `json:"online"`
}

// Engine is the streaming playback engine. It exclusively owns the adaptive
// streaming session and the playback clock; no other component mutates them.
type Engine struct {
	cfg     config.PlayerConfig
	client  *backend.Client
	gate    *access.Gate
	persist *progress.Persistence
	monitor *netmon.Monitor
	repos   *store.Repositories
	events  *Dispatcher

	// upgradePrompt is invoked with the server's message when access is denied
	upgradePrompt func(message string)

	generation atomic.Uint64 // per-operation still-current guard

	session      *models.TrackSession
	state        PlaybackState
	clock        *playbackClock
	stream       *hls.Session
	grantToken   string
	everGranted  bool // a stream was authorized at least once this run
	seekInFlight bool
	retryCount   int
	volume       float64
	muted        bool
	segPoller    *segmentProgressPoller
	mu           sync.Mutex

	// metaMu serializes display-metadata mutation against near-simultaneous callers
	metaMu sync.Mutex

	stopChan chan struct{}
	tickDone chan struct{}
	started  bool
	stopped  bool
}

// NewEngine creates a playback engine. The upgrade-prompt handler is wired
// separately via SetUpgradePromptHandler.
func NewEngine(
	cfg config.PlayerConfig,
	client *backend.Client,
	gate *access.Gate,
	persist *progress.Persistence,
	monitor *netmon.Monitor,
	repos *store.Repositories,
	events *Dispatcher,
) *Engine {
	return &Engine{
		cfg:      cfg,
		client:   client,
		gate:     gate,
		persist:  persist,
		monitor:  monitor,
		repos:    repos,
		events:   events,
		state:    StateIdle,
		volume:   1.0,
		stopChan: make(chan struct{}),
		tickDone: make(chan struct{}),
	}
}

// SetUpgradePromptHandler wires the callback surfaced on access denial
func (e *Engine) SetUpgradePromptHandler(fn func(message string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.upgradePrompt = fn
}

// Events returns the engine's event dispatcher
func (e *Engine) Events() *Dispatcher {
	return e.events
}

// Start restores any persisted session, wires connectivity listeners, and
// launches the periodic sync loop. A restored session stays idle until a
// caller resumes it.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return ErrEngineStopped
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if session, err := e.repos.Sessions.Load(ctx); err == nil {
		e.mu.Lock()
		e.session = session
		e.mu.Unlock()
		logger.Log.Info().
			Str("track_id", session.TrackID).
			Msg("Restored persisted session")
	} else if !store.IsNotFound(err) {
		logger.Log.Warn().Err(err).Msg("Discarding unreadable persisted session")
		_ = e.repos.Sessions.Clear(ctx)
	}

	e.monitor.OnReconnect(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.persist.ProcessQueue(ctx); err != nil {
			logger.Log.Warn().Err(err).Msg("Progress queue drain failed")
		}
		e.RevalidateContentVersion(ctx)
	})
	e.monitor.OnQualityChange(func(change netmon.QualityChange) {
		e.events.Publish(Event{Type: EventQualityChanged, Payload: change})
	})

	go e.runTickLoop()

	logger.Log.Info().Msg("Playback engine started")
	return nil
}

// Stop flushes a best-effort progress beacon, persists state, and tears the
// engine down
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	wasStarted := e.started
	e.mu.Unlock()

	if wasStarted {
		close(e.stopChan)
		<-e.tickDone
	}

	e.persist.Flush(e.snapshot())
	e.persistTrackState(ctx)
	e.teardownStream()

	logger.Log.Info().Msg("Playback engine stopped")
}

// PlayTrack resolves metadata, saved progress and access in parallel, tears
// down any existing session, and opens a new adaptive session at the
// resolved position.
func (e *Engine) PlayTrack(ctx context.Context, req PlayRequest) error {
	if req.TrackID == "" {
		return fmt.Errorf("%w: track id required", store.ErrInvalidInput)
	}
	trackType := req.TrackType
	if !trackType.IsValid() {
		trackType = models.TrackTypeAudio
	}

	gen := e.nextGeneration()

	// Teardown before the first await so two sessions are never attached
	e.teardownStream()
	e.setState(StateResolving)

	metadataVoice := ""
	if trackType == models.TrackTypeTTS {
		metadataVoice = req.Voice
	}

	var (
		meta     *models.TrackMetadata
		metaErr  error
		saved    *models.ProgressRecord
		decision access.Decision
		wg       sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		meta, metaErr = e.client.TrackMetadata(ctx, req.TrackID, metadataVoice)
	}()
	go func() {
		defer wg.Done()
		saved = e.persist.LoadProgress(ctx, req.TrackID, req.Voice)
	}()
	go func() {
		defer wg.Done()
		// Offline and dedicated-surface playback assume access was granted
		// when the surface was opened
		if !e.monitor.Online() || e.cfg.StandaloneSurface {
			decision = access.Decision{Granted: true}
			return
		}
		decision = e.gate.CheckAccess(ctx, req.TrackID, req.AlbumID)
	}()
	wg.Wait()

	if !e.isCurrentGeneration(gen) {
		return nil // superseded by a later PlayTrack
	}

	if !decision.Granted {
		e.setState(StateIdle)
		if decision.Reason != access.ReasonNetworkError {
			e.promptUpgrade(decision.Message)
		}
		return NewPlaybackError(ErrorTypeAccessDenied, decision.Message, nil)
	}

	if metaErr != nil || meta == nil {
		// Degrade to an idle player, never a stuck spinner
		e.setState(StateIdle)
		if metaErr == nil {
			metaErr = fmt.Errorf("empty metadata response for track %s", req.TrackID)
		}
		return ClassifyError(metaErr)
	}

	voice := resolveVoice(trackType, req.Voice, meta.VoiceInfo)
	if voice != req.Voice {
		logger.Log.Info().
			Str("requested", req.Voice).
			Str("resolved", voice).
			Msg("Requested voice unavailable, falling back to default")
		// Progress is voice-specific; reload for the voice actually used
		saved = e.persist.LoadProgress(ctx, req.TrackID, voice)
		if !e.isCurrentGeneration(gen) {
			return nil
		}
	}

	session := models.NewTrackSession(req.TrackID, trackType)
	session.SetAlbumID(req.AlbumID)
	session.SetVoice(voice)
	session.SetContentVersion(effectiveVersion(meta.ContentVersion))
	title, album, cover := req.Title, req.Album, req.CoverArtPath
	if title == "" {
		title = meta.Title
	}
	if album == "" {
		album = meta.Album
	}
	if cover == "" {
		cover = meta.CoverArtPath
	}
	session.SetDisplayMetadata(title, album, cover)

	e.mu.Lock()
	e.session = session
	e.grantToken = decision.GrantToken
	e.resetRetryLocked()
	e.mu.Unlock()

	if err := e.repos.Sessions.Save(ctx, session.Snapshot()); err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to persist session")
	}
	snapshot := session.Snapshot()
	e.events.Publish(Event{Type: EventTrackChanged, Payload: &snapshot})

	startPosition := 0.0
	if saved != nil && !saved.Completed && saved.Position > 0 {
		startPosition = float64(saved.Position)
	}

	autoplay := true // explicit user selection defaults to playing
	if req.AutoPlay != nil {
		autoplay = *req.AutoPlay
	} else if saved != nil {
		autoplay = saved.IsPlaying
	}

	rate := 1.0
	if state, err := e.repos.TrackStates.Get(ctx, req.TrackID); err == nil {
		rate = state.Rate
		e.mu.Lock()
		e.volume = state.Volume
		e.muted = state.Muted
		e.mu.Unlock()
	}

	e.setState(StateOpening)

	if err := e.openStream(ctx, gen, startPosition, rate, autoplay); err != nil {
		if !e.isCurrentGeneration(gen) {
			return nil
		}
		playbackErr := ClassifyError(err)
		if playbackErr.Type == ErrorTypeContentNotReady {
			e.startSegmentProgressPolling(gen)
			return nil
		}
		e.setState(StateIdle)
		return playbackErr
	}

	e.mu.Lock()
	e.everGranted = true
	e.mu.Unlock()
	e.persistTrackState(ctx)

	return nil
}

// resolveVoice picks the effective voice: the preferred voice when it is
// available, else the server's current default
func resolveVoice(trackType models.TrackType, preferred string, info *models.VoiceInfo) string {
	if trackType != models.TrackTypeTTS {
		return ""
	}
	if info == nil {
		return preferred
	}
	if preferred == "" {
		return info.CurrentVoice
	}
	if !info.HasVoice(preferred) && preferred != info.CurrentVoice {
		return info.CurrentVoice
	}
	return preferred
}

// effectiveVersion falls back to a timestamp token when the backend reports
// no content version, so stream URLs always carry a cache-bust parameter
func effectiveVersion(version int64) int64 {
	if version > 0 {
		return version
	}
	return time.Now().Unix()
}

// openStream opens the adaptive session and attaches clock and fetch loop.
// The manifest load is bounded by the configured timeout.
func (e *Engine) openStream(ctx context.Context, gen uint64, position, rate float64, playing bool) error {
	e.mu.Lock()
	session := e.session
	grantToken := e.grantToken
	e.mu.Unlock()
	if session == nil {
		return ErrNoTrackLoaded
	}

	manifestURL := GenerateStreamURL(
		e.client.StreamBaseURL(),
		session.GetTrackID(),
		session.GetTrackType(),
		session.GetVoice(),
		session.GetContentVersion(),
		grantToken,
	)

	bufferAhead := hls.StandardBufferAhead
	if e.cfg.BufferProfile == "extended" {
		bufferAhead = hls.ExtendedBufferAhead
	}

	openCtx, cancel := context.WithTimeout(ctx, e.cfg.ManifestTimeout)
	defer cancel()

	stream, err := hls.Open(openCtx, manifestURL, hls.SessionOptions{
		HTTPClient:  e.client.HTTPClient(),
		Observer:    e.monitor.RecordSample,
		BufferAhead: bufferAhead,
	})
	if err != nil {
		return err
	}

	clock := newPlaybackClock(stream.Duration())
	if position > 0 && position < stream.Duration() {
		clock.SeekTo(position)
	}
	clock.SetRate(rate)

	// The generation re-check and the attach must share one critical
	// section. A newer PlayTrack bumps the generation before tearing down
	// whatever is attached, so checking outside the lock could attach a
	// stream the teardown never saw.
	e.mu.Lock()
	if gen != e.generation.Load() {
		e.mu.Unlock()
		stream.Close()
		return nil
	}
	e.stream = stream
	e.clock = clock
	e.mu.Unlock()

	stream.StartFetchLoop(clock.Position)
	go e.watchStream(gen, stream)

	if playing {
		clock.Play()
		e.setState(StatePlaying)
	} else {
		e.setState(StatePaused)
	}

	logger.Log.Info().
		Str("track_id", session.GetTrackID()).
		Str("voice", session.GetVoice()).
		Float64("position", clock.Position()).
		Float64("duration", stream.Duration()).
		Bool("playing", playing).
		Msg("Stream opened")

	return nil
}

// watchStream forwards the session's first fatal error to recovery
func (e *Engine) watchStream(gen uint64, stream *hls.Session) {
	err, ok := <-stream.Errors()
	if !ok || err == nil || errors.Is(err, hls.ErrSessionClosed) {
		return
	}
	e.handleStreamError(gen, err)
}

// TogglePlay pauses when playing. When paused it re-validates the content
// version (reinitializing on change) and re-checks access before resuming,
// guarding against re-transcoded content or a lapsed subscription.
func (e *Engine) TogglePlay(ctx context.Context) error {
	e.mu.Lock()
	state := e.state
	session := e.session
	e.mu.Unlock()

	if session == nil {
		return ErrNoTrackLoaded
	}

	if state == StatePlaying {
		return e.Pause(ctx)
	}
	return e.Resume(ctx)
}

// Pause halts playback and forces a progress write
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	clock := e.clock
	e.mu.Unlock()
	if clock == nil {
		return ErrNoTrackLoaded
	}

	clock.Pause()
	e.setState(StatePaused)
	_ = e.persist.SyncProgress(ctx, e.snapshot(), true)
	e.persistTrackState(ctx)
	return nil
}

// Resume re-validates content version and access, then plays
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	session := e.session
	clock := e.clock
	everGranted := e.everGranted
	e.mu.Unlock()
	if session == nil {
		return ErrNoTrackLoaded
	}

	// Cheap metadata fetch: a re-transcode between pauses must force a
	// fresh stream open
	meta, err := e.client.TrackMetadata(ctx, session.GetTrackID(), session.GetVoice())
	if err == nil && meta.ContentVersion > 0 && meta.ContentVersion != session.GetContentVersion() {
		session.SetContentVersion(meta.ContentVersion)
		if err := e.reinitialize(ctx, true); err != nil {
			return err
		}
		return nil
	}

	if e.monitor.Online() && !e.cfg.StandaloneSurface {
		decision := e.gate.CheckAccess(ctx, session.GetTrackID(), session.GetAlbumID())
		if !decision.Granted {
			// A flaky access check must not block a stream that was already
			// authorized this run; real denials always stop playback
			if decision.Reason != access.ReasonNetworkError || !everGranted {
				e.promptUpgrade(decision.Message)
				return NewPlaybackError(ErrorTypeAccessDenied, decision.Message, nil)
			}
			logger.Log.Warn().Msg("Access re-check unreachable, resuming previously authorized stream")
		} else {
			e.mu.Lock()
			e.grantToken = decision.GrantToken
			e.mu.Unlock()
		}
	}

	if clock == nil {
		// Restored session without a live stream: open at the persisted
		// position, bounded by the resume-seek budget rather than the
		// caller's deadline
		resumeCtx, cancel := context.WithTimeout(ctx, e.cfg.ResumeSeekTimeout)
		defer cancel()
		return e.reinitialize(resumeCtx, true)
	}

	clock.Play()
	e.setState(StatePlaying)
	return nil
}

// Seek moves the position by deltaSeconds, clamped to [0, duration].
// Progress writes are suppressed while the seek is in flight.
func (e *Engine) Seek(ctx context.Context, deltaSeconds float64) (float64, error) {
	e.mu.Lock()
	clock := e.clock
	e.mu.Unlock()
	if clock == nil {
		return 0, ErrNoTrackLoaded
	}
	return e.seekTo(ctx, clock, clock.Position()+deltaSeconds)
}

// SeekTo moves the position to an absolute target, clamped to [0, duration]
func (e *Engine) SeekTo(ctx context.Context, position float64) (float64, error) {
	e.mu.Lock()
	clock := e.clock
	e.mu.Unlock()
	if clock == nil {
		return 0, ErrNoTrackLoaded
	}
	return e.seekTo(ctx, clock, position)
}

func (e *Engine) seekTo(ctx context.Context, clock *playbackClock, target float64) (float64, error) {
	e.setSeekInFlight(true)
	effective := clock.SeekTo(target)
	e.setSeekInFlight(false)

	_ = e.persist.SyncProgress(ctx, e.snapshot(), true)
	e.publishProgress()
	return effective, nil
}

// SetPlaybackSpeed sets the playback rate, clamped to [0.25, 3.0], and
// returns the effective rate
func (e *Engine) SetPlaybackSpeed(ctx context.Context, rate float64) (float64, error) {
	e.mu.Lock()
	clock := e.clock
	e.mu.Unlock()
	if clock == nil {
		return 0, ErrNoTrackLoaded
	}

	effective := clock.SetRate(rate)
	e.persistTrackState(ctx)
	return effective, nil
}

// SetVolume stores volume and mute state alongside the playback state
func (e *Engine) SetVolume(ctx context.Context, volume float64, muted bool) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	e.mu.Lock()
	e.volume = volume
	e.muted = muted
	e.mu.Unlock()
	e.persistTrackState(ctx)
}

// SeekToWord resolves a word index to a time offset via the backend and
// performs a precision seek. Returns false on any failure.
func (e *Engine) SeekToWord(ctx context.Context, wordIndex int, voice string) bool {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return false
	}

	if voice == "" {
		voice = session.GetVoice()
	}

	wordTime, err := e.client.WordTime(ctx, session.GetTrackID(), wordIndex, voice)
	if err != nil || wordTime.Status != "found" {
		return false
	}

	if _, err := e.SeekTo(ctx, wordTime.Time); err != nil {
		return false
	}
	return true
}

// SetTrackMetadata updates display metadata. Serialized so near-simultaneous
// callers cannot interleave partial updates.
func (e *Engine) SetTrackMetadata(ctx context.Context, title, album, coverArtPath string) error {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()

	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return ErrNoTrackLoaded
	}

	session.SetDisplayMetadata(title, album, coverArtPath)
	if err := e.repos.Sessions.Save(ctx, session.Snapshot()); err != nil {
		return err
	}
	snapshot := session.Snapshot()
	e.events.Publish(Event{Type: EventTrackChanged, Payload: &snapshot})
	return nil
}

// RevalidateContentVersion re-fetches the content version and performs a
// seamless reinit preserving position, rate and play-state when it changed.
// Called on visibility regain and on reconnect.
func (e *Engine) RevalidateContentVersion(ctx context.Context) {
	e.mu.Lock()
	session := e.session
	e.mu.Unlock()
	if session == nil {
		return
	}

	gen := e.currentGeneration()
	meta, err := e.client.TrackMetadata(ctx, session.GetTrackID(), session.GetVoice())
	if err != nil || meta.ContentVersion <= 0 {
		return
	}
	if !e.isCurrentGeneration(gen) {
		return // track changed while the fetch was in flight
	}
	if meta.ContentVersion == session.GetContentVersion() {
		return
	}

	logger.Log.Info().
		Str("track_id", session.GetTrackID()).
		Int64("cached_version", session.GetContentVersion()).
		Int64("new_version", meta.ContentVersion).
		Msg("Content version changed, reinitializing stream")

	session.SetContentVersion(meta.ContentVersion)
	if err := e.reinitialize(ctx, false); err != nil {
		logger.Log.Warn().Err(err).Msg("Version-change reinitialization failed")
	}
}

// VisibilityRegained drains the progress queue and re-validates the content
// version. The control-surface analog of a tab becoming visible again.
func (e *Engine) VisibilityRegained(ctx context.Context) {
	if err := e.persist.ProcessQueue(ctx); err != nil {
		logger.Log.Warn().Err(err).Msg("Progress queue drain failed")
	}
	e.RevalidateContentVersion(ctx)
}

// reinitialize tears the stream down and reopens it, preserving position,
// rate and play-state. forcePlay resumes playback regardless of prior state.
func (e *Engine) reinitialize(ctx context.Context, forcePlay bool) error {
	e.mu.Lock()
	session := e.session
	clock := e.clock
	e.mu.Unlock()
	if session == nil {
		return ErrNoTrackLoaded
	}

	position, rate, playing := 0.0, 1.0, false
	if clock != nil {
		position = clock.Position()
		rate = clock.Rate()
		playing = clock.Playing()
	} else if state, err := e.repos.TrackStates.Get(ctx, session.GetTrackID()); err == nil {
		position = state.Position
		rate = state.Rate
	}
	if forcePlay {
		playing = true
	}

	gen := e.nextGeneration()

	// Progress writes stay quiet while the stream is swapped out
	e.persist.Pause()
	defer e.persist.Resume()

	e.teardownStream()
	e.setState(StateOpening)

	if err := e.openStream(ctx, gen, position, rate, playing); err != nil {
		if playbackErr := ClassifyError(err); playbackErr.Type == ErrorTypeContentNotReady {
			e.startSegmentProgressPolling(gen)
			return nil
		}
		e.setState(StateIdle)
		return err
	}

	e.mu.Lock()
	e.resetRetryLocked()
	e.mu.Unlock()
	if err := e.repos.Sessions.Save(ctx, session.Snapshot()); err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to persist session")
	}
	e.persistTrackState(ctx)
	return nil
}

// Close tears down the session and clears persisted state (close-player action)
func (e *Engine) Close(ctx context.Context) error {
	e.nextGeneration() // invalidate any in-flight operations
	e.teardownStream()

	e.mu.Lock()
	e.session = nil
	e.grantToken = ""
	e.mu.Unlock()

	if err := e.repos.Sessions.Clear(ctx); err != nil {
		return err
	}

	e.setState(StateIdle)
	e.events.Publish(Event{Type: EventPlayerClosed})
	return nil
}

// Status reports the externally visible engine state
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status{
		State:   e.state,
		Rate:    1.0,
		Volume:  e.volume,
		Muted:   e.muted,
		Quality: e.monitor.Quality(),
		Online:  e.monitor.Online(),
	}
	if e.session != nil {
		snapshot := e.session.Snapshot()
		status.Track = &snapshot
	}
	if e.clock != nil {
		status.Position = e.clock.Position()
		status.Duration = e.clock.Duration()
		status.Rate = e.clock.Rate()
		status.Playing = e.clock.Playing()
	}
	return status
}

// runTickLoop detects stream end, publishes progress, and lets the
// persistence cadence run while playing
func (e *Engine) runTickLoop() {
	defer close(e.tickDone)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.mu.Lock()
			state := e.state
			clock := e.clock
			e.mu.Unlock()

			if state != StatePlaying || clock == nil {
				continue
			}

			if clock.Ended() {
				e.setState(StateEnded)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = e.persist.SyncProgress(ctx, e.snapshot(), true)
				cancel()
				e.persistTrackState(context.Background())
				e.publishProgress()
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = e.persist.SyncProgress(ctx, e.snapshot(), false)
			cancel()
			e.publishProgress()
		}
	}
}

// snapshot builds the progress snapshot persistence writes from
func (e *Engine) snapshot() progress.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := progress.Snapshot{SeekInFlight: e.seekInFlight}
	if e.session != nil {
		snap.TrackID = e.session.GetTrackID()
		snap.VoiceID = e.session.GetVoice()
	}
	if e.clock != nil {
		snap.Position = e.clock.Position()
		snap.Duration = e.clock.Duration()
		snap.Playing = e.clock.Playing()
	}
	return snap
}

// persistTrackState writes the per-track player state blob
func (e *Engine) persistTrackState(ctx context.Context) {
	e.mu.Lock()
	session := e.session
	clock := e.clock
	volume := e.volume
	muted := e.muted
	e.mu.Unlock()
	if session == nil {
		return
	}

	state := &models.TrackState{
		TrackID:        session.GetTrackID(),
		Volume:         volume,
		Muted:          muted,
		Rate:           1.0,
		ContentVersion: session.GetContentVersion(),
	}
	if clock != nil {
		state.Position = clock.Position()
		state.Rate = clock.Rate()
		state.Playing = clock.Playing()
	}

	if err := e.repos.TrackStates.Save(ctx, state); err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to persist track state")
	}
}

// startSegmentProgressPolling replaces fatal handling with transcoding
// progress polls; completion triggers a fresh stream open
func (e *Engine) startSegmentProgressPolling(gen uint64) {
	e.mu.Lock()
	session := e.session
	if e.segPoller != nil {
		e.segPoller.Stop()
		e.segPoller = nil
	}
	e.mu.Unlock()
	if session == nil {
		return
	}

	poller := newSegmentProgressPoller(
		session.GetTrackID(),
		session.GetVoice(),
		e.client.SegmentProgress,
		func(progress models.SegmentProgress) {
			e.events.Publish(Event{Type: EventSegmentProgress, Payload: progress})
		},
		func() {
			if !e.isCurrentGeneration(gen) {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ManifestTimeout)
			defer cancel()
			if err := e.reinitialize(ctx, false); err != nil {
				logger.Log.Warn().Err(err).Msg("Reinit after transcode completion failed")
			}
		},
	)

	e.mu.Lock()
	e.segPoller = poller
	e.mu.Unlock()

	go poller.run()
}

// teardownStream detaches and closes the live adaptive session. Always runs
// before a new session is attached.
func (e *Engine) teardownStream() {
	e.mu.Lock()
	stream := e.stream
	poller := e.segPoller
	e.stream = nil
	e.clock = nil
	e.segPoller = nil
	e.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if stream != nil {
		stream.Close()
	}
}

// degradeToIdle stops everything, leaving the player stopped but usable
func (e *Engine) degradeToIdle() {
	e.teardownStream()
	e.setState(StateIdle)
}

// setState transitions the state machine, logging unexpected transitions
func (e *Engine) setState(newState PlaybackState) {
	e.mu.Lock()
	old := e.state
	if old == newState {
		e.mu.Unlock()
		return
	}
	if !old.CanTransitionTo(newState) {
		logger.Log.Warn().
			Str("from", old.String()).
			Str("to", newState.String()).
			Msg("Unexpected state transition")
	}
	e.state = newState
	e.mu.Unlock()

	e.events.Publish(Event{Type: EventStateChanged, Payload: map[string]string{
		"from": old.String(),
		"to":   newState.String(),
	}})
}

func (e *Engine) publishProgress() {
	snap := e.snapshot()
	e.events.Publish(Event{Type: EventProgress, Payload: map[string]interface{}{
		"track_id": snap.TrackID,
		"position": snap.Position,
		"duration": snap.Duration,
		"playing":  snap.Playing,
	}})
}

func (e *Engine) promptUpgrade(message string) {
	e.mu.Lock()
	prompt := e.upgradePrompt
	e.mu.Unlock()
	if prompt != nil {
		prompt(message)
	}
}

func (e *Engine) setSeekInFlight(inFlight bool) {
	e.mu.Lock()
	e.seekInFlight = inFlight
	e.mu.Unlock()
}

func (e *Engine) nextGeneration() uint64 {
	return e.generation.Add(1)
}

func (e *Engine) currentGeneration() uint64 {
	return e.generation.Load()
}

func (e *Engine) isCurrentGeneration(gen uint64) bool {
	return e.generation.Load() == gen
}

func (e *Engine) bumpRetry() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retryCount++
	return e.retryCount
}

func (e *Engine) resetRetry() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetRetryLocked()
}

func (e *Engine) resetRetryLocked() {
	e.retryCount = 0
}
