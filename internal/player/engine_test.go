package player

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talefeed/talefeed/internal/access"
	"github.com/talefeed/talefeed/internal/backend"
	"github.com/talefeed/talefeed/internal/config"
	"github.com/talefeed/talefeed/internal/hls"
	"github.com/talefeed/talefeed/internal/models"
	"github.com/talefeed/talefeed/internal/netmon"
	"github.com/talefeed/talefeed/internal/progress"
	"github.com/talefeed/talefeed/internal/store"
)

func TestResolveVoice(t *testing.T) {
	info := &models.VoiceInfo{
		AvailableVoices: []string{"narrator-a", "narrator-b"},
		CurrentVoice:    "narrator-a",
	}

	tests := []struct {
		name      string
		trackType models.TrackType
		preferred string
		info      *models.VoiceInfo
		want      string
	}{
		{"audio tracks have no voice", models.TrackTypeAudio, "narrator-a", info, ""},
		{"preferred voice available", models.TrackTypeTTS, "narrator-b", info, "narrator-b"},
		{"unavailable voice falls back", models.TrackTypeTTS, "narrator-z", info, "narrator-a"},
		{"empty preference uses current", models.TrackTypeTTS, "", info, "narrator-a"},
		{"no inventory keeps preference", models.TrackTypeTTS, "narrator-z", nil, "narrator-z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveVoice(tt.trackType, tt.preferred, tt.info))
		})
	}
}

func TestEffectiveVersion(t *testing.T) {
	assert.Equal(t, int64(42), effectiveVersion(42))
	// Absent versions get a timestamp token so stream URLs still cache-bust
	assert.Greater(t, effectiveVersion(0), int64(0))
}

// fakeBackend serves the backend API surface and an HLS manifest root
type fakeBackend struct {
	mu             sync.Mutex
	server         *httptest.Server
	accessStatus   int
	accessMessage  string
	contentVersion int64
	voiceInfo      *models.VoiceInfo
	savedPosition    *int64
	savedDuration    int64
	segmentCount     int
	accessChecks     int
	manifestHits     int
	manifestVersions []string
}

func (fb *fakeBackend) manifestStats() (int, []string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.manifestHits, append([]string{}, fb.manifestVersions...)
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()

	fb := &fakeBackend{
		accessStatus:   http.StatusOK,
		contentVersion: 7,
		segmentCount:   12, // 120 seconds at 10s per segment
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tracks/", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()

		if strings.HasSuffix(r.URL.Path, "/check-access") {
			fb.accessChecks++
			if fb.accessStatus != http.StatusOK {
				w.WriteHeader(fb.accessStatus)
				_ = json.NewEncoder(w).Encode(map[string]map[string]string{
					"error": {"message": fb.accessMessage},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"grant_token": "tok-1"})
			return
		}

		if strings.HasSuffix(r.URL.Path, "/metadata") {
			_ = json.NewEncoder(w).Encode(models.TrackMetadata{
				TrackID:        "track-1",
				Title:          "Chapter One",
				ContentVersion: fb.contentVersion,
				Duration:       float64(fb.segmentCount * 10),
				VoiceInfo:      fb.voiceInfo,
			})
			return
		}

		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/albums/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	})
	mux.HandleFunc("/api/progress/load/", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		resp := map[string]interface{}{"track_id": "track-1"}
		if fb.savedPosition != nil {
			resp["position"] = *fb.savedPosition
			resp["duration"] = fb.savedDuration
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/progress/save", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/hls/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			fb.mu.Lock()
			fb.manifestHits++
			fb.manifestVersions = append(fb.manifestVersions, r.URL.Query().Get("v"))
			count := fb.segmentCount
			fb.mu.Unlock()

			var sb strings.Builder
			sb.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n")
			for i := 0; i < count; i++ {
				sb.WriteString(fmt.Sprintf("#EXTINF:10.000,\nseg%d.ts\n", i))
			}
			sb.WriteString("#EXT-X-ENDLIST\n")
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			_, _ = w.Write([]byte(sb.String()))
			return
		}
		// Segment payload
		_, _ = w.Write(make([]byte, 4096))
	})

	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

// setupTestEngine wires an engine against the fake backend and an in-memory
// state store
func setupTestEngine(t *testing.T, fb *fakeBackend) (*Engine, *store.Repositories) {
	t.Helper()

	st, err := store.New(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sqlDB, err := st.GetSQLDB()
	require.NoError(t, err)

	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok)
	rootDir := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	require.NoError(t, store.RunMigrations(sqlDB, "file://"+filepath.Join(rootDir, "migrations")))

	repos := store.NewRepositories(st)
	client := backend.NewClient(fb.server.URL, fb.server.URL+"/hls", 5*time.Second)
	gate := access.NewGate(client)
	monitor := netmon.NewMonitor(client.Reachable)
	persist := progress.NewPersistence(client, repos.ProgressQueue, monitor.Online, 30*time.Second)

	cfg := config.PlayerConfig{
		RetryBudget:       5,
		ManifestTimeout:   5 * time.Second,
		SyncInterval:      30 * time.Second,
		ResumeSeekTimeout: 8 * time.Second,
		BufferProfile:     "standard",
	}

	engine := NewEngine(cfg, client, gate, persist, monitor, repos, NewDispatcher())
	t.Cleanup(func() { engine.Stop(context.Background()) })

	return engine, repos
}

func TestEngine_PlayTrack_Success(t *testing.T) {
	fb := newFakeBackend(t)
	engine, repos := setupTestEngine(t, fb)

	err := engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	})
	require.NoError(t, err)

	status := engine.Status()
	assert.Equal(t, StatePlaying, status.State)
	assert.Equal(t, 120.0, status.Duration)
	require.NotNil(t, status.Track)
	assert.Equal(t, "track-1", status.Track.TrackID)
	assert.Equal(t, int64(7), status.Track.ContentVersion)

	// Session survives in the store for restarts
	restored, err := repos.Sessions.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "track-1", restored.GetTrackID())
}

func TestEngine_PlayTrack_AccessDenied(t *testing.T) {
	fb := newFakeBackend(t)
	fb.accessStatus = http.StatusForbidden
	fb.accessMessage = "Upgrade your plan to play this track"

	engine, _ := setupTestEngine(t, fb)

	var promptMu sync.Mutex
	var promptMessage string
	engine.SetUpgradePromptHandler(func(message string) {
		promptMu.Lock()
		promptMessage = message
		promptMu.Unlock()
	})

	err := engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	})
	require.Error(t, err)

	var playbackErr *PlaybackError
	require.ErrorAs(t, err, &playbackErr)
	assert.Equal(t, ErrorTypeAccessDenied, playbackErr.Type)

	assert.Equal(t, StateIdle, engine.Status().State)

	promptMu.Lock()
	defer promptMu.Unlock()
	assert.Equal(t, "Upgrade your plan to play this track", promptMessage)
}

func TestEngine_PlayTrack_VoiceFallback(t *testing.T) {
	fb := newFakeBackend(t)
	fb.voiceInfo = &models.VoiceInfo{
		AvailableVoices: []string{"narrator-a"},
		CurrentVoice:    "narrator-a",
	}

	engine, _ := setupTestEngine(t, fb)

	err := engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeTTS,
		Voice:     "narrator-gone",
	})
	require.NoError(t, err)

	status := engine.Status()
	require.NotNil(t, status.Track)
	assert.Equal(t, "narrator-a", status.Track.Voice)
}

func TestEngine_PlayTrack_ResumesSavedPosition(t *testing.T) {
	fb := newFakeBackend(t)
	saved := int64(50)
	fb.savedPosition = &saved
	fb.savedDuration = 120

	engine, _ := setupTestEngine(t, fb)

	err := engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	})
	require.NoError(t, err)

	assert.InDelta(t, 50.0, engine.Status().Position, 1.0)
}

func TestEngine_PauseAndResume(t *testing.T) {
	fb := newFakeBackend(t)
	engine, _ := setupTestEngine(t, fb)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))

	require.NoError(t, engine.TogglePlay(context.Background()))
	assert.Equal(t, StatePaused, engine.Status().State)

	require.NoError(t, engine.TogglePlay(context.Background()))
	assert.Equal(t, StatePlaying, engine.Status().State)
}

func TestEngine_Seek(t *testing.T) {
	fb := newFakeBackend(t)
	engine, _ := setupTestEngine(t, fb)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))

	pos, err := engine.SeekTo(context.Background(), 60)
	require.NoError(t, err)
	assert.InDelta(t, 60.0, pos, 0.2)

	// Relative seek past the end clamps to duration
	pos, err = engine.Seek(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, 120.0, pos)
}

func TestEngine_SetPlaybackSpeed(t *testing.T) {
	fb := newFakeBackend(t)
	engine, repos := setupTestEngine(t, fb)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))

	rate, err := engine.SetPlaybackSpeed(context.Background(), 2.0)
	require.NoError(t, err)
	assert.Equal(t, 2.0, rate)

	// Out-of-range rates clamp
	rate, err = engine.SetPlaybackSpeed(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, MaxPlaybackRate, rate)

	state, err := repos.TrackStates.Get(context.Background(), "track-1")
	require.NoError(t, err)
	assert.Equal(t, MaxPlaybackRate, state.Rate)
}

func TestEngine_Close(t *testing.T) {
	fb := newFakeBackend(t)
	engine, repos := setupTestEngine(t, fb)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))
	require.NoError(t, engine.Close(context.Background()))

	status := engine.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Nil(t, status.Track)

	_, err := repos.Sessions.Load(context.Background())
	assert.True(t, store.IsNotFound(err))
}

// liveStream snapshots the currently attached adaptive session
func liveStream(e *Engine) *hls.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream
}

func TestEngine_ContentVersionChange_ReinitializesOnce(t *testing.T) {
	fb := newFakeBackend(t)
	engine, _ := setupTestEngine(t, fb)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))

	_, err := engine.SeekTo(context.Background(), 60)
	require.NoError(t, err)
	_, err = engine.SetPlaybackSpeed(context.Background(), 1.5)
	require.NoError(t, err)

	hitsBefore, _ := fb.manifestStats()

	fb.mu.Lock()
	fb.contentVersion = 9
	fb.mu.Unlock()

	engine.VisibilityRegained(context.Background())

	status := engine.Status()
	require.NotNil(t, status.Track)
	assert.Equal(t, int64(9), status.Track.ContentVersion)

	// Position, rate and play-state survive the stream swap
	assert.InDelta(t, 60.0, status.Position, 2.0)
	assert.Equal(t, 1.5, status.Rate)
	assert.Equal(t, StatePlaying, status.State)

	hits, versions := fb.manifestStats()
	assert.Equal(t, hitsBefore+1, hits)
	assert.Equal(t, "9", versions[len(versions)-1])

	// An unchanged version must not trigger another swap
	engine.VisibilityRegained(context.Background())
	hitsAfter, _ := fb.manifestStats()
	assert.Equal(t, hits, hitsAfter)
}

func TestEngine_PlayTrackTwice_SingleLiveSession(t *testing.T) {
	fb := newFakeBackend(t)
	engine, _ := setupTestEngine(t, fb)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))
	first := liveStream(engine)
	require.NotNil(t, first)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))
	second := liveStream(engine)
	require.NotNil(t, second)

	assert.NotSame(t, first, second)
	assert.True(t, first.Closed(), "superseded session must be torn down")
	assert.False(t, second.Closed())
	assert.Equal(t, StatePlaying, engine.Status().State)
}

func TestEngine_StaleStreamOpenDoesNotAttach(t *testing.T) {
	fb := newFakeBackend(t)
	engine, _ := setupTestEngine(t, fb)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))
	current := liveStream(engine)
	staleGen := engine.currentGeneration()

	// A newer operation supersedes the open already in flight
	engine.nextGeneration()

	require.NoError(t, engine.openStream(context.Background(), staleGen, 0, 1.0, true))
	assert.Same(t, current, liveStream(engine), "stale open must not replace the attached stream")
}

func TestHandleStreamError_NetworkErrorRecovers(t *testing.T) {
	fb := newFakeBackend(t)
	engine, _ := setupTestEngine(t, fb)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))

	// Blocks through one backoff interval, then restarts segment loading
	engine.handleStreamError(engine.currentGeneration(), fmt.Errorf("segment 3: connection reset"))

	assert.Equal(t, StatePlaying, engine.Status().State)
	assert.False(t, liveStream(engine).Closed())
}

func TestHandleStreamError_AuthorizationErrorIsFatal(t *testing.T) {
	fb := newFakeBackend(t)
	engine, _ := setupTestEngine(t, fb)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))

	engine.handleStreamError(engine.currentGeneration(), hls.ErrUnauthorized)

	assert.Equal(t, StateIdle, engine.Status().State)
	assert.Nil(t, liveStream(engine))
}

func TestHandleStreamError_StaleGenerationIgnored(t *testing.T) {
	fb := newFakeBackend(t)
	engine, _ := setupTestEngine(t, fb)

	require.NoError(t, engine.PlayTrack(context.Background(), PlayRequest{
		TrackID:   "track-1",
		TrackType: models.TrackTypeAudio,
	}))

	engine.handleStreamError(engine.currentGeneration()+1, hls.ErrUnauthorized)

	assert.Equal(t, StatePlaying, engine.Status().State)
}

func TestEngine_OperationsWithoutTrack(t *testing.T) {
	fb := newFakeBackend(t)
	engine, _ := setupTestEngine(t, fb)

	assert.ErrorIs(t, engine.TogglePlay(context.Background()), ErrNoTrackLoaded)

	_, err := engine.SeekTo(context.Background(), 10)
	assert.ErrorIs(t, err, ErrNoTrackLoaded)

	_, err = engine.SetPlaybackSpeed(context.Background(), 1.5)
	assert.ErrorIs(t, err, ErrNoTrackLoaded)
}
