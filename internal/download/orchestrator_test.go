package download

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talefeed/talefeed/internal/access"
	"github.com/talefeed/talefeed/internal/backend"
)

// fakeDownloadBackend drives a download job through queued -> downloading ->
// completed across successive status polls
type fakeDownloadBackend struct {
	mu            sync.Mutex
	server        *httptest.Server
	startStatus   int
	statusPolls   int
	statusPhases  []string
	accessGranted bool
}

func newFakeDownloadBackend(t *testing.T) *fakeDownloadBackend {
	t.Helper()

	fb := &fakeDownloadBackend{
		startStatus:   http.StatusOK,
		statusPhases:  []string{"queued", "processing", "completed"},
		accessGranted: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tracks/", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()

		switch {
		case strings.HasSuffix(r.URL.Path, "/check-access"):
			if !fb.accessGranted {
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]map[string]string{
					"error": {"message": "Downloads require premium"},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{})

		case strings.HasSuffix(r.URL.Path, "/download"):
			if fb.startStatus == http.StatusForbidden {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":{"message":"limit"},"downloads_used":3,"downloads_limit":3}`))
				return
			}
			w.WriteHeader(fb.startStatus)

		case strings.HasSuffix(r.URL.Path, "/status"):
			phase := fb.statusPhases[len(fb.statusPhases)-1]
			if fb.statusPolls < len(fb.statusPhases) {
				phase = fb.statusPhases[fb.statusPolls]
			}
			fb.statusPolls++
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"status":   phase,
				"progress": float64(fb.statusPolls) * 30,
			})

		case strings.HasSuffix(r.URL.Path, "/file"):
			_, _ = w.Write([]byte("mp3-bytes"))

		default:
			http.NotFound(w, r)
		}
	})

	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func setupOrchestrator(t *testing.T, fb *fakeDownloadBackend) *Orchestrator {
	t.Helper()

	client := backend.NewClient(fb.server.URL, fb.server.URL+"/hls", 5*time.Second)
	gate := access.NewGate(client)
	return NewOrchestrator(client, gate, t.TempDir())
}

func TestStartDownload_CompletesAndFetchesFile(t *testing.T) {
	fb := newFakeDownloadBackend(t)
	o := setupOrchestrator(t, fb)

	completed := make(chan Job, 1)
	o.SetCallbacks(Callbacks{
		OnComplete: func(job Job) { completed <- job },
	})

	job, err := o.StartDownload(context.Background(), "track-1", "", "")
	require.NoError(t, err)
	assert.Equal(t, JobStatePending, job.State)
	assert.NotEmpty(t, job.ID)

	select {
	case done := <-completed:
		assert.Equal(t, JobStateCompleted, done.State)
		assert.Equal(t, "track-1.mp3", filepath.Base(done.FilePath))

		data, err := os.ReadFile(done.FilePath)
		require.NoError(t, err)
		assert.Equal(t, "mp3-bytes", string(data))
	case <-time.After(10 * time.Second):
		t.Fatal("download did not complete")
	}

	// Terminal jobs clear the dedupe entry
	_, active := o.Status("track-1", "")
	assert.False(t, active)
}

func TestStartDownload_DeduplicatesActiveJob(t *testing.T) {
	fb := newFakeDownloadBackend(t)
	// Never completes, so the first job stays active
	fb.statusPhases = []string{"queued"}
	o := setupOrchestrator(t, fb)

	first, err := o.StartDownload(context.Background(), "track-1", "voice-a", "")
	require.NoError(t, err)

	second, err := o.StartDownload(context.Background(), "track-1", "voice-a", "")
	assert.ErrorIs(t, err, ErrDownloadInProgress)
	assert.Equal(t, first.ID, second.ID)

	// A different voice is a separate job
	third, err := o.StartDownload(context.Background(), "track-1", "voice-b", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestStartDownload_QuotaExceeded(t *testing.T) {
	fb := newFakeDownloadBackend(t)
	fb.startStatus = http.StatusForbidden
	o := setupOrchestrator(t, fb)

	_, err := o.StartDownload(context.Background(), "track-1", "", "")
	require.Error(t, err)

	var quotaErr *backend.QuotaError
	require.ErrorAs(t, err, &quotaErr)
	assert.Contains(t, quotaErr.Error(), "3 of 3")

	// The failed job must not block a retry
	_, active := o.Status("track-1", "")
	assert.False(t, active)
}

func TestStartDownload_AccessDenied(t *testing.T) {
	fb := newFakeDownloadBackend(t)
	fb.accessGranted = false
	o := setupOrchestrator(t, fb)

	var failedJob *Job
	var failedMu sync.Mutex
	o.SetCallbacks(Callbacks{
		OnError: func(job Job) {
			failedMu.Lock()
			failedJob = &job
			failedMu.Unlock()
		},
	})

	_, err := o.StartDownload(context.Background(), "track-1", "", "")
	assert.ErrorIs(t, err, ErrAccessDenied)
	// The server's denial text rides along for the caller
	assert.Contains(t, err.Error(), "Downloads require premium")

	failedMu.Lock()
	defer failedMu.Unlock()
	require.NotNil(t, failedJob)
	assert.Equal(t, JobStateFailed, failedJob.State)
	assert.Contains(t, failedJob.Error, "Downloads require premium")
}
