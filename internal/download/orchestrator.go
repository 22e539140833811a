// Package download coordinates offline download jobs against the backend's
// download pipeline, deduplicating concurrent requests per track and voice.
package download

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talefeed/talefeed/internal/access"
	"github.com/talefeed/talefeed/internal/backend"
	"github.com/talefeed/talefeed/internal/logger"
)

const pollInterval = 1 * time.Second

// Job states
const (
	JobStatePending     = "pending"
	JobStateQueued      = "queued"
	JobStateDownloading = "downloading"
	JobStateCompleted   = "completed"
	JobStateFailed      = "failed"
)

var (
	ErrDownloadInProgress = errors.New("download already in progress for this track")
	ErrAccessDenied       = errors.New("download not permitted for this track")
)

// Job tracks one download request through its lifecycle
type Job struct {
	ID            string  `json:"id"`
	TrackID       string  `json:"track_id"`
	VoiceID       string  `json:"voice_id,omitempty"`
	State         string  `json:"state"`
	Progress      float64 `json:"progress"`
	QueuePosition int     `json:"queue_position,omitempty"`
	FilePath      string  `json:"file_path,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type jobKey struct {
	trackID string
	voiceID string
}

// Callbacks receive job lifecycle notifications
type Callbacks struct {
	OnProgress func(job Job)
	OnComplete func(job Job)
	OnError    func(job Job)
}

// Orchestrator manages download jobs. At most one job runs per
// (track, voice) pair; repeat requests return the running job.
type Orchestrator struct {
	client    *backend.Client
	gate      *access.Gate
	destDir   string
	callbacks Callbacks

	jobs map[jobKey]*Job
	mu   sync.Mutex
}

// NewOrchestrator creates a download orchestrator writing files to destDir
func NewOrchestrator(client *backend.Client, gate *access.Gate, destDir string) *Orchestrator {
	return &Orchestrator{
		client:  client,
		gate:    gate,
		destDir: destDir,
		jobs:    make(map[jobKey]*Job),
	}
}

// SetCallbacks wires job lifecycle notifications
func (o *Orchestrator) SetCallbacks(cb Callbacks) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = cb
}

// StartDownload verifies access, registers a job, and launches the poll
// loop. Returns the existing job when one is already active for the pair.
func (o *Orchestrator) StartDownload(ctx context.Context, trackID, voiceID, albumID string) (*Job, error) {
	key := jobKey{trackID: trackID, voiceID: voiceID}

	o.mu.Lock()
	if existing, ok := o.jobs[key]; ok {
		job := *existing
		o.mu.Unlock()
		return &job, ErrDownloadInProgress
	}
	job := &Job{
		ID:      uuid.New().String(),
		TrackID: trackID,
		VoiceID: voiceID,
		State:   JobStatePending,
	}
	o.jobs[key] = job
	o.mu.Unlock()

	decision := o.gate.CheckAccess(ctx, trackID, albumID)
	if !decision.Granted {
		// Surface the server's denial text, not a generic message
		o.failJob(key, decision.Message)
		return nil, fmt.Errorf("%w: %s", ErrAccessDenied, decision.Message)
	}

	if err := o.client.StartDownload(ctx, trackID, voiceID); err != nil {
		// Quota errors carry the formatted usage message for the caller
		var quotaErr *backend.QuotaError
		if errors.As(err, &quotaErr) {
			o.failJob(key, quotaErr.Error())
			return nil, quotaErr
		}
		o.failJob(key, "Failed to start download")
		return nil, err
	}

	snapshot := *job
	go o.pollJob(key)

	logger.Log.Info().
		Str("job_id", job.ID).
		Str("track_id", trackID).
		Str("voice_id", voiceID).
		Msg("Download started")

	return &snapshot, nil
}

// Status reports the job for a (track, voice) pair, if any
func (o *Orchestrator) Status(trackID, voiceID string) (*Job, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobKey{trackID: trackID, voiceID: voiceID}]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Jobs lists all active jobs
func (o *Orchestrator) Jobs() []Job {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Job, 0, len(o.jobs))
	for _, job := range o.jobs {
		out = append(out, *job)
	}
	return out
}

// pollJob tracks server-side preparation until the file is ready, then
// fetches it. Terminal states clear the dedupe entry so the pair can be
// retried.
func (o *Orchestrator) pollJob(key jobKey) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		status, err := o.client.DownloadStatus(ctx, key.trackID, key.voiceID)
		cancel()
		if err != nil {
			logger.Log.Warn().
				Err(err).
				Str("track_id", key.trackID).
				Msg("Download status poll failed")
			o.failJob(key, "Lost contact with download service")
			return
		}

		switch status.Status {
		case "queued":
			o.updateJob(key, JobStateQueued, status.Progress, status.QueuePosition)
		case "processing", "downloading":
			o.updateJob(key, JobStateDownloading, status.Progress, 0)
		case "completed":
			o.fetchFile(key)
			return
		case "error", "failed":
			o.failJob(key, "Download preparation failed")
			return
		}
	}
}

func (o *Orchestrator) fetchFile(key jobKey) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	path, err := o.client.FetchDownloadFile(ctx, key.trackID, key.voiceID, o.destDir)
	if err != nil {
		logger.Log.Error().
			Err(err).
			Str("track_id", key.trackID).
			Msg("Download file fetch failed")
		o.failJob(key, "Failed to retrieve download file")
		return
	}

	o.mu.Lock()
	job, ok := o.jobs[key]
	if !ok {
		o.mu.Unlock()
		return
	}
	job.State = JobStateCompleted
	job.Progress = 100
	job.FilePath = path
	snapshot := *job
	delete(o.jobs, key)
	onComplete := o.callbacks.OnComplete
	o.mu.Unlock()

	logger.Log.Info().
		Str("job_id", snapshot.ID).
		Str("path", path).
		Msg("Download completed")

	if onComplete != nil {
		onComplete(snapshot)
	}
}

func (o *Orchestrator) updateJob(key jobKey, state string, progress float64, queuePosition int) {
	o.mu.Lock()
	job, ok := o.jobs[key]
	if !ok {
		o.mu.Unlock()
		return
	}
	job.State = state
	job.Progress = progress
	job.QueuePosition = queuePosition
	snapshot := *job
	onProgress := o.callbacks.OnProgress
	o.mu.Unlock()

	if onProgress != nil {
		onProgress(snapshot)
	}
}

func (o *Orchestrator) failJob(key jobKey, message string) {
	o.mu.Lock()
	job, ok := o.jobs[key]
	if !ok {
		o.mu.Unlock()
		return
	}
	job.State = JobStateFailed
	job.Error = message
	snapshot := *job
	delete(o.jobs, key)
	onError := o.callbacks.OnError
	o.mu.Unlock()

	if onError != nil {
		onError(snapshot)
	}
}
