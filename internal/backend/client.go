// Package backend is the HTTP client for the media-subscription backend API.
// It consumes the progress, metadata, access, word-time, segment-progress and
// download endpoints; it does not define them.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/talefeed/talefeed/internal/logger"
	"github.com/talefeed/talefeed/internal/models"
)

const beaconTimeout = 3 * time.Second

// Client talks to the backend REST API
type Client struct {
	baseURL       string
	streamBaseURL string
	httpClient    *http.Client
}

// NewClient creates a backend client.
// baseURL is the API root, streamBaseURL the HLS manifest root.
func NewClient(baseURL, streamBaseURL string, requestTimeout time.Duration) *Client {
	return &Client{
		baseURL:       baseURL,
		streamBaseURL: streamBaseURL,
		httpClient:    &http.Client{Timeout: requestTimeout},
	}
}

// StreamBaseURL returns the HLS manifest root for stream URL generation
func (c *Client) StreamBaseURL() string {
	return c.streamBaseURL
}

// HTTPClient returns the underlying HTTP client, shared with the segment fetcher
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// errorBody is the backend's error envelope: {"error":{"message":"..."}}
type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// quotaBody is the 403 download body carrying usage counters
type quotaBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	DownloadsUsed  int `json:"downloads_used"`
	DownloadsLimit int `json:"downloads_limit"`
}

// getJSON issues a GET and decodes a 2xx response into out.
// Non-2xx responses are returned as StatusError with the parsed message.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError drains the body and builds a StatusError with the server message
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var parsed errorBody
	_ = json.Unmarshal(body, &parsed)

	return &StatusError{
		StatusCode: resp.StatusCode,
		Message:    parsed.Error.Message,
	}
}

// TrackMetadata fetches metadata for a track, optionally voice-qualified.
// The response carries the content version and, for tts, the voice inventory.
func (c *Client) TrackMetadata(ctx context.Context, trackID, voice string) (*models.TrackMetadata, error) {
	path := fmt.Sprintf("/api/tracks/%s/metadata", url.PathEscape(trackID))
	if voice != "" {
		path = fmt.Sprintf("/api/tracks/%s/voice/%s/metadata", url.PathEscape(trackID), url.PathEscape(voice))
	}

	var meta models.TrackMetadata
	if err := c.getJSON(ctx, path, nil, &meta); err != nil {
		return nil, err
	}
	if meta.TrackID == "" {
		meta.TrackID = trackID
	}
	return &meta, nil
}

// loadProgressResponse tolerates an absent position field, which the backend
// uses to signal no saved progress
type loadProgressResponse struct {
	TrackID   string `json:"track_id"`
	VoiceID   string `json:"voice_id"`
	Position  *int64 `json:"position"`
	Duration  int64  `json:"duration"`
	Completed bool   `json:"completed"`
	IsPlaying bool   `json:"is_playing"`
}

// LoadProgress fetches the saved resume point for a (track, voice) pair.
// Returns ErrNoProgress when the backend has nothing saved.
func (c *Client) LoadProgress(ctx context.Context, trackID, voice string) (*models.ProgressRecord, error) {
	path := fmt.Sprintf("/api/progress/load/%s", url.PathEscape(trackID))
	query := url.Values{}
	if voice != "" {
		query.Set("voice", voice)
	}

	var resp loadProgressResponse
	if err := c.getJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}
	if resp.Position == nil {
		return nil, ErrNoProgress
	}

	return &models.ProgressRecord{
		TrackID:   trackID,
		VoiceID:   resp.VoiceID,
		Position:  *resp.Position,
		Duration:  resp.Duration,
		Completed: resp.Completed,
		IsPlaying: resp.IsPlaying,
	}, nil
}

// SaveProgress posts a progress record
func (c *Client) SaveProgress(ctx context.Context, record models.ProgressRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize progress: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/progress/save", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}
	return nil
}

// SaveProgressBeacon fires a best-effort progress save without waiting for a
// usable response. Used on shutdown when the process may terminate before a
// normal request round trip completes.
func (c *Client) SaveProgressBeacon(record models.ProgressRecord) {
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/progress/save", bytes.NewReader(payload))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Log.Debug().Err(err).Msg("Beacon progress save failed")
		return
	}
	_ = resp.Body.Close()
}

// accessResponse is the 200 body of an access check
type accessResponse struct {
	GrantToken string `json:"grant_token"`
}

// CheckTrackAccess checks track-level access. A granted check may return an
// opaque grant token for streaming URLs. Denials surface as StatusError.
func (c *Client) CheckTrackAccess(ctx context.Context, trackID string) (string, error) {
	path := fmt.Sprintf("/api/tracks/%s/check-access", url.PathEscape(trackID))
	var resp accessResponse
	if err := c.getJSON(ctx, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.GrantToken, nil
}

// CheckAlbumAccess checks album-level access
func (c *Client) CheckAlbumAccess(ctx context.Context, albumID string) error {
	path := fmt.Sprintf("/api/albums/%s/check-access", url.PathEscape(albumID))
	return c.getJSON(ctx, path, nil, nil)
}

// WordTime looks up the playback time for a word index, used by read-along seeks
func (c *Client) WordTime(ctx context.Context, trackID string, wordIndex int, voiceID string) (*models.WordTime, error) {
	path := fmt.Sprintf("/api/tracks/%s/time-for-word", url.PathEscape(trackID))
	query := url.Values{}
	query.Set("word_index", fmt.Sprintf("%d", wordIndex))
	if voiceID != "" {
		query.Set("voice_id", voiceID)
	}

	var wt models.WordTime
	if err := c.getJSON(ctx, path, query, &wt); err != nil {
		return nil, err
	}
	return &wt, nil
}

// SegmentProgress fetches server-side transcoding progress for a track/voice
func (c *Client) SegmentProgress(ctx context.Context, trackID, voice string) (*models.SegmentProgress, error) {
	path := fmt.Sprintf("/api/segment-progress/%s", url.PathEscape(trackID))
	query := url.Values{}
	if voice != "" {
		query.Set("voice", voice)
	}

	var sp models.SegmentProgress
	if err := c.getJSON(ctx, path, query, &sp); err != nil {
		return nil, err
	}
	return &sp, nil
}

// StartDownload asks the backend to render a file for offline download.
// A 403 is interpreted as a quota rejection and returned as QuotaError.
func (c *Client) StartDownload(ctx context.Context, trackID, voice string) error {
	reqURL := c.baseURL + fmt.Sprintf("/api/tracks/%s/download", url.PathEscape(trackID))
	query := url.Values{}
	if voice != "" {
		query.Set("voice", voice)
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var parsed quotaBody
		_ = json.Unmarshal(body, &parsed)
		return &QuotaError{
			Message:        parsed.Error.Message,
			DownloadsUsed:  parsed.DownloadsUsed,
			DownloadsLimit: parsed.DownloadsLimit,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(resp)
	}
	return nil
}

// DownloadStatus fetches the render-job status for an offline download
func (c *Client) DownloadStatus(ctx context.Context, trackID, voice string) (*models.DownloadStatus, error) {
	path := fmt.Sprintf("/api/tracks/%s/status", url.PathEscape(trackID))
	query := url.Values{}
	if voice != "" {
		query.Set("voice", voice)
	}

	var status models.DownloadStatus
	if err := c.getJSON(ctx, path, query, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// FetchDownloadFile streams the rendered file to destDir and returns its path
func (c *Client) FetchDownloadFile(ctx context.Context, trackID, voice, destDir string) (string, error) {
	reqURL := c.baseURL + fmt.Sprintf("/api/tracks/%s/file", url.PathEscape(trackID))
	if voice != "" {
		query := url.Values{}
		query.Set("voice", voice)
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", c.statusError(resp)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	name := trackID
	if voice != "" {
		name = fmt.Sprintf("%s_%s", trackID, voice)
	}
	destPath := filepath.Join(destDir, name+".mp3")

	out, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = os.Remove(destPath)
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return destPath, nil
}

// Reachable probes the backend with a short-deadline request. Used by the
// network monitor for online/offline detection.
func (c *Client) Reachable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.baseURL+"/api/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}
