package progress

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talefeed/talefeed/internal/models"
	"github.com/talefeed/talefeed/internal/store"
)

// mockSaver is a test helper implementing the saver interface
type mockSaver struct {
	mu       sync.Mutex
	saved    []models.ProgressRecord
	saveErr  error
	beacons  []models.ProgressRecord
	loadResp *models.ProgressRecord
	loadErr  error
}

func (m *mockSaver) SaveProgress(ctx context.Context, record models.ProgressRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, record)
	return nil
}

func (m *mockSaver) LoadProgress(ctx context.Context, trackID, voice string) (*models.ProgressRecord, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.loadResp, nil
}

func (m *mockSaver) SaveProgressBeacon(record models.ProgressRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beacons = append(m.beacons, record)
}

func (m *mockSaver) savedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func setupTestQueue(t *testing.T) *store.ProgressQueueRepository {
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

	return store.NewRepositories(st).ProgressQueue
}

func snapshot(position float64) Snapshot {
	return Snapshot{
		TrackID:  "track-1",
		VoiceID:  "voice-a",
		Position: position,
		Duration: 600,
		Playing:  true,
	}
}

func TestSyncProgress_WritesToBackend(t *testing.T) {
	saver := &mockSaver{}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	require.NoError(t, p.SyncProgress(context.Background(), snapshot(100), false))

	require.Equal(t, 1, saver.savedCount())
	assert.Equal(t, int64(100), saver.saved[0].Position)
	assert.True(t, saver.saved[0].IsPlaying)
}

func TestSyncProgress_RateLimited(t *testing.T) {
	saver := &mockSaver{}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	require.NoError(t, p.SyncProgress(context.Background(), snapshot(100), false))
	// Same item, small drift, inside the interval: suppressed
	require.NoError(t, p.SyncProgress(context.Background(), snapshot(101), false))

	assert.Equal(t, 1, saver.savedCount())
}

func TestSyncProgress_DriftBypassesRateLimit(t *testing.T) {
	saver := &mockSaver{}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	require.NoError(t, p.SyncProgress(context.Background(), snapshot(100), false))
	require.NoError(t, p.SyncProgress(context.Background(), snapshot(110), false))

	assert.Equal(t, 2, saver.savedCount())
}

func TestSyncProgress_ForceBypassesRateLimit(t *testing.T) {
	saver := &mockSaver{}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	require.NoError(t, p.SyncProgress(context.Background(), snapshot(100), false))
	require.NoError(t, p.SyncProgress(context.Background(), snapshot(101), true))

	assert.Equal(t, 2, saver.savedCount())
}

func TestSyncProgress_SkipsInvalidSnapshots(t *testing.T) {
	saver := &mockSaver{}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	ctx := context.Background()

	require.NoError(t, p.SyncProgress(ctx, Snapshot{}, true))
	require.NoError(t, p.SyncProgress(ctx, Snapshot{TrackID: "t", Duration: 0}, true))

	seeking := snapshot(100)
	seeking.SeekInFlight = true
	require.NoError(t, p.SyncProgress(ctx, seeking, true))

	assert.Equal(t, 0, saver.savedCount())
}

func TestSyncProgress_PausedSkips(t *testing.T) {
	saver := &mockSaver{}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	p.Pause()
	require.NoError(t, p.SyncProgress(context.Background(), snapshot(100), true))
	assert.Equal(t, 0, saver.savedCount())

	p.Resume()
	require.NoError(t, p.SyncProgress(context.Background(), snapshot(100), true))
	assert.Equal(t, 1, saver.savedCount())
}

func TestSyncProgress_OfflineEnqueues(t *testing.T) {
	saver := &mockSaver{}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, func() bool { return false }, 30*time.Second)

	require.NoError(t, p.SyncProgress(context.Background(), snapshot(100), true))

	assert.Equal(t, 0, saver.savedCount())
	count, err := queue.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSyncProgress_FailureEnqueuesAndDedupes(t *testing.T) {
	saver := &mockSaver{saveErr: errors.New("backend down")}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	ctx := context.Background()

	// Two saves within the dedupe window collapse to one entry
	require.NoError(t, p.SyncProgress(ctx, snapshot(100), true))
	require.NoError(t, p.SyncProgress(ctx, snapshot(103), true))

	count, err := queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	entries, err := queue.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(103), entries[0].Position)
}

func TestSyncProgress_QueueBounded(t *testing.T) {
	saver := &mockSaver{saveErr: errors.New("backend down")}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	ctx := context.Background()

	// Positions spaced past the dedupe window so every save queues
	for i := 0; i < 15; i++ {
		require.NoError(t, p.SyncProgress(ctx, snapshot(float64(i*20)), true))
	}

	count, err := queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), count)
}

func TestProcessQueue_DrainsOnSuccess(t *testing.T) {
	saver := &mockSaver{saveErr: errors.New("backend down")}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	ctx := context.Background()

	require.NoError(t, p.SyncProgress(ctx, snapshot(100), true))
	require.NoError(t, p.SyncProgress(ctx, snapshot(200), true))

	saver.mu.Lock()
	saver.saveErr = nil
	saver.mu.Unlock()

	require.NoError(t, p.ProcessQueue(ctx))

	assert.Equal(t, 2, saver.savedCount())
	count, err := queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestProcessQueue_DropsAfterRetryCap(t *testing.T) {
	saver := &mockSaver{saveErr: errors.New("backend down")}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	ctx := context.Background()

	require.NoError(t, p.SyncProgress(ctx, snapshot(100), true))

	// Each failed drain bumps attempts; the third failure drops the entry
	require.NoError(t, p.ProcessQueue(ctx))
	require.NoError(t, p.ProcessQueue(ctx))
	require.NoError(t, p.ProcessQueue(ctx))

	count, err := queue.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestLoadProgress_NilOnFailure(t *testing.T) {
	saver := &mockSaver{loadErr: errors.New("unreachable")}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	assert.Nil(t, p.LoadProgress(context.Background(), "track-1", ""))
}

func TestFlush_FiresBeacon(t *testing.T) {
	saver := &mockSaver{}
	queue := setupTestQueue(t)
	p := NewPersistence(saver, queue, nil, 30*time.Second)

	p.Flush(snapshot(100))
	p.Flush(Snapshot{}) // nothing loaded, no beacon

	require.Len(t, saver.beacons, 1)
	assert.Equal(t, int64(100), saver.beacons[0].Position)
}
