package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/mayishidai/tradingagents-cn/internal/models"
)

// memHistory is an in-memory JobHistoryStorage for scheduler tests
type memHistory struct {
	mu      sync.Mutex
	entries []*models.JobHistoryEntry
}

func (h *memHistory) Append(ctx context.Context, entry *models.JobHistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, entry)
	return nil
}

func (h *memHistory) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]*models.JobHistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var result []*models.JobHistoryEntry
	for _, e := range h.entries {
		if e.JobID == jobID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (h *memHistory) ListAll(ctx context.Context, limit, offset int) ([]*models.JobHistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*models.JobHistoryEntry(nil), h.entries...), nil
}

func (h *memHistory) Prune(ctx context.Context, jobID string, keep int) error { return nil }

func (h *memHistory) countAction(jobID string, action models.JobHistoryAction) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for _, e := range h.entries {
		if e.JobID == jobID && e.Action == action {
			count++
		}
	}
	return count
}

// memMetadata is an in-memory JobMetadataStorage
type memMetadata struct {
	mu    sync.Mutex
	metas map[string]*models.JobMetadata
}

func (m *memMetadata) Save(ctx context.Context, meta *models.JobMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metas == nil {
		m.metas = make(map[string]*models.JobMetadata)
	}
	m.metas[meta.JobID] = meta
	return nil
}

func (m *memMetadata) Get(ctx context.Context, jobID string) (*models.JobMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metas[jobID], nil
}

func newTestScheduler(t *testing.T) (*Service, *memHistory) {
	history := &memHistory{}
	svc := NewService(history, &memMetadata{}, nil, 100, arbor.NewLogger())
	t.Cleanup(func() { svc.Stop() })
	return svc, history
}

func definition(id string) *models.JobDefinition {
	return &models.JobDefinition{
		ID:           id,
		DisplayName:  "Test " + id,
		Schedule:     "0 3 * * *", // Far from now: tests drive fires manually
		MaxInstances: 1,
	}
}

func TestTriggerRunsJobAndRecordsHistory(t *testing.T) {
	svc, history := newTestScheduler(t)

	var runs int32
	require.NoError(t, svc.RegisterJob(definition("sync-daily"), func() error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))
	require.NoError(t, svc.Start())

	require.NoError(t, svc.Trigger("sync-daily"))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return history.countAction("sync-daily", models.JobActionTrigger) == 1
	}, 2*time.Second, 10*time.Millisecond)

	status, err := svc.GetJob("sync-daily")
	require.NoError(t, err)
	assert.NotNil(t, status.LastRun)
	assert.Empty(t, status.LastError)
}

func TestMaxInstancesSkipIsRecorded(t *testing.T) {
	svc, history := newTestScheduler(t)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, svc.RegisterJob(definition("slow-job"), func() error {
		close(started)
		<-release
		return nil
	}))
	require.NoError(t, svc.Start())

	require.NoError(t, svc.Trigger("slow-job"))
	<-started

	// Second fire while the first still runs: skipped, not queued
	require.NoError(t, svc.Trigger("slow-job"))

	require.Eventually(t, func() bool {
		return history.countAction("slow-job", models.JobActionSkipped) == 1
	}, 2*time.Second, 10*time.Millisecond)

	close(release)

	require.Eventually(t, func() bool {
		return history.countAction("slow-job", models.JobActionTrigger) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPauseAndResume(t *testing.T) {
	svc, history := newTestScheduler(t)

	require.NoError(t, svc.RegisterJob(definition("pausable"), func() error { return nil }))
	require.NoError(t, svc.Start())

	require.NoError(t, svc.Pause("pausable"))

	status, err := svc.GetJob("pausable")
	require.NoError(t, err)
	assert.True(t, status.Paused)
	assert.Equal(t, 1, history.countAction("pausable", models.JobActionPause))

	// Pausing twice records only once
	require.NoError(t, svc.Pause("pausable"))
	assert.Equal(t, 1, history.countAction("pausable", models.JobActionPause))

	// A scheduled fire is skipped while paused
	svc.fire("pausable", models.JobActionRun)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, history.countAction("pausable", models.JobActionRun))

	require.NoError(t, svc.Resume("pausable"))
	status, err = svc.GetJob("pausable")
	require.NoError(t, err)
	assert.False(t, status.Paused)
	assert.Equal(t, 1, history.countAction("pausable", models.JobActionResume))
}

func TestTriggerRunsWhilePaused(t *testing.T) {
	svc, history := newTestScheduler(t)

	var runs int32
	require.NoError(t, svc.RegisterJob(definition("paused-trigger"), func() error {
		atomic.AddInt32(&runs, 1)
		return nil
	}))
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Pause("paused-trigger"))

	require.NoError(t, svc.Trigger("paused-trigger"))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return history.countAction("paused-trigger", models.JobActionTrigger) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPanicInJobIsContained(t *testing.T) {
	svc, history := newTestScheduler(t)

	require.NoError(t, svc.RegisterJob(definition("panicky"), func() error {
		panic("boom")
	}))
	require.NoError(t, svc.Start())

	require.NoError(t, svc.Trigger("panicky"))

	require.Eventually(t, func() bool {
		entries, _ := history.ListByJob(context.Background(), "panicky", 0, 0)
		for _, e := range entries {
			if e.Status == "failed" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	status, err := svc.GetJob("panicky")
	require.NoError(t, err)
	assert.Contains(t, status.LastError, "panic")
	assert.Equal(t, 0, status.Running, "running count must be released after a panic")
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestScheduler(t)

	assert.Error(t, svc.RegisterJob(nil, func() error { return nil }))
	assert.Error(t, svc.RegisterJob(&models.JobDefinition{ID: "no-schedule"}, func() error { return nil }))
	assert.Error(t, svc.RegisterJob(definition("no-fn"), nil))

	require.NoError(t, svc.RegisterJob(definition("dup"), func() error { return nil }))
	assert.Error(t, svc.RegisterJob(definition("dup"), func() error { return nil }))

	bad := definition("bad-cron")
	bad.Schedule = "not a cron expr"
	assert.Error(t, svc.RegisterJob(bad, func() error { return nil }))
}

func TestStats(t *testing.T) {
	svc, _ := newTestScheduler(t)

	require.NoError(t, svc.RegisterJob(definition("a"), func() error { return nil }))
	require.NoError(t, svc.RegisterJob(definition("b"), func() error { return nil }))
	require.NoError(t, svc.Pause("b"))
	require.NoError(t, svc.Start())

	stats := svc.Stats()
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 1, stats.PausedJobs)
	assert.True(t, stats.Running)
}

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()

	good := `id: sync-a-shares
display_name: Sync A-shares
schedule: "0 18 * * 1-5"
max_instances: 1
job_type: market_sync
market: domestic-equity
symbols: ["600519", "600036"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sync.yaml"), []byte(good), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("{{nope"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not yaml"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "no-id.yaml"), []byte("schedule: \"* * * * *\"\n"), 0644))

	defs, err := LoadDefinitions(dir, arbor.NewLogger())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "sync-a-shares", defs[0].ID)
	assert.Equal(t, "market_sync", defs[0].JobType)
	assert.Equal(t, []string{"600519", "600036"}, defs[0].Symbols)

	// Missing directory is not an error
	defs, err = LoadDefinitions(filepath.Join(dir, "missing"), arbor.NewLogger())
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestUpdateMetadata(t *testing.T) {
	svc, _ := newTestScheduler(t)

	require.NoError(t, svc.RegisterJob(definition("meta"), func() error { return nil }))
	require.NoError(t, svc.UpdateMetadata("meta", "Renamed", "New description"))

	status, err := svc.GetJob("meta")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", status.DisplayName)
	assert.Equal(t, "New description", status.Description)

	assert.Error(t, svc.UpdateMetadata("missing", "x", "y"))
}

func TestDoubleStartFails(t *testing.T) {
	svc, _ := newTestScheduler(t)
	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start())
	assert.True(t, svc.IsRunning())
	require.NoError(t, svc.Stop())
	assert.False(t, svc.IsRunning())
}
