package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/events"
)

type memoryStore struct {
	mu    sync.Mutex
	saved []db.Job
	err   error
}

func (s *memoryStore) SaveJob(_ context.Context, j *db.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, *j)
	return nil
}

func (s *memoryStore) last() db.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[len(s.saved)-1]
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Progress
	err    error
}

func (s *recordingSink) Publish(_ context.Context, p events.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, p)
	return nil
}

type failureCounter struct {
	count int
}

func (f *failureCounter) RecordPublishFailure(string) { f.count++ }

func newJob() *db.Job {
	return &db.Job{ID: "job-1", Type: db.JobImport, Status: db.JobPending}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		processed, total int
		want             float64
	}{
		{0, 0, 0},
		{5, 0, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{3, 3, 100},
		{7, 3, 100},
		{50, 400, 12.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.processed, tt.total), "%d/%d", tt.processed, tt.total)
	}
}

func TestTrackerLifecycle(t *testing.T) {
	store := &memoryStore{}
	sink := &recordingSink{}
	tr := NewTracker(newJob(), store, sink, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, 200))
	assert.Equal(t, db.JobRunning, store.last().Status)
	assert.NotNil(t, store.last().StartedAt)

	require.NoError(t, tr.ApplyProgress(ctx, 100, 1))
	assert.Equal(t, 50.0, store.last().ProgressPercent)

	tr.RecordError()
	assert.Equal(t, 2, tr.Errors())

	require.NoError(t, tr.Complete(ctx, "Imported 190 emails, rejected 10, duplicates 0", map[string]interface{}{"imported": 190}))
	final := store.last()
	assert.Equal(t, db.JobCompleted, final.Status)
	assert.Equal(t, 100.0, final.ProgressPercent)
	assert.Equal(t, 200, final.Processed)
	assert.Equal(t, 2, final.Errors)
	assert.Equal(t, 190, final.ResultData["imported"])
	assert.NotNil(t, final.CompletedAt)

	require.Len(t, sink.events, 3)
	assert.Equal(t, "completed", sink.events[2].Status)
	assert.Equal(t, "Imported 190 emails, rejected 10, duplicates 0", sink.events[2].Message)
}

func TestTrackerRejectsRegression(t *testing.T) {
	store := &memoryStore{}
	tr := NewTracker(newJob(), store, nil, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, 100))
	require.NoError(t, tr.ApplyProgress(ctx, 60, 2))

	err := tr.ApplyProgress(ctx, 40, 2)
	assert.ErrorIs(t, err, ErrProgressRegression)
	err = tr.ApplyProgress(ctx, 70, 1)
	assert.ErrorIs(t, err, ErrProgressRegression)

	snap := tr.Snapshot()
	assert.Equal(t, 60, snap.Processed)
	assert.Equal(t, 2, snap.Errors)
	assert.Equal(t, 60.0, snap.ProgressPercent)
}

func TestTrackerTerminalIsSticky(t *testing.T) {
	store := &memoryStore{}
	tr := NewTracker(newJob(), store, nil, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, 10))
	require.NoError(t, tr.Fail(ctx, errors.New("batch not found")))

	assert.ErrorIs(t, tr.Complete(ctx, "done", nil), ErrTerminal)
	assert.ErrorIs(t, tr.ApplyProgress(ctx, 10, 0), ErrTerminal)
	assert.ErrorIs(t, tr.Start(ctx, 10), ErrTerminal)

	snap := tr.Snapshot()
	assert.Equal(t, db.JobFailed, snap.Status)
	assert.Equal(t, "batch not found", snap.ErrorMessage)
}

func TestTrackerPublishFailureIsNotFatal(t *testing.T) {
	store := &memoryStore{}
	sink := &recordingSink{err: errors.New("redis down")}
	counter := &failureCounter{}
	tr := NewTracker(newJob(), store, sink, counter, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, 10))
	require.NoError(t, tr.ApplyProgress(ctx, 5, 0))
	require.NoError(t, tr.Complete(ctx, "ok", nil))

	assert.Equal(t, 3, counter.count)
	assert.Equal(t, db.JobCompleted, store.last().Status)
}

func TestTrackerStoreFailureIsReturned(t *testing.T) {
	store := &memoryStore{err: errors.New("connection reset")}
	tr := NewTracker(newJob(), store, nil, nil, zap.NewNop())

	err := tr.Start(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
