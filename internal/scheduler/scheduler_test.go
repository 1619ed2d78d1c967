package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/jobs"
	"github.com/jhossain1509/email-database-manager/internal/pipeline"
	"github.com/jhossain1509/email-database-manager/internal/queue"
	redisstore "github.com/jhossain1509/email-database-manager/internal/storage/redis"
)

func setupRedis(t *testing.T) (*redisstore.Client, *queue.RedisQueue) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redisstore.NewClient("redis://" + mr.Addr())
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, queue.NewRedisQueue(client.Client).WithPolling(10 * time.Millisecond)
}

func lockFactory(client *redisstore.Client) LockFactory {
	return func(key string, ttl time.Duration) JobLock {
		return client.NewLock(key, ttl)
	}
}

type countingDispatcher struct {
	mu    sync.Mutex
	seen  []string
	fails map[string]bool
}

func (d *countingDispatcher) Dispatch(_ context.Context, task *queue.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, task.JobID)
	if d.fails[task.JobID] {
		return errors.New("boom")
	}
	return nil
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

type jobRecorder struct {
	mu     sync.Mutex
	status map[string]int
}

func (r *jobRecorder) RecordJob(_ string, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status == nil {
		r.status = map[string]int{}
	}
	r.status[status]++
}

func (r *jobRecorder) RecordWorkerMetrics(string, int, float64) {}

func TestWorkerSkipsLockedJob(t *testing.T) {
	client, q := setupRedis(t)
	ctx := context.Background()

	held := client.NewLock("job:j1", time.Minute)
	ok, err := held.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	d := &countingDispatcher{}
	w := NewWorker(0, q, d, lockFactory(client), time.Minute, time.Second, nil, zap.NewNop())

	w.processTask(ctx, &queue.Task{JobID: "j1", Type: "import"})
	assert.Equal(t, 0, d.count())

	require.NoError(t, held.Release(ctx))
	w.processTask(ctx, &queue.Task{JobID: "j1", Type: "import"})
	assert.Equal(t, 1, d.count())

	// the worker released its own lock
	again := client.NewLock("job:j1", time.Minute)
	ok, err = again.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

type blockingDispatcher struct {
	started chan struct{}
	release chan struct{}
}

func (d *blockingDispatcher) Dispatch(context.Context, *queue.Task) error {
	close(d.started)
	<-d.release
	return nil
}

func TestWorkerRenewsLockDuringLongJob(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redisstore.NewClient("redis://" + mr.Addr())
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	d := &blockingDispatcher{started: make(chan struct{}), release: make(chan struct{})}
	q := queue.NewRedisQueue(client.Client).WithPolling(10 * time.Millisecond)
	w := NewWorker(0, q, d, lockFactory(client), 300*time.Millisecond, time.Second, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.processTask(context.Background(), &queue.Task{JobID: "long", Type: "import"})
		close(done)
	}()
	<-d.started

	// miniredis only expires keys when its clock is moved; without renewal
	// the second jump would outlive the 300ms TTL.
	mr.FastForward(250 * time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	mr.FastForward(250 * time.Millisecond)
	assert.True(t, mr.Exists("lock:job:long"), "lock expired while the job was running")

	close(d.release)
	<-done
	assert.False(t, mr.Exists("lock:job:long"))
}

func TestPoolDrainsQueue(t *testing.T) {
	client, q := setupRedis(t)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Push(context.Background(), &queue.Task{JobID: id, Type: "validate"}))
	}

	d := &countingDispatcher{fails: map[string]bool{"c": true}}
	rec := &jobRecorder{}
	pool := NewPool(PoolConfig{Concurrency: 3, PopTimeout: 100 * time.Millisecond, LockTTL: time.Minute}, q, d, lockFactory(client), rec, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return d.count() == 5 }, 5*time.Second, 20*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 4, rec.status["completed"])
	assert.Equal(t, 1, rec.status["failed"])
}

func TestEnqueueHealthCheck(t *testing.T) {
	_, q := setupRedis(t)
	creator := &fakeStore{jobs: map[string]*db.Job{}}

	s := NewScheduler(creator, q, time.Hour, zap.NewNop())
	job, err := s.EnqueueHealthCheck(context.Background())
	require.NoError(t, err)

	assert.Equal(t, db.JobSMTPHealth, job.Type)
	assert.Contains(t, creator.jobs, job.ID)

	task, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, job.ID, task.JobID)
	assert.Equal(t, "smtp_health", task.Type)
}

type fakeStore struct {
	pipeline.Store

	mu        sync.Mutex
	jobs      map[string]*db.Job
	endpoints []*db.SMTPEndpoint
	statuses  map[string]string
}

func (s *fakeStore) CreateJob(_ context.Context, j *db.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id string) (*db.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *fakeStore) SaveJob(_ context.Context, j *db.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *fakeStore) ListSMTPEndpoints(context.Context) ([]*db.SMTPEndpoint, error) {
	return s.endpoints, nil
}

func (s *fakeStore) UpdateSMTPTestStatus(_ context.Context, id, status string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses == nil {
		s.statuses = map[string]string{}
	}
	s.statuses[id] = status
	return nil
}

type fakeHealthProber map[string]error

func (p fakeHealthProber) HealthCheck(_ context.Context, ep *db.SMTPEndpoint) error {
	return p[ep.ID]
}

type healthGauge map[string]bool

func (g healthGauge) RecordEndpointHealth(id, _ string, healthy bool) { g[id] = healthy }

func TestHealthChecker(t *testing.T) {
	store := &fakeStore{
		jobs: map[string]*db.Job{"h1": {ID: "h1", Type: db.JobSMTPHealth, Status: db.JobPending}},
		endpoints: []*db.SMTPEndpoint{
			{ID: "ep-1", Host: "relay-1.test"},
			{ID: "ep-2", Host: "relay-2.test"},
		},
	}
	gauge := healthGauge{}
	hc := NewHealthChecker(store, fakeHealthProber{"ep-2": errors.New("auth failed")}, gauge, nil, nil, zap.NewNop())

	job, _ := store.GetJob(context.Background(), "h1")
	require.NoError(t, hc.Run(context.Background(), job))

	assert.Equal(t, map[string]string{"ep-1": TestStatusSuccess, "ep-2": TestStatusFailed}, store.statuses)
	assert.Equal(t, healthGauge{"ep-1": true, "ep-2": false}, gauge)

	saved := store.jobs["h1"]
	assert.Equal(t, db.JobCompleted, saved.Status)
	assert.Equal(t, "Checked 2 endpoints, 1 healthy", saved.ResultMessage)
}

func TestDispatchSkipsFinishedJob(t *testing.T) {
	store := &fakeStore{jobs: map[string]*db.Job{"j1": {ID: "j1", Type: db.JobImport, Status: db.JobCompleted}}}
	d := NewDispatcher(store, nil, nil, nil, nil, nil, nil, zap.NewNop())

	assert.NoError(t, d.Dispatch(context.Background(), &queue.Task{JobID: "j1"}))
}

func TestDispatchRejectsUnknownPolicy(t *testing.T) {
	params, err := jobs.EncodeParams(jobs.ImportParams{BatchID: "b1", SourcePath: "/tmp/x.csv", Policy: "guest"})
	require.NoError(t, err)
	store := &fakeStore{jobs: map[string]*db.Job{
		"j1": {ID: "j1", Type: db.JobImport, Status: db.JobPending, TenantID: "t1", Params: params},
	}}
	d := NewDispatcher(store, nil, nil, nil, nil, nil, nil, zap.NewNop())

	err = d.Dispatch(context.Background(), &queue.Task{JobID: "j1"})
	assert.ErrorIs(t, err, pipeline.ErrUnknownPolicy)
	assert.Equal(t, db.JobFailed, store.jobs["j1"].Status)
}

func TestDispatchRoutesHealthJobs(t *testing.T) {
	store := &fakeStore{
		jobs:      map[string]*db.Job{"h1": {ID: "h1", Type: db.JobSMTPHealth, Status: db.JobPending}},
		endpoints: []*db.SMTPEndpoint{{ID: "ep-1", Host: "relay.test"}},
	}
	hc := NewHealthChecker(store, fakeHealthProber{}, nil, nil, nil, zap.NewNop())
	d := NewDispatcher(store, nil, nil, nil, hc, nil, nil, zap.NewNop())

	require.NoError(t, d.Dispatch(context.Background(), &queue.Task{JobID: "h1"}))
	assert.Equal(t, db.JobCompleted, store.jobs["h1"].Status)
	assert.Equal(t, TestStatusSuccess, store.statuses["ep-1"])
}
