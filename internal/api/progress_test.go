package api

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhossain1509/email-database-manager/internal/db"
	"github.com/jhossain1509/email-database-manager/internal/events"
	redisstore "github.com/jhossain1509/email-database-manager/internal/storage/redis"
)

func TestJobProgressRelaysUntilFinished(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redisstore.NewClient("redis://" + mr.Addr())
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	sink := events.NewRedisSink(client.Client)

	ts := newTestServer(t, sink)
	ts.store.jobs["j1"] = &db.Job{ID: "j1", Type: db.JobValidate, Status: db.JobRunning, TenantID: "t1", Total: 3}

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/j1/ws?token=" + token(t, "t1", false, false)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot map[string]interface{}
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "running", snapshot["status"])

	channel := events.Channel("j1")
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(channel)[channel] == 1
	}, 5*time.Second, 10*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, sink.Publish(ctx, events.Progress{JobID: "j1", Status: "running", Current: 2, Total: 3, Percent: 66.67}))
	require.NoError(t, sink.Publish(ctx, events.Progress{JobID: "j1", Status: "completed", Current: 3, Total: 3, Percent: 100, Message: "done"}))

	var p events.Progress
	require.NoError(t, conn.ReadJSON(&p))
	assert.Equal(t, 2, p.Current)

	require.NoError(t, conn.ReadJSON(&p))
	assert.Equal(t, "completed", p.Status)
	assert.Equal(t, "done", p.Message)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestJobProgressClosesForFinishedJob(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.store.jobs["j1"] = &db.Job{ID: "j1", Type: db.JobExport, Status: db.JobCompleted, TenantID: "t1"}

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/j1/ws?token=" + token(t, "t1", false, false)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot map[string]interface{}
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "completed", snapshot["status"])

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestJobProgressSeesCompletionBeforeSubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redisstore.NewClient("redis://" + mr.Addr())
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	ts := newTestServer(t, events.NewRedisSink(client.Client))
	ts.store.jobs["j1"] = &db.Job{ID: "j1", Type: db.JobImport, Status: db.JobRunning, TenantID: "t1"}
	// the job finishes after the first read returned running; its terminal
	// event went out before anyone listened
	ts.store.onJobRead = func(j *db.Job, read int) {
		if read == 1 {
			j.Status = db.JobCompleted
		}
	}

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/jobs/j1/ws?token=" + token(t, "t1", false, false)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot map[string]interface{}
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "completed", snapshot["status"])

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
