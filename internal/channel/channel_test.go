package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filedeck/backend/internal/models"
	"github.com/filedeck/backend/internal/remote"
	"github.com/filedeck/backend/internal/testutil"
)

const testRedisAddr = "localhost:6379"

func receive(t *testing.T, ch <-chan models.StatusUpdate) models.StatusUpdate {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "channel closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
	}
	return models.StatusUpdate{}
}

func receiveMatching(t *testing.T, ch <-chan models.StatusUpdate, match func(models.StatusUpdate) bool) models.StatusUpdate {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "channel closed")
			if match(u) {
				return u
			}
		case <-deadline:
			t.Fatal("timed out waiting for a matching update")
		}
	}
}

func TestDecodeUpdate(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  models.StatusUpdate
		ok    bool
	}{
		{"envelope", `{"event":"fileStatus","data":{"fileId":"f1","status":"completed"}}`, models.StatusUpdate{FileID: "f1", Status: models.RemoteCompleted}, true},
		{"bare object", `{"fileId":"f2","status":"failed","error":"bad"}`, models.StatusUpdate{FileID: "f2", Status: models.RemoteFailed, Error: "bad"}, true},
		{"socket.io array", `["fileStatus",{"fileId":"f3","status":"processing"}]`, models.StatusUpdate{FileID: "f3", Status: models.RemoteProcessing}, true},
		{"other event", `{"event":"heartbeat","data":{}}`, models.StatusUpdate{}, false},
		{"other array event", `["notice",{"fileId":"f4","status":"pending"}]`, models.StatusUpdate{}, false},
		{"unknown status", `{"fileId":"f5","status":"archived"}`, models.StatusUpdate{}, false},
		{"missing id", `{"status":"completed"}`, models.StatusUpdate{}, false},
		{"garbage", `hello`, models.StatusUpdate{}, false},
		{"empty", ``, models.StatusUpdate{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeUpdate([]byte(tt.frame))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebSocket_ReceivesUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	authHeader := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"fileStatus","data":{"fileId":"srv-1","status":"completed"}}`))

		// Hold the connection open until the client leaves.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws := NewWebSocket(url, func() string { return "tok" }, 50*time.Millisecond, zerolog.Nop())

	require.NoError(t, ws.Connect(context.Background()))
	assert.Equal(t, "Bearer tok", <-authHeader)

	u := receive(t, ws.Updates())
	assert.Equal(t, "srv-1", u.FileID)
	assert.Equal(t, models.RemoteCompleted, u.Status)

	require.NoError(t, ws.Disconnect())
	_, ok := <-ws.Updates()
	assert.False(t, ok)
}

func TestWebSocket_Reconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var connections int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if atomic.AddInt32(&connections, 1) == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"fileId":"after-reconnect","status":"processing"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), nil, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Disconnect()

	u := receive(t, ws.Updates())
	assert.Equal(t, "after-reconnect", u.FileID)
}

func TestWebSocket_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ws := NewWebSocket("ws"+strings.TrimPrefix(srv.URL, "http"), nil, 0, zerolog.Nop())
	err := ws.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestPoller_EmitsEveryListing(t *testing.T) {
	fake := testutil.NewFakeRemote()
	fake.Seed(remote.FileResponse{ID: "a", Status: models.RemoteProcessing})
	fake.Seed(remote.FileResponse{ID: "b", Status: models.RemoteProcessing})

	p := NewPoller(fake, 20*time.Millisecond, 10, zerolog.Nop())
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	first := []string{receive(t, p.Updates()).FileID, receive(t, p.Updates()).FileID}
	assert.ElementsMatch(t, []string{"a", "b"}, first)

	// Unchanged files are listed again on the next poll.
	again := []string{receive(t, p.Updates()).FileID, receive(t, p.Updates()).FileID}
	assert.ElementsMatch(t, []string{"a", "b"}, again)

	fake.SetStatus("b", models.RemoteCompleted, "done")
	u := receiveMatching(t, p.Updates(), func(u models.StatusUpdate) bool {
		return u.FileID == "b" && u.Status == models.RemoteCompleted
	})
	assert.Equal(t, "done", u.Summary)

	assert.ErrorIs(t, p.Connect(context.Background()), ErrConnected)
}

func TestPoller_ForgetsDeletedFiles(t *testing.T) {
	fake := testutil.NewFakeRemote()
	fake.Seed(remote.FileResponse{ID: "gone", Status: models.RemoteProcessing})

	p := NewPoller(fake, 20*time.Millisecond, 10, zerolog.Nop())
	require.NoError(t, p.Connect(context.Background()))
	defer p.Disconnect()

	assert.Equal(t, "gone", receive(t, p.Updates()).FileID)
	require.NoError(t, fake.Delete(context.Background(), "gone"))
	fake.Seed(remote.FileResponse{ID: "gone", Status: models.RemoteProcessing})

	// A file id that comes back is reported again.
	u := receiveMatching(t, p.Updates(), func(u models.StatusUpdate) bool { return u.FileID == "gone" })
	assert.Equal(t, models.RemoteProcessing, u.Status)
}

func TestPoller_DisconnectClosesStream(t *testing.T) {
	p := NewPoller(testutil.NewFakeRemote(), time.Hour, 10, zerolog.Nop())
	require.NoError(t, p.Connect(context.Background()))
	updates := p.Updates()

	require.NoError(t, p.Disconnect())
	_, ok := <-updates
	assert.False(t, ok)

	// A disconnected channel can connect again.
	require.NoError(t, p.Connect(context.Background()))
	require.NoError(t, p.Disconnect())
}

func TestRedis_PublishSubscribe(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}

	ch := NewRedis(client, "test:"+t.Name(), zerolog.Nop())
	require.NoError(t, ch.Connect(ctx))
	defer ch.Disconnect()

	require.NoError(t, ch.Publish(ctx, models.StatusUpdate{FileID: "r1", Status: models.RemoteFailed, Error: "boom"}))

	u := receive(t, ch.Updates())
	assert.Equal(t, "r1", u.FileID)
	assert.Equal(t, models.RemoteFailed, u.Status)
	assert.Equal(t, "boom", u.Error)
}
