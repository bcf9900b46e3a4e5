package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/ssrdev/internal/compiler"
	"github.com/conneroisu/ssrdev/internal/config"
	"github.com/conneroisu/ssrdev/internal/errors"
)

func TestCheckOrigin(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 3333
	hub := NewHub(cfg, nil, nil)

	tests := []struct {
		name     string
		origin   string
		host     string
		expected bool
	}{
		{name: "same host", origin: "http://dev.internal:9000", host: "dev.internal:9000", expected: true},
		{name: "configured address", origin: "http://localhost:3333", host: "example", expected: true},
		{name: "loopback address", origin: "http://127.0.0.1:3333", host: "example", expected: true},
		{name: "https origin", origin: "https://localhost:3333", host: "example", expected: true},
		{name: "other port", origin: "http://localhost:3000", host: "localhost:3333", expected: false},
		{name: "external origin", origin: "http://malicious.com", host: "localhost:3333", expected: false},
		{name: "javascript scheme", origin: "javascript:alert(1)", host: "localhost:3333", expected: false},
		{name: "file scheme", origin: "file:///etc/passwd", host: "localhost:3333", expected: false},
		{name: "missing origin", origin: "", host: "localhost:3333", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, ReloadPath, nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			_, ok := hub.checkOrigin(req)
			assert.Equal(t, tt.expected, ok)
		})
	}
}

func TestReloadRejectsForeignOrigin(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, ReloadPath, nil)
	req.Header.Set("Origin", "http://malicious.com")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBroadcastWithoutRunIsDropped(t *testing.T) {
	hub := NewHub(config.Default(), nil, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastBuffer*2; i++ {
			hub.Broadcast(ReloadMessage{Type: MessageReload})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
}

func dialReload(t *testing.T, h *harness) (*websocket.Conn, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	go h.server.Hub().Run(ctx)

	srv := httptest.NewServer(h.handler)

	require.Eventually(t, func() bool {
		return h.server.Hub().running.Load()
	}, 2*time.Second, 10*time.Millisecond)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + ReloadPath
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{srv.URL}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.server.Hub().ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	return conn, func() {
		conn.Close(websocket.StatusNormalClosure, "")
		srv.Close()
		cancel()
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) ReloadMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg ReloadMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestReloadChannelFollowsPasses(t *testing.T) {
	h := newHarness(t, nil)
	conn, closeAll := dialReload(t, h)
	defer closeAll()

	require.NoError(t, h.compile(1, []byte("one")))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageReload, msg.Type)
	assert.Equal(t, uint64(1), msg.Pass)

	_, _ = h.manager.HandlePass(context.Background(), compiler.Pass{
		ID:   2,
		Kind: compiler.PassFailure,
		Stats: compiler.Stats{Errors: []*errors.ParsedError{{
			Type:     errors.BuildErrorTypeGoCompile,
			Severity: errors.ErrorSeverityError,
			File:     "server/main.go",
			Line:     9,
			Message:  "missing return",
		}}},
	})
	msg = readMessage(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, uint64(2), msg.Pass)
	assert.Contains(t, msg.Content, "server/main.go:9")
	assert.Contains(t, msg.Content, "missing return")

	require.Error(t, h.compile(3, []byte("bad module")))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageError, msg.Type)
	assert.Contains(t, msg.Content, "evaluation failed")

	require.NoError(t, h.compile(4, []byte("four")))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageClear, msg.Type)
	msg = readMessage(t, conn)
	assert.Equal(t, MessageReload, msg.Type)
	assert.Equal(t, uint64(4), msg.Pass)
}

func TestReloadClientDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	conn, closeAll := dialReload(t, h)
	defer closeAll()

	conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return h.server.Hub().ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReloadDisabled(t *testing.T) {
	h := newHarness(t, nil, func(c *config.Config) {
		c.Development.HotReload = false
	})

	req := httptest.NewRequest(http.MethodGet, ReloadPath, nil)
	req.Header.Set("Origin", "http://localhost:3333")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	// Without the reload route the path is an ordinary render.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
