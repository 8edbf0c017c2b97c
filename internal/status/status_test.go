package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/uip/internal/state"
)

type fixedSource struct{ snap state.Snapshot }

func (f fixedSource) Snapshot() state.Snapshot { return f.snap }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv, err := New(fixedSource{state.Snapshot{
		ID:     "me",
		Relays: []string{"relay1"},
		Routes: []state.RouteKey{{PeerID: "relay1", Channel: 1}},
	}}, 50*time.Millisecond)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "uip_routing_misses_total")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestStateEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap state.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "me", snap.ID)
	assert.Equal(t, []state.RouteKey{{PeerID: "relay1", Channel: 1}}, snap.Routes)

	post, err := http.Post(ts.URL+"/state", "application/json", nil)
	require.NoError(t, err)
	post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestWebsocketPushesSnapshots(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var snap state.Snapshot
		require.NoError(t, conn.ReadJSON(&snap))
		assert.Equal(t, []string{"relay1"}, snap.Relays)
	}
}

func TestNewTwiceDoesNotConflict(t *testing.T) {
	_, err := New(fixedSource{}, time.Second)
	require.NoError(t, err)
	_, err = New(fixedSource{}, time.Second)
	assert.NoError(t, err, "each server owns its registry")
}
