package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidrx/vidrx/internal/pipeline"
	"github.com/vidrx/vidrx/internal/reassembly"
	"github.com/vidrx/vidrx/internal/stats"
)

func newTestServer(t *testing.T) (*httptest.Server, *stats.Collector, *pipeline.Broadcaster) {
	t.Helper()

	collector := stats.NewCollector("run-test", time.Unix(0, 0))
	broadcaster := pipeline.NewBroadcaster()
	t.Cleanup(broadcaster.Close)

	srv := NewServer("127.0.0.1:0", collector, broadcaster)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return ts, collector, broadcaster
}

func TestStatsEndpoint(t *testing.T) {
	ts, collector, _ := newTestServer(t)

	collector.SetPeer("198.51.100.7:9000")
	collector.Update(stats.Snapshot{
		DatagramsReceived: 12,
		AcksSent:          11,
		Reassembly:        reassembly.Stats{FramesCompleted: 4},
	})

	resp, err := ts.Client().Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap stats.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "run-test", snap.RunID)
	assert.Equal(t, "198.51.100.7:9000", snap.PeerAddr)
	assert.Equal(t, uint64(12), snap.DatagramsReceived)
	assert.Equal(t, uint64(4), snap.Reassembly.FramesCompleted)
}

func TestStatsEndpointRejectsPost(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL+"/api/stats", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 405, resp.StatusCode)
}

func TestFrameTapStreamsPublishedFrames(t *testing.T) {
	ts, _, broadcaster := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/frames"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// Give the handler a moment to register its subscription.
	require.Eventually(t, func() bool {
		return broadcaster.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	broadcaster.Publish([]byte{0x00, 0x00, 0x00, 0x01, 0x65})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01, 0x65}, data)
}
