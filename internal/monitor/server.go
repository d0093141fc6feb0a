// Package monitor exposes a small diagnostic HTTP server: a JSON counters
// endpoint and a WebSocket tap streaming the rendered bitstream to a browser
// player. It observes the session through the stats collector and the frame
// broadcaster and never touches the receive loop directly.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dchest/uniuri"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/vidrx/vidrx/internal/pipeline"
	"github.com/vidrx/vidrx/internal/stats"
	"github.com/vidrx/vidrx/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local diagnostic endpoint
	},
}

// Server serves the diagnostic endpoints on a dedicated listener.
type Server struct {
	collector   *stats.Collector
	broadcaster *pipeline.Broadcaster
	httpServer  *http.Server
}

// NewServer creates a monitor server bound to addr when started.
func NewServer(addr string, collector *stats.Collector, broadcaster *pipeline.Broadcaster) *Server {
	s := &Server{
		collector:   collector,
		broadcaster: broadcaster,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws/frames", s.handleFrameTap)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() {
	logger := util.GetLogger()
	logger.Info("Monitor server listening", "addr", s.httpServer.Addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Monitor server failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the HTTP handler, used by tests to serve without binding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.collector.Snapshot()); err != nil {
		util.GetLogger().Error("Failed to encode stats", "error", err)
	}
}

// handleFrameTap streams the rendered bitstream over a WebSocket. Cached
// parameter sets arrive first so the client decoder can initialize before
// the next keyframe.
func (s *Server) handleFrameTap(w http.ResponseWriter, r *http.Request) {
	logger := util.GetLogger()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade frame tap connection", "error", err)
		return
	}
	defer conn.Close()

	subscriberID := "tap-" + uniuri.NewLen(8)
	frames := s.broadcaster.Subscribe(subscriberID, 64)
	defer s.broadcaster.Unsubscribe(subscriberID)

	logger.Info("Frame tap connected", "subscriber", subscriberID)

	// Reads only detect client disconnect; the tap is one-way.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			logger.Debug("Frame tap client disconnected", "subscriber", subscriberID)
			return
		case data, ok := <-frames:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				logger.Debug("Frame tap write failed", "subscriber", subscriberID, "error", err)
				return
			}
		}
	}
}
