package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/aseanmotorclub/roadwatch/internal/cache"
	"github.com/aseanmotorclub/roadwatch/internal/dispatcher"
	"github.com/aseanmotorclub/roadwatch/internal/model"
)

const healthTimeout = 5 * time.Second

// HealthFunc probes the upstream game server.
type HealthFunc func(ctx context.Context) error

// Server exposes the read API, the inbound webhook endpoint and the live
// player stream.
type Server struct {
	players *cache.Snapshot[[]model.PlayerStatus]
	garages *cache.Snapshot[[]model.Garage]
	disp    *dispatcher.Dispatcher
	hub     *Hub
	health  HealthFunc
	log     *slog.Logger

	httpServer *http.Server
	upgrader   ws.Upgrader
}

// New creates a server listening on addr.
func New(
	addr string,
	players *cache.Snapshot[[]model.PlayerStatus],
	garages *cache.Snapshot[[]model.Garage],
	disp *dispatcher.Dispatcher,
	hub *Hub,
	health HealthFunc,
	log *slog.Logger,
) *Server {
	s := &Server{
		players: players,
		garages: garages,
		disp:    disp,
		hub:     hub,
		health:  health,
		log:     log,
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", s.handleWebhook)
	mux.HandleFunc("GET /playerlocations", s.handlePlayerLocations)
	mux.HandleFunc("GET /garages", s.handleGarages)
	mux.HandleFunc("GET /healthcheck", s.handleHealthcheck)
	mux.HandleFunc("GET /live", s.handleLive)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server failed", "error", err)
		}
	}()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// playerLocationsResponse is the read API shape for player telemetry.
type playerLocationsResponse struct {
	Status    string               `json:"status"`
	Stale     bool                 `json:"stale"`
	UpdatedAt time.Time            `json:"updatedAt"`
	Players   []model.PlayerStatus `json:"players"`
}

func (s *Server) handlePlayerLocations(w http.ResponseWriter, r *http.Request) {
	data, meta := s.players.Get()
	if data == nil {
		data = []model.PlayerStatus{}
	}
	writeJSON(w, http.StatusOK, playerLocationsResponse{
		Status:    meta.Status,
		Stale:     meta.Stale,
		UpdatedAt: meta.UpdatedAt,
		Players:   data,
	})
}

type garagePoint struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
	Z float64 `json:"Z"`
}

type garagesResponse struct {
	Status string        `json:"status"`
	Stale  bool          `json:"stale"`
	Data   []garagePoint `json:"data"`
}

func (s *Server) handleGarages(w http.ResponseWriter, r *http.Request) {
	data, meta := s.garages.Get()
	points := make([]garagePoint, 0, len(data))
	for _, g := range data {
		points = append(points, garagePoint{X: g.Location.X, Y: g.Location.Y, Z: g.Location.Z})
	}
	writeJSON(w, http.StatusOK, garagesResponse{
		Status: meta.Status,
		Stale:  meta.Stale,
		Data:   points,
	})
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// webhookEnvelope is one inbound notification from the game server.
type webhookEnvelope struct {
	Hook string          `json:"hook"`
	Data json.RawMessage `json:"data"`
}

// handleWebhook accepts event batches from the game server. Only
// loopback callers are allowed.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		s.log.Warn("rejecting webhook from non-local caller", "remoteAddr", r.RemoteAddr)
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
		return
	}

	var envelopes []webhookEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelopes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	received := time.Now()
	accepted := 0
	for _, env := range envelopes {
		if !s.disp.HasHandler(env.Hook) {
			s.log.Debug("no handler for hook", "hook", env.Hook)
			continue
		}
		if err := s.disp.Dispatch(dispatcher.Event{
			Hook:     env.Hook,
			Data:     env.Data,
			Received: received,
		}); err != nil {
			s.log.Error("webhook event failed", "hook", env.Hook, "error", err)
			continue
		}
		accepted++
	}

	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("live stream upgrade failed", "error", err)
		return
	}
	s.hub.Serve(conn)
}

// isLoopback reports whether the remote address is a loopback interface.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
