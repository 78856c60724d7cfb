// Package server exposes the dispatcher and the result store over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"guidon/internal/canvas"
	"guidon/internal/dispatch"
	"guidon/internal/interaction"
	"guidon/internal/registry"
	"guidon/internal/results"
	"guidon/internal/verify"
)

const maxBodyBytes = 1 << 20

type Dispatcher interface {
	Handle(ctx context.Context, channel interaction.Channel, raw verify.Raw) dispatch.Outcome
}

type Deps struct {
	Dispatcher Dispatcher
	Store      results.Store
	Board      *canvas.Board
	// Sessions guards the canvas endpoint.
	Sessions verify.Verifier
	Registry *registry.Registry
	// PublicURL is the externally reachable base URL reported by /health.
	PublicURL string
	Logger    *zap.Logger
}

type Server struct {
	deps      Deps
	addr      string
	server    *http.Server
	startTime time.Time
	logger    *zap.Logger
}

func New(addr string, d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	s := &Server{deps: d, addr: addr, startTime: time.Now(), logger: d.Logger}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /interactions/{channel}", s.handleInteraction)
	mux.HandleFunc("GET /results/{token}", s.handleResult)
	mux.HandleFunc("GET /canvas", s.handleCanvas)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start serves until Stop is called. It returns at once if Stop came first.
func (s *Server) Start() error {
	s.logger.Info("🌐 http server listening", zap.String("addr", s.addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	channel, err := interaction.ParseChannel(r.PathValue("channel"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, dispatch.Response{Error: err.Error(), Code: "unknown_channel"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, dispatch.Response{Error: "body too large", Code: "too_large"})
			return
		}
		s.logger.Warn("request body read failed", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, dispatch.Response{Error: "body could not be read", Code: "malformed_request"})
		return
	}
	out := s.deps.Dispatcher.Handle(r.Context(), channel, verify.Raw{Header: r.Header, Body: body})
	writeJSON(w, out.Status, out.Body)
}

// ResultBody is the answer of GET /results/{token}.
type ResultBody struct {
	Token   string          `json:"token"`
	Status  results.Status  `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	rec, err := s.deps.Store.Get(r.Context(), token)
	switch {
	case errors.Is(err, results.ErrNotFound):
		// Unknown, expired and in-flight tokens look the same.
		writeJSON(w, http.StatusAccepted, ResultBody{Token: token, Status: results.StatusProcessing})
		return
	case err != nil:
		s.logger.Error("result lookup failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, dispatch.Response{Error: "result store unavailable", Code: "store_unavailable"})
		return
	}
	if !rec.Status.Terminal() {
		writeJSON(w, http.StatusAccepted, ResultBody{Token: token, Status: results.StatusProcessing})
		return
	}
	writeJSON(w, http.StatusOK, ResultBody{Token: token, Status: rec.Status, Payload: rec.Payload})
}

func (s *Server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions != nil {
		if _, err := s.deps.Sessions.Verify(r.Context(), verify.Raw{Header: r.Header}); err != nil {
			status, code := verify.Status(err)
			writeJSON(w, status, dispatch.Response{Error: err.Error(), Code: code})
			return
		}
	}
	writeJSON(w, http.StatusOK, s.deps.Board.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"service":   "guidon",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.startTime).String(),
	}
	if s.deps.PublicURL != "" {
		resp["public_url"] = s.deps.PublicURL
	}
	if s.deps.Registry != nil {
		var commands []string
		for _, e := range s.deps.Registry.Entries() {
			commands = append(commands, e.Command)
		}
		resp["topics"] = s.deps.Registry.Topics()
		resp["commands"] = commands
	}
	writeJSON(w, http.StatusOK, resp)
}
