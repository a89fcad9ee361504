// Package api provides the HTTP API for observing and steering an engine.
// GET endpoints are public (read-only observation).
// POST and DELETE endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/fieldsim/internal/bridge"
	"github.com/talgya/fieldsim/internal/kernel"
	"github.com/talgya/fieldsim/internal/metrics"
	"github.com/talgya/fieldsim/internal/observer"
	"github.com/talgya/fieldsim/internal/persistence"
	"github.com/talgya/fieldsim/internal/runner"
)

const maxBody = 1 << 20

// Server serves engine state over HTTP. Every engine access goes through
// the runner's mailbox.
type Server struct {
	Runner   *runner.Runner
	Guide    *observer.Guide  // used from the engine goroutine only
	DB       *persistence.DB  // optional: enables /history
	Metrics  *metrics.Metrics // optional: enables /metrics
	Bridge   *bridge.Bridge   // optional: enables /bridge/send
	Peers    []string         // known bridge peers, reported by /status
	AdminKey string           // Bearer token for mutations. Empty = mutations disabled.
	Limiter  *RateLimiter     // optional: throttles mutations
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/units", s.handleUnits)
	mux.HandleFunc("GET /api/v1/units/{id}", s.handleUnit)
	mux.HandleFunc("GET /api/v1/units/{id}/neighbors", s.handleNeighbors)
	mux.HandleFunc("GET /api/v1/links", s.handleLinks)
	mux.HandleFunc("GET /api/v1/links/{id}", s.handleLink)
	mux.HandleFunc("GET /api/v1/observer", s.handleObserver)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}

	// Admin endpoints.
	mux.HandleFunc("POST /api/v1/units", s.adminOnly(s.handleCreateUnit))
	mux.HandleFunc("DELETE /api/v1/units/{id}", s.adminOnly(s.handleDestroyUnit))
	mux.HandleFunc("POST /api/v1/units/{id}/branch", s.adminOnly(s.handleBranch))
	mux.HandleFunc("POST /api/v1/merge", s.adminOnly(s.handleMerge))
	mux.HandleFunc("POST /api/v1/links", s.adminOnly(s.handleCreateLink))
	mux.HandleFunc("DELETE /api/v1/links/{id}", s.adminOnly(s.handleDestroyLink))
	mux.HandleFunc("POST /api/v1/nudge", s.adminOnly(s.handleNudge))
	mux.HandleFunc("POST /api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("POST /api/v1/bridge/send", s.adminOnly(s.handleBridgeSend))

	return corsMiddleware(mux)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		slog.Info("HTTP API stopped")
		return nil
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set FIELDSIM_CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("FIELDSIM_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(token), []byte(s.AdminKey)) == 1
}

// adminOnly requires bearer auth on POST and DELETE and applies the rate
// limiter. GET requests pass through (for endpoints that serve both).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	h := func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodDelete {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no FIELDSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
	if s.Limiter != nil {
		return RateLimitMiddleware(s.Limiter, h)
	}
	return h
}

// do runs fn on the engine goroutine, bounded by the request context.
func (s *Server) do(r *http.Request, fn func(*kernel.Engine) error) error {
	return s.Runner.Do(r.Context(), fn)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var status map[string]any
	err := s.do(r, func(e *kernel.Engine) error {
		status = map[string]any{
			"engine_id":            e.ID(),
			"tick":                 e.Tick(),
			"speed":                s.Runner.Speed(),
			"units":                e.UnitCount(),
			"links":                e.LinkCount(),
			"ledger":               e.Ledger(),
			"total_energy":         e.TotalEnergy(),
			"conserved":            e.VerifyEnergy(),
			"observer":             e.ObserverID(),
			"retirement_threshold": e.RetirementThreshold(),
		}
		if s.Bridge != nil {
			status["bridge"] = map[string]any{"addr": s.Bridge.Addr(), "peers": s.Peers}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleUnits(w http.ResponseWriter, r *http.Request) {
	units, err := runner.Query(r.Context(), s.Runner, (*kernel.Engine).Units)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, units)
}

func (s *Server) handleUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUnitID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var u kernel.UnitView
	err := s.do(r, func(e *kernel.Engine) error {
		var found bool
		if u, found = e.Unit(id); !found {
			return kernel.ErrUnknownUnit
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, u)
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUnitID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var resp map[string]any
	err := s.do(r, func(e *kernel.Engine) error {
		if _, found := e.Unit(id); !found {
			return kernel.ErrUnknownUnit
		}
		f := e.Field()
		resp = map[string]any{
			"unit":      id,
			"neighbors": f.Neighbors(id),
			"density":   f.Density(id),
			"pressure":  f.Pressure(id),
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	links, err := runner.Query(r.Context(), s.Runner, (*kernel.Engine).Links)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, links)
}

func (s *Server) handleLink(w http.ResponseWriter, r *http.Request) {
	id, ok := parseLinkID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var l kernel.LinkView
	err := s.do(r, func(e *kernel.Engine) error {
		var found bool
		if l, found = e.Link(id); !found {
			return kernel.ErrUnknownLink
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, l)
}

func (s *Server) handleObserver(w http.ResponseWriter, r *http.Request) {
	if s.Guide == nil {
		http.Error(w, "observer guidance not configured", http.StatusNotFound)
		return
	}
	var resp map[string]any
	err := s.do(r, func(e *kernel.Engine) error {
		rep := s.Guide.Inspect(e)
		resp = map[string]any{
			"snapshot":    rep.Snapshot,
			"at_risk":     rep.AtRisk,
			"suggestions": rep.Suggestions,
			"health":      rep.Health,
			"recent":      s.Guide.Memory.Records,
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		http.Error(w, "history not recorded", http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 10000 {
			http.Error(w, "limit must be 1-10000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	rows, err := s.DB.History(limit)
	if err != nil {
		slog.Error("history query failed", "error", err)
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.Speed < 0 || req.Speed > 1000 {
			http.Error(w, "speed must be 0-1000", http.StatusBadRequest)
			return
		}
		s.Runner.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Runner.Speed()})
}

func (s *Server) handleCreateUnit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Energy float64 `json:"energy"`
	}
	if !decode(w, r, &req) {
		return
	}
	var id kernel.UnitID
	err := s.do(r, func(e *kernel.Engine) error {
		var err error
		id, err = e.CreateUnit(req.Energy)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONCode(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleDestroyUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUnitID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var u kernel.UnitView
	err := s.do(r, func(e *kernel.Engine) error {
		var err error
		u, err = e.DestroyUnit(id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, u)
}

func (s *Server) handleBranch(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUnitID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var branch kernel.UnitID
	err := s.do(r, func(e *kernel.Engine) error {
		var err error
		branch, err = e.Branch(id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONCode(w, http.StatusCreated, map[string]any{"parent": id, "id": branch})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		A kernel.UnitID `json:"a"`
		B kernel.UnitID `json:"b"`
	}
	if !decode(w, r, &req) {
		return
	}
	var u kernel.UnitView
	err := s.do(r, func(e *kernel.Engine) error {
		if err := e.Merge(req.A, req.B); err != nil {
			return err
		}
		u, _ = e.Unit(req.A)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, u)
}

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source   kernel.UnitID `json:"source"`
		Target   kernel.UnitID `json:"target"`
		Coupling float64       `json:"coupling"`
		Decay    *float64      `json:"decay,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	var id kernel.LinkID
	err := s.do(r, func(e *kernel.Engine) error {
		// Validate the decay before creating anything.
		if req.Decay != nil && !(*req.Decay >= 0 && *req.Decay < 1) {
			return kernel.ErrInvalidDecay
		}
		var err error
		if id, err = e.CreateLink(req.Source, req.Target, req.Coupling); err != nil {
			return err
		}
		if req.Decay != nil {
			return e.SetDecay(id, *req.Decay)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONCode(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleDestroyLink(w http.ResponseWriter, r *http.Request) {
	id, ok := parseLinkID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var l kernel.LinkView
	err := s.do(r, func(e *kernel.Engine) error {
		var err error
		l, err = e.DestroyLink(id)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, l)
}

func (s *Server) handleNudge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target kernel.UnitID `json:"target"`
		Amount float64       `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	var u kernel.UnitView
	err := s.do(r, func(e *kernel.Engine) error {
		if err := observer.Nudge(e, req.Target, req.Amount); err != nil {
			return err
		}
		u, _ = e.Unit(req.Target)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if s.Metrics != nil {
		s.Metrics.Nudges.Inc()
	}
	slog.Info("admin nudge", "target", req.Target, "amount", req.Amount)
	writeJSON(w, u)
}

func (s *Server) handleBridgeSend(w http.ResponseWriter, r *http.Request) {
	if s.Bridge == nil {
		http.Error(w, "bridge disabled", http.StatusNotFound)
		return
	}
	var req struct {
		Peer        string        `json:"peer"`
		Unit        kernel.UnitID `json:"unit"`
		Target      kernel.UnitID `json:"target"`
		Amount      float64       `json:"amount"`
		WithPayload bool          `json:"with_payload"`
	}
	if !decode(w, r, &req) {
		return
	}
	ev, err := s.Bridge.Send(r.Context(), req.Peer, req.Unit, req.Target, req.Amount, req.WithPayload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, ev)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func parseUnitID(w http.ResponseWriter, s string) (kernel.UnitID, bool) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "U"), 10, 64)
	if err != nil {
		http.Error(w, "invalid unit id", http.StatusBadRequest)
		return 0, false
	}
	return kernel.UnitID(n), true
}

func parseLinkID(w http.ResponseWriter, s string) (kernel.LinkID, bool) {
	n, err := strconv.ParseUint(strings.TrimPrefix(s, "L"), 10, 64)
	if err != nil {
		http.Error(w, "invalid link id", http.StatusBadRequest)
		return 0, false
	}
	return kernel.LinkID(n), true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, kernel.ErrSelfLink),
		errors.Is(err, kernel.ErrInvalidAmount),
		errors.Is(err, kernel.ErrInvalidCoupling),
		errors.Is(err, kernel.ErrInvalidDecay),
		errors.Is(err, kernel.ErrInvalidStability):
		return http.StatusUnprocessableEntity
	case errors.Is(err, kernel.ErrUnknownUnit), errors.Is(err, kernel.ErrUnknownLink):
		return http.StatusNotFound
	case errors.Is(err, kernel.ErrInsufficientPool),
		errors.Is(err, kernel.ErrInsufficientEnergy),
		errors.Is(err, kernel.ErrInsufficientObserverEnergy),
		errors.Is(err, kernel.ErrNoObserver),
		errors.Is(err, kernel.ErrObserverUnit),
		errors.Is(err, kernel.ErrIncompatibleMerge):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrRejected), errors.Is(err, bridge.ErrUnknownPeer):
		return http.StatusBadGateway
	case errors.Is(err, runner.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSONCode(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONCode(w, http.StatusOK, data)
}

func writeJSONCode(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
