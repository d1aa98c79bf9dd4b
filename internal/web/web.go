package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"growcal/internal/config"
	appLog "growcal/internal/log"
	"growcal/internal/model"
	"growcal/internal/recur"
	"growcal/internal/service"
	"growcal/internal/store"
)

// maxRequestBytes bounds JSON request bodies.
const maxRequestBytes = 1 << 20

// Server provides the HTTP API over a calendar.
type Server struct {
	cfg *config.Config
	cal *service.Calendar
	mux *http.ServeMux
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, cal *service.Calendar) *Server {
	s := &Server{
		cfg: cfg,
		cal: cal,
		mux: http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="growcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve runs an HTTP server on cfg.Listen until ctx is cancelled, then
// shuts it down gracefully.
func Serve(ctx context.Context, cfg *config.Config, cal *service.Calendar) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           NewServer(cfg, cal).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("GET /api/events/{id}/scopes", s.handleScopes)
	s.mux.HandleFunc("POST /api/events/{id}/edit", s.handleEdit)
	s.mux.HandleFunc("POST /api/events/{id}/delete", s.handleDelete)
	s.mux.HandleFunc("GET /api/occurrences", s.handleOccurrences)
	s.mux.HandleFunc("GET /api/upcoming", s.handleUpcoming)
	s.mux.HandleFunc("GET /calendar.ics", s.handleICS)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleListEvents returns the series definitions in their persisted
// record shape.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.cal.Events(r.Context())
	if err != nil {
		s.fail(w, "list events", err)
		return
	}
	data, err := store.EncodeEvents(events, s.cal.Location())
	if err != nil {
		s.fail(w, "list events", err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ev, err := req.event()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.cal.Create(r.Context(), ev)
	if err != nil {
		s.fail(w, "create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, newEventDTO(created))
}

// handleOccurrences expands the collection.
//
// GET /api/occurrences?from=2024-01-01&to=2024-01-31
//   - from/to: inclusive calendar dates; both default to the current month.
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := s.cal.Today()
	from, err := parseDateDefault(q.Get("from"), model.StartOfMonth(today))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from date")
		return
	}
	to, err := parseDateDefault(q.Get("to"), model.EndOfMonth(today))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid to date")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	appLog.Debug("api occurrences request", "from", model.DateKey(from), "to", model.DateKey(to))

	res, err := s.cal.Occurrences(r.Context(), from, to)
	if err != nil {
		s.fail(w, "expand occurrences", err)
		return
	}
	writeJSON(w, http.StatusOK, occurrencesResponse{
		From:        model.DateKey(from),
		To:          model.DateKey(to),
		Occurrences: newOccurrenceDTOs(res.Occurrences),
		Truncated:   res.TruncatedEvents,
	})
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 0)
	occs, err := s.cal.Upcoming(r.Context(), limit)
	if err != nil {
		s.fail(w, "upcoming", err)
		return
	}
	writeJSON(w, http.StatusOK, newOccurrenceDTOs(occs))
}

func (s *Server) handleScopes(w http.ResponseWriter, r *http.Request) {
	anchor, err := model.ParseDateKey(r.URL.Query().Get("anchor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid anchor date")
		return
	}
	scopes, err := s.cal.Scopes(r.Context(), r.PathValue("id"), anchor)
	if err != nil {
		s.fail(w, "scopes", err)
		return
	}
	writeJSON(w, http.StatusOK, scopesResponse{Scopes: scopes})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if !decodeBody(w, r, &req) {
		return
	}
	anchor, scope, err := parseTarget(req.Anchor, req.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	edit, err := req.edit()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cal.Edit(r.Context(), r.PathValue("id"), anchor, scope, edit); err != nil {
		s.fail(w, "edit event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	anchor, scope, err := parseTarget(req.Anchor, req.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cal.Delete(r.Context(), r.PathValue("id"), anchor, scope); err != nil {
		s.fail(w, "delete event", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleICS serves the calendar as an iCalendar feed.
//
// GET /calendar.ics?mode=occurrences
//   - mode: series (default from config) or occurrences.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" && s.cfg != nil {
		mode = s.cfg.Export.Mode
	}
	body, err := s.cal.ExportICS(r.Context(), mode)
	if err != nil {
		s.fail(w, "export ics", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// fail maps err onto an HTTP status and writes it.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		appLog.Error("api "+op+" failed", err)
		writeError(w, status, "internal error")
		return
	}
	appLog.Debug("api "+op+" rejected", "err", err.Error(), "status", status)
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, recur.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, recur.ErrNotAnOccurrence),
		errors.Is(err, recur.ErrScopeUnavailable),
		errors.Is(err, service.ErrInvalidEvent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, recur.ErrInvalidScope):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDuplicateID):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func parseTarget(anchor, scope string) (time.Time, recur.Scope, error) {
	d, err := model.ParseDateKey(anchor)
	if err != nil {
		return time.Time{}, "", errors.New("invalid anchor date")
	}
	sc, err := recur.ParseScope(scope)
	if err != nil {
		return time.Time{}, "", err
	}
	return d, sc, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func parseDateDefault(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return model.ParseDateKey(s)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
