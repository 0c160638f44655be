/*
Copyright (C) 2026 Hearth Labs

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server is the hub's HTTP API: device listing, playback commands,
// queue edits, history, and log queries.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/hearthlabs/hearth/internal/auth"
	"github.com/hearthlabs/hearth/internal/catalog"
	"github.com/hearthlabs/hearth/internal/hub"
	"github.com/hearthlabs/hearth/internal/logbuffer"
	"github.com/hearthlabs/hearth/internal/models"
	"github.com/hearthlabs/hearth/internal/store"
	"github.com/hearthlabs/hearth/internal/telemetry"
	"github.com/hearthlabs/hearth/internal/version"
)

// Server carries the hub API dependencies.
type Server struct {
	registry *hub.Registry
	catalog  *catalog.Client // optional
	history  *store.History  // optional
	logbuf   *logbuffer.Buffer
	verifier *auth.Verifier // optional; nil disables API auth
	updates  *version.Checker
	logger   zerolog.Logger
}

// New builds the API server.
func New(registry *hub.Registry, cat *catalog.Client, hist *store.History, logbuf *logbuffer.Buffer, verifier *auth.Verifier, updates *version.Checker, logger zerolog.Logger) *Server {
	return &Server{
		registry: registry,
		catalog:  cat,
		history:  hist,
		logbuf:   logbuf,
		verifier: verifier,
		updates:  updates,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes assembles the router.
func (s *Server) Routes() http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TraceMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.Route("/api", func(api chi.Router) {
		if s.verifier != nil {
			api.Use(s.requireAuth)
		}

		api.Get("/devices", s.listDevices)
		api.Get("/search", s.search)
		api.Get("/logs", s.queryLogs)
		api.Get("/version", s.versionInfo)

		api.Route("/devices/{name}", func(device chi.Router) {
			device.Get("/", s.getDevice)
			device.Get("/history", s.deviceHistory)

			device.Post("/play", s.command(func(s *hub.Session, r *http.Request) error { return s.Play(r.Context()) }))
			device.Post("/stop", s.command(func(s *hub.Session, r *http.Request) error { return s.Stop(r.Context()) }))
			device.Post("/pause", s.command(func(s *hub.Session, r *http.Request) error { return s.Pause(r.Context()) }))
			device.Post("/next", s.command(func(s *hub.Session, r *http.Request) error { return s.Next(r.Context()) }))
			device.Post("/previous", s.command(func(s *hub.Session, r *http.Request) error { return s.Previous(r.Context()) }))
			device.Post("/mute", s.command(func(s *hub.Session, r *http.Request) error { return s.ToggleMute(r.Context()) }))

			device.Post("/seek", s.seek)
			device.Post("/seek/relative", s.seekRelative)
			device.Post("/media", s.changeMedia)
			device.Post("/repeat", s.changeRepeat)
			device.Post("/rate", s.changeRate)
			device.Post("/volume", s.changeVolume)

			device.Post("/queue", s.launchQueue)
			device.Put("/queue", s.updateQueue)
			device.Post("/queue/insert", s.insertQueue)
			device.Post("/queue/remove", s.removeQueue)
			device.Post("/queue/up", s.upQueue)
			device.Post("/queue/down", s.downQueue)
		})
	})

	return router
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.verifier.VerifyRequest(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// session resolves the device session or writes the error response.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*hub.Session, bool) {
	name := chi.URLParam(r, "name")
	sess, ok := s.registry.Lookup(r.Context(), name)
	if !ok {
		writeError(w, http.StatusNotFound, "device_not_connected")
		return nil, false
	}
	return sess, true
}

func (s *Server) command(run func(*hub.Session, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.session(w, r)
		if !ok {
			return
		}
		if err := run(sess, r); err != nil {
			s.logger.Warn().Err(err).Str("device", sess.Name).Msg("command failed")
			writeError(w, http.StatusBadGateway, "command_failed")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func (s *Server) listDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"devices": s.registry.Devices()})
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Device())
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusNotImplemented, "catalog_not_configured")
		return
	}
	phrase := r.URL.Query().Get("q")
	if phrase == "" {
		writeError(w, http.StatusBadRequest, "missing_query")
		return
	}
	items, err := s.catalog.Search(r.Context(), phrase)
	if err != nil {
		s.logger.Warn().Err(err).Str("phrase", phrase).Msg("catalog search failed")
		writeError(w, http.StatusBadGateway, "search_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) deviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "history_not_configured")
		return
	}
	name := chi.URLParam(r, "name")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.history.Recent(r.Context(), name, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history_query_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (s *Server) versionInfo(w http.ResponseWriter, _ *http.Request) {
	if s.updates == nil {
		writeJSON(w, http.StatusOK, version.UpdateInfo{CurrentVersion: version.Version})
		return
	}
	writeJSON(w, http.StatusOK, s.updates.Info())
}

func (s *Server) queryLogs(w http.ResponseWriter, r *http.Request) {
	if s.logbuf == nil {
		writeError(w, http.StatusNotImplemented, "logs_not_configured")
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	params := logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		Device:     q.Get("device"),
		Search:     q.Get("search"),
		Limit:      limit,
		Descending: q.Get("order") != "asc",
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.logbuf.Query(params)})
}

type secondsRequest struct {
	Seconds float64 `json:"seconds"`
}

func (s *Server) seek(w http.ResponseWriter, r *http.Request) {
	var req secondsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.command(func(sess *hub.Session, r *http.Request) error {
		return sess.Seek(r.Context(), time.Duration(req.Seconds*float64(time.Second)))
	})(w, r)
}

func (s *Server) seekRelative(w http.ResponseWriter, r *http.Request) {
	var req secondsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	s.command(func(sess *hub.Session, r *http.Request) error {
		return sess.SeekRelative(r.Context(), time.Duration(req.Seconds*float64(time.Second)))
	})(w, r)
}

func (s *Server) changeMedia(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.command(func(sess *hub.Session, r *http.Request) error {
		return sess.ChangeCurrentMedia(r.Context(), req.ID)
	})(w, r)
}

func (s *Server) changeRepeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode models.RepeatMode `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !models.ValidRepeatMode(req.Mode) {
		writeError(w, http.StatusBadRequest, "unknown_repeat_mode")
		return
	}
	s.command(func(sess *hub.Session, r *http.Request) error {
		return sess.ChangeRepeatMode(r.Context(), req.Mode)
	})(w, r)
}

func (s *Server) changeRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate float64 `json:"rate"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Rate <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_rate")
		return
	}
	s.command(func(sess *hub.Session, r *http.Request) error {
		return sess.SetPlaybackRate(r.Context(), req.Rate)
	})(w, r)
}

func (s *Server) changeVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level float64 `json:"level"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Level < 0 || req.Level > 1 {
		writeError(w, http.StatusBadRequest, "invalid_volume")
		return
	}
	s.command(func(sess *hub.Session, r *http.Request) error {
		return sess.SetVolume(r.Context(), req.Level)
	})(w, r)
}

// launchQueue accepts either explicit items or a catalog search phrase that
// resolves into the queue.
func (s *Server) launchQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items  []models.MediaItem `json:"items"`
		Search string             `json:"search"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	items := req.Items
	if len(items) == 0 && req.Search != "" {
		if s.catalog == nil {
			writeError(w, http.StatusNotImplemented, "catalog_not_configured")
			return
		}
		resolved, err := s.catalog.Search(r.Context(), req.Search)
		if err != nil {
			writeError(w, http.StatusBadGateway, "search_failed")
			return
		}
		if len(resolved) == 0 {
			writeError(w, http.StatusNotFound, "no_results")
			return
		}
		items = resolved
	}

	s.command(func(sess *hub.Session, r *http.Request) error {
		return sess.LaunchQueue(r.Context(), items)
	})(w, r)
}

func (s *Server) updateQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []models.MediaItem `json:"items"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.command(func(sess *hub.Session, r *http.Request) error {
		return sess.UpdateQueue(r.Context(), req.Items)
	})(w, r)
}

func (s *Server) insertQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items          []models.MediaItem `json:"items"`
		InsertBeforeID *string            `json:"insertBeforeId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.command(func(sess *hub.Session, r *http.Request) error {
		return sess.InsertQueue(r.Context(), req.Items, req.InsertBeforeID)
	})(w, r)
}

func (s *Server) removeQueue(w http.ResponseWriter, r *http.Request) {
	s.idsCommand(w, r, (*hub.Session).RemoveQueue)
}

func (s *Server) upQueue(w http.ResponseWriter, r *http.Request) {
	s.idsCommand(w, r, (*hub.Session).UpQueue)
}

func (s *Server) downQueue(w http.ResponseWriter, r *http.Request) {
	s.idsCommand(w, r, (*hub.Session).DownQueue)
}

func (s *Server) idsCommand(w http.ResponseWriter, r *http.Request, run func(*hub.Session, context.Context, []string) error) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.command(func(sess *hub.Session, r *http.Request) error {
		return run(sess, r.Context(), req.IDs)
	})(w, r)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
