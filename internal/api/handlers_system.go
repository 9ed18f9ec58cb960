// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"
	"strconv"

	"github.com/ManuGH/camshot/internal/history"
	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/pool"
	"github.com/ManuGH/camshot/internal/scheduler"
)

type healthBody struct {
	OK      bool            `json:"ok"`
	Browser pool.Status     `json:"browser"`
	Queue   scheduler.Stats `json:"queue"`
}

// handleHealth reports pool and queue state. It always answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{
		OK:      true,
		Browser: s.deps.Pool.Snapshot(),
		Queue:   s.deps.Queue.Stats(),
	})
}

func (s *Server) handleCameras(w http.ResponseWriter, _ *http.Request) {
	names := s.deps.Shots.Cameras()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"cameras": names})
}

type capturesBody struct {
	OK       bool             `json:"ok"`
	Captures []history.Record `json:"captures"`
}

// handleCaptures lists recent captures, newest first.
func (s *Server) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "capture history is disabled", Kind: "not_found"})
		return
	}
	q := history.Query{Camera: r.URL.Query().Get("camera")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer", Kind: "validation"})
			return
		}
		q.Limit = n
	}

	recs, err := s.deps.History.Recent(r.Context(), q)
	if err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).
			Str("event", "captures.list_failed").
			Msg("failed to read capture history")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "history unavailable", Kind: "internal"})
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, capturesBody{OK: true, Captures: recs})
}
