// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ManuGH/camshot/internal/shot"
)

const maxCaptureBody = 64 << 10

type captureSuccess struct {
	OK bool `json:"ok"`
	shot.Result
}

// handleCaptureGet takes camera, player_url and camera_label from the query.
func (s *Server) handleCaptureGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.capture(w, r, shot.Request{
		Camera:      q.Get("camera"),
		PlayerURL:   q.Get("player_url"),
		CameraLabel: q.Get("camera_label"),
	})
}

// handleCapturePost takes the same fields as a JSON body.
func (s *Server) handleCapturePost(w http.ResponseWriter, r *http.Request) {
	var req shot.Request
	body := http.MaxBytesReader(w, r.Body, maxCaptureBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: malformed JSON body: %w", shot.ErrValidation, err)
		writeCaptureError(w, r, shot.Result{}, err)
		return
	}
	s.capture(w, r, req)
}

func (s *Server) capture(w http.ResponseWriter, r *http.Request, req shot.Request) {
	res, err := s.deps.Shots.Capture(r.Context(), req)
	if err != nil {
		writeCaptureError(w, r, res, err)
		return
	}
	writeJSON(w, http.StatusOK, captureSuccess{OK: true, Result: res})
}
