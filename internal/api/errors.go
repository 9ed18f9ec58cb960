// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/shot"
)

// errorBody is the failure envelope shared by every route.
type errorBody struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForKind maps a capture failure kind to its HTTP status.
func statusForKind(k shot.Kind) int {
	switch k {
	case shot.KindValidation:
		return http.StatusBadRequest
	case shot.KindQueueTimeout, shot.KindOverloaded:
		return http.StatusServiceUnavailable
	case shot.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// captureFailure carries the error envelope and, for relay failures, the
// persisted frame.
type captureFailure struct {
	errorBody
	*shot.Result
}

// writeCaptureError writes a failed capture. res is included when the frame
// was persisted before the failure.
func writeCaptureError(w http.ResponseWriter, r *http.Request, res shot.Result, err error) {
	kind := shot.KindOf(err)
	status := statusForKind(kind)
	body := captureFailure{errorBody: errorBody{Error: err.Error(), Kind: string(kind)}}
	if res.File != "" {
		body.Result = &res
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	evt := logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = logger.Error()
	}
	var se *shot.Error
	camera := ""
	if errors.As(err, &se) {
		camera = se.Camera
	}
	evt.Err(err).
		Str("event", "capture.failed").
		Str(log.FieldCamera, camera).
		Str("kind", string(kind)).
		Int("status", status).
		Msg("capture request failed")

	writeJSON(w, status, body)
}
