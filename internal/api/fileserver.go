// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/camshot/internal/artifact"
	"github.com/ManuGH/camshot/internal/log"
	platformfs "github.com/ManuGH/camshot/internal/platform/fs"
)

// artifactServer serves persisted frames and relay records from the save
// directory. Names are flat; anything that looks like traversal is refused
// before the store resolves it.
func (s *Server) artifactServer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.WithComponentFromContext(r.Context(), "api")
		name := chi.URLParam(r, "*")

		deny := func(status int, reason string) {
			logger.Warn().
				Str("event", "file_req.denied").
				Str(log.FieldPath, r.URL.Path).
				Str("reason", reason).
				Msg("artifact request denied")
			recordFileRequestDenied(reason)
			http.Error(w, http.StatusText(status), status)
		}

		if isPathTraversal(r.URL.EscapedPath()) || isPathTraversal(name) {
			deny(http.StatusForbidden, "path_escape")
			return
		}
		if name == "" || strings.Contains(name, "/") {
			deny(http.StatusForbidden, "directory_listing")
			return
		}

		path, err := s.deps.Artifacts.Resolve(name)
		switch {
		case err == nil:
		case errors.Is(err, platformfs.ErrEscapesRoot):
			deny(http.StatusForbidden, "path_escape")
			return
		case errors.Is(err, artifact.ErrInvalidName), errors.Is(err, platformfs.ErrNotRegular), errors.Is(err, fs.ErrNotExist):
			deny(http.StatusNotFound, "not_found")
			return
		default:
			logger.Error().Err(err).Str("event", "file_req.internal_error").Str(log.FieldFile, name).Msg("could not resolve artifact")
			recordFileRequestDenied("internal_error")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		// #nosec G304 -- path is confined to the save directory by Resolve
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				deny(http.StatusNotFound, "not_found")
				return
			}
			logger.Error().Err(err).Str("event", "file_req.internal_error").Str(log.FieldFile, name).Msg("could not open artifact")
			recordFileRequestDenied("internal_error")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := f.Close(); err != nil {
				logger.Warn().Err(err).Str("event", "file_req.close_ignored").Str(log.FieldFile, name).Msg("failed to close artifact")
			}
		}()

		info, err := f.Stat()
		if err != nil {
			logger.Error().Err(err).Str("event", "file_req.internal_error").Str(log.FieldFile, name).Msg("could not stat artifact")
			recordFileRequestDenied("internal_error")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		// Artifacts are written once, so modtime and size identify the content.
		etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
		if match := r.Header.Get("If-None-Match"); match == etag {
			recordFileCacheHit()
			w.WriteHeader(http.StatusNotModified)
			return
		}

		switch {
		case strings.HasSuffix(name, artifact.ImageExt):
			w.Header().Set("Content-Type", "image/jpeg")
		case strings.HasSuffix(name, artifact.RecordExt):
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}

		logger.Debug().Str("event", "file_req.allowed").Str(log.FieldFile, name).Msg("serving artifact")
		recordFileRequestAllowed()
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}

// isPathTraversal decodes up to three times, normalizes Unicode and looks for
// parent references, NUL bytes and overlong encodings of '.'.
func isPathTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		} else if d2, err2 := url.QueryUnescape(decoded); err2 == nil {
			decoded = d2
		}
		if decoded == prev {
			break
		}
	}

	for _, candidate := range []string{strings.ToLower(p), strings.ToLower(decoded)} {
		for _, pat := range []string{"..", "\\", "%00", "%c0%ae", "%e0%80%ae"} {
			if strings.Contains(candidate, pat) {
				return true
			}
		}
	}
	if strings.IndexByte(decoded, 0x00) >= 0 {
		return true
	}
	normalized := strings.ToLower(norm.NFKC.String(decoded))
	return strings.Contains(normalized, "..")
}
