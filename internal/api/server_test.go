// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/camshot/internal/artifact"
	"github.com/ManuGH/camshot/internal/capture"
	"github.com/ManuGH/camshot/internal/health"
	"github.com/ManuGH/camshot/internal/history"
	"github.com/ManuGH/camshot/internal/pool"
	"github.com/ManuGH/camshot/internal/relay"
	"github.com/ManuGH/camshot/internal/scheduler"
	"github.com/ManuGH/camshot/internal/shot"
)

type fakeShots struct {
	mu      sync.Mutex
	reqs    []shot.Request
	res     shot.Result
	err     error
	cameras []string
}

func (f *fakeShots) Capture(_ context.Context, req shot.Request) (shot.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.res, f.err
}

func (f *fakeShots) Cameras() []string { return f.cameras }

func (f *fakeShots) last(t *testing.T) shot.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.reqs)
	return f.reqs[len(f.reqs)-1]
}

type fakePool struct{ st pool.Status }

func (f fakePool) Snapshot() pool.Status { return f.st }

type fakeQueue struct{ st scheduler.Stats }

func (f fakeQueue) Stats() scheduler.Stats { return f.st }

type fakeHistory struct {
	got  history.Query
	recs []history.Record
	err  error
}

func (f *fakeHistory) Recent(_ context.Context, q history.Query) ([]history.Record, error) {
	f.got = q
	return f.recs, f.err
}

type harness struct {
	shots   *fakeShots
	history *fakeHistory
	store   *artifact.Store
	handler http.Handler
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store, err := artifact.New(artifact.Config{Dir: t.TempDir(), PublicPrefix: "/shots"})
	require.NoError(t, err)

	h := &harness{
		shots:   &fakeShots{cameras: []string{"door", "yard"}},
		history: &fakeHistory{},
		store:   store,
	}
	if cfg.PublicPrefix == "" {
		cfg.PublicPrefix = "/shots"
	}
	hm := health.NewManager("test")
	hm.RegisterChecker(health.NewDirChecker("save_dir", store.Dir()))
	srv := New(cfg, Deps{
		Shots: h.shots,
		Pool: fakePool{st: pool.Status{Connected: true, Max: 4, Resources: []pool.ResourceInfo{
			{Key: "door", URL: "http://cam/door", Busy: true},
		}}},
		Queue: fakeQueue{st: scheduler.Stats{Active: 1, Max: 2, Queued: 1, Keys: map[string]scheduler.KeyStats{
			"door": {Queued: 1, Running: true},
		}}},
		History:   h.history,
		Artifacts: store,
		Health:    hm,
	})
	h.handler = srv.Handler()
	return h
}

func (h *harness) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func TestCaptureGet_Success(t *testing.T) {
	h := newHarness(t, Config{})
	h.shots.res = shot.Result{
		JobID:    "job-1",
		Camera:   "door",
		File:     "/data/door-2025-03-01T10-15-30-123Z.jpg",
		URL:      "http://camshot.local/shots/door-2025-03-01T10-15-30-123Z.jpg",
		Strategy: capture.StrategyMedia,
		Attempts: 1,
		Relay:    json.RawMessage(`{"matches":[]}`),
	}

	w := h.do(t, http.MethodGet, "/capture?camera=door&camera_label=Front%20Door", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, shot.Request{Camera: "door", CameraLabel: "Front Door"}, h.shots.last(t))
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "door", body["camera"])
	assert.Equal(t, h.shots.res.File, body["file"])
	assert.Equal(t, h.shots.res.URL, body["url"])
	assert.Equal(t, "media", body["strategy"])
	assert.Equal(t, map[string]any{"matches": []any{}}, body["relay"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCapturePost_Body(t *testing.T) {
	h := newHarness(t, Config{})
	h.shots.res = shot.Result{Camera: "adhoc-0011", File: "f.jpg"}

	w := h.do(t, http.MethodPost, "/capture", []byte(`{"player_url":"https://ipeye.example/p/1","camera_label":"Gate"}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, shot.Request{PlayerURL: "https://ipeye.example/p/1", CameraLabel: "Gate"}, h.shots.last(t))

	w = h.do(t, http.MethodPost, "/capture", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation", decode(t, w)["kind"])

	req := httptest.NewRequest(http.MethodPost, "/capture", http.NoBody)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "an empty body falls back to the default camera")
}

func TestCapture_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", &shot.Error{Kind: shot.KindValidation, Err: shot.ErrValidation}, http.StatusBadRequest, "validation"},
		{"capture", &shot.Error{Kind: shot.KindCapture, Err: capture.ErrNoFrame}, http.StatusInternalServerError, "capture"},
		{"resource", &shot.Error{Kind: shot.KindResource, Err: pool.ErrResource}, http.StatusInternalServerError, "resource"},
		{"queue timeout", &shot.Error{Kind: shot.KindQueueTimeout, Err: scheduler.ErrQueueTimeout}, http.StatusServiceUnavailable, "queue_timeout"},
		{"queue full", scheduler.ErrQueueFull, http.StatusServiceUnavailable, "overloaded"},
		{"timeout", fmt.Errorf("job: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "timeout"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.shots.err = tt.err

			w := h.do(t, http.MethodGet, "/capture?camera=door", nil)

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["ok"])
			assert.Equal(t, tt.kind, body["kind"])
			assert.NotEmpty(t, body["error"])
			assert.NotContains(t, body, "file")
		})
	}
}

func TestCapture_RelayFailureKeepsFrame(t *testing.T) {
	h := newHarness(t, Config{})
	h.shots.res = shot.Result{Camera: "door", File: "/data/door.jpg", URL: "/shots/door.jpg", RelayError: "status 502"}
	h.shots.err = &shot.Error{Kind: shot.KindRelay, Camera: "door", Err: &relay.Error{Mode: relay.ModeUpload, StatusCode: 502}}

	w := h.do(t, http.MethodGet, "/capture?camera=door", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "relay", body["kind"])
	assert.Equal(t, "/data/door.jpg", body["file"])
	assert.Equal(t, "status 502", body["relay_error"])
}

func TestCapture_RateLimited(t *testing.T) {
	h := newHarness(t, Config{CaptureRatePerMinute: 2})
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/capture?camera=door", nil).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, h.do(t, http.MethodGet, "/capture?camera=door", nil).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/cameras", nil).Code, "other routes are not limited")
}

func TestHealth(t *testing.T) {
	h := newHarness(t, Config{})
	w := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body healthBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	want := healthBody{
		OK: true,
		Browser: pool.Status{Connected: true, Max: 4, Resources: []pool.ResourceInfo{
			{Key: "door", URL: "http://cam/door", Busy: true},
		}},
		Queue: scheduler.Stats{Active: 1, Max: 2, Queued: 1, Keys: map[string]scheduler.KeyStats{
			"door": {Queued: 1, Running: true},
		}},
	}
	if diff := cmp.Diff(want, body); diff != "" {
		t.Errorf("health mismatch (-want +got):\n%s", diff)
	}
}

func TestProbes(t *testing.T) {
	h := newHarness(t, Config{})
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)

	w := h.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ready"])

	require.NoError(t, os.RemoveAll(h.store.Dir()))
	assert.Equal(t, http.StatusServiceUnavailable, h.do(t, http.MethodGet, "/readyz", nil).Code)
}

func TestCameras(t *testing.T) {
	h := newHarness(t, Config{})
	w := h.do(t, http.MethodGet, "/cameras", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cameras":["door","yard"]}`, w.Body.String())

	h.shots.cameras = nil
	assert.JSONEq(t, `{"cameras":[]}`, h.do(t, http.MethodGet, "/cameras", nil).Body.String())
}

func TestCaptures(t *testing.T) {
	h := newHarness(t, Config{})
	h.history.recs = []history.Record{{ID: 2, Camera: "door", File: "b.jpg"}, {ID: 1, Camera: "door", File: "a.jpg"}}

	w := h.do(t, http.MethodGet, "/captures?camera=door&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, history.Query{Camera: "door", Limit: 5}, h.history.got)
	var body capturesBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Captures, 2)
	assert.Equal(t, int64(2), body.Captures[0].ID)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/captures?limit=abc", nil).Code)

	h.history.err = errors.New("disk I/O error")
	assert.Equal(t, http.StatusInternalServerError, h.do(t, http.MethodGet, "/captures", nil).Code)
}

func TestCaptures_Disabled(t *testing.T) {
	store, err := artifact.New(artifact.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	srv := New(Config{PublicPrefix: "/shots"}, Deps{Shots: &fakeShots{}, Artifacts: store, Pool: fakePool{}, Queue: fakeQueue{}})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/captures", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t, Config{})
	w := h.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["kind"])

	w = h.do(t, http.MethodDelete, "/capture", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, Config{})
	h.do(t, http.MethodGet, "/cameras", nil)
	w := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "camshot_http_requests_total"))
}

func TestArtifactServer(t *testing.T) {
	h := newHarness(t, Config{})
	a, err := h.store.Save(context.Background(), "door", []byte("\xff\xd8jpeg"))
	require.NoError(t, err)
	require.NoError(t, h.store.SaveRecord(context.Background(), a, []byte(`{"ok":true}`)))
	require.NoError(t, os.WriteFile(filepath.Join(h.store.Dir(), "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(h.store.Dir(), "sub.jpg"), 0o750))

	w := h.do(t, http.MethodGet, "/shots/"+a.Name, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, "\xff\xd8jpeg", w.Body.String())
	etag := w.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/shots/"+a.Name, nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)

	w = h.do(t, http.MethodGet, "/shots/"+a.RecordName(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())

	w = h.do(t, http.MethodHead, "/shots/"+a.Name, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	tests := []struct {
		path   string
		status int
	}{
		{"/shots/missing.jpg", http.StatusNotFound},
		{"/shots/notes.txt", http.StatusNotFound},
		{"/shots/sub.jpg", http.StatusNotFound},
		{"/shots/.hidden.jpg", http.StatusNotFound},
		{"/shots/", http.StatusForbidden},
		{"/shots/%2e%2e/etc/passwd", http.StatusForbidden},
		{"/shots/..%252fsecret.jpg", http.StatusForbidden},
		{"/shots/a%00.jpg", http.StatusForbidden},
		{"/shots/sub/a.jpg", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.status, h.do(t, http.MethodGet, tt.path, nil).Code)
		})
	}
}

func TestArtifactServer_SymlinkEscape(t *testing.T) {
	h := newHarness(t, Config{})
	outside := filepath.Join(t.TempDir(), "secret.jpg")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(h.store.Dir(), "link.jpg")))

	w := h.do(t, http.MethodGet, "/shots/link.jpg", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestIsPathTraversal(t *testing.T) {
	for _, p := range []string{"..", "%2e%2e", "%252e%252e", "a\\b", "x%00y", "%c0%ae%c0%ae", "‥"} {
		assert.True(t, isPathTraversal(p), p)
	}
	for _, p := range []string{"door-2025-03-01T10-15-30-123Z.jpg", "yard-1.json", "a.b.jpg"} {
		assert.False(t, isPathTraversal(p), p)
	}
}

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForKind(shot.KindValidation))
	assert.Equal(t, http.StatusServiceUnavailable, statusForKind(shot.KindOverloaded))
	assert.Equal(t, http.StatusGatewayTimeout, statusForKind(shot.KindTimeout))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(shot.KindRelay))
}
