// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package shot orchestrates one capture: resolve the camera, queue on the
// scheduler, lease a surface from the pool, extract a frame, persist it and
// relay it to the recognition service.
package shot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/camshot/internal/artifact"
	"github.com/ManuGH/camshot/internal/capture"
	"github.com/ManuGH/camshot/internal/config"
	"github.com/ManuGH/camshot/internal/history"
	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/metrics"
	"github.com/ManuGH/camshot/internal/pool"
	"github.com/ManuGH/camshot/internal/relay"
	"github.com/ManuGH/camshot/internal/scheduler"
	"github.com/ManuGH/camshot/internal/telemetry"
	"github.com/ManuGH/camshot/internal/validate"
)

// Scheduler runs keyed jobs.
type Scheduler interface {
	Do(ctx context.Context, key string, work scheduler.WorkFunc) error
}

// Leaser hands out exclusive camera surfaces.
type Leaser interface {
	Acquire(ctx context.Context, t pool.Target) (*pool.Lease, error)
	Prewarm(ctx context.Context, targets []pool.Target) error
}

// Extractor turns a surface into JPEG bytes.
type Extractor interface {
	Extract(ctx context.Context, src capture.Source) (capture.Result, error)
}

// Relayer forwards frames to the recognition service.
type Relayer interface {
	Enabled() bool
	Mode() string
	Send(ctx context.Context, req relay.Request) (relay.Response, error)
}

// Recorder indexes finished captures.
type Recorder interface {
	Add(ctx context.Context, r history.Record) error
}

// Request asks for one frame. Camera names a configured camera; PlayerURL
// overrides (or replaces) the configured URL; CameraLabel overrides the name
// sent to the recognition service.
type Request struct {
	Camera      string `json:"camera"`
	PlayerURL   string `json:"player_url"`
	CameraLabel string `json:"camera_label"`
}

// Result describes a persisted frame.
type Result struct {
	JobID       string          `json:"job_id,omitempty"`
	Camera      string          `json:"camera"`
	Label       string          `json:"camera_label,omitempty"`
	File        string          `json:"file"`
	URL         string          `json:"url,omitempty"`
	Strategy    string          `json:"strategy"`
	Attempts    int             `json:"attempts"`
	Relay       json.RawMessage `json:"relay,omitempty"`
	RelayStatus int             `json:"relay_status,omitempty"`
	RelayError  string          `json:"relay_error,omitempty"`
}

// Config configures a Service.
type Config struct {
	Cameras       map[string]config.CameraConfig
	DefaultCamera string
	FrameSelector string
	// JobTimeout bounds a started job. Zero means unbounded.
	JobTimeout time.Duration
}

// Deps are the collaborators of a Service. History may be nil.
type Deps struct {
	Scheduler Scheduler
	Pool      Leaser
	Pipeline  Extractor
	Artifacts *artifact.Store
	Relay     Relayer
	History   Recorder
}

// Service runs captures.
type Service struct {
	deps Deps

	mu  sync.RWMutex
	cfg Config
}

// New returns a Service.
func New(cfg Config, deps Deps) *Service {
	s := &Service{deps: deps}
	s.cfg = cfg
	s.cfg.Cameras = copyCameras(cfg.Cameras)
	return s
}

// UpdateCameras replaces the camera map and default camera. Resources of
// removed or changed cameras are recycled lazily by the pool.
func (s *Service) UpdateCameras(cameras map[string]config.CameraConfig, defaultCamera string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Cameras = copyCameras(cameras)
	s.cfg.DefaultCamera = defaultCamera
}

// Cameras returns the configured camera names, sorted.
func (s *Service) Cameras() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.cfg.Cameras))
	for name := range s.cfg.Cameras {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prewarm opens a surface for every configured camera.
func (s *Service) Prewarm(ctx context.Context) error {
	s.mu.RLock()
	targets := make([]pool.Target, 0, len(s.cfg.Cameras))
	for name, cam := range s.cfg.Cameras {
		targets = append(targets, pool.Target{Key: name, URL: cam.URL, FrameSelector: s.selectorLocked(cam)})
	}
	s.mu.RUnlock()
	sort.Slice(targets, func(i, j int) bool { return targets[i].Key < targets[j].Key })
	return s.deps.Pool.Prewarm(ctx, targets)
}

type job struct {
	target pool.Target
	label  string
}

// Capture runs one capture and blocks until it finishes, the caller gives up, or
// the job times out waiting for a slot. A relay failure still returns the
// persisted Result alongside a KindRelay error.
func (s *Service) Capture(ctx context.Context, req Request) (Result, error) {
	j, err := s.resolve(req)
	if err != nil {
		metrics.RecordCapture("invalid", string(KindValidation), 0)
		return Result{}, &Error{Kind: KindValidation, Camera: req.Camera, Err: err}
	}
	ctx = log.ContextWithCamera(ctx, j.target.Key)

	out := make(chan Result, 1)
	err = s.deps.Scheduler.Do(ctx, j.target.Key, func(jobCtx context.Context) error {
		res, err := s.run(jobCtx, j)
		out <- res
		return err
	})

	var res Result
	select {
	case res = <-out:
	default:
	}
	if err != nil {
		kind := KindOf(err)
		if kind == KindQueueTimeout || kind == KindOverloaded {
			metrics.RecordCapture(j.target.Key, string(kind), 0)
		}
		return res, &Error{Kind: kind, Camera: j.target.Key, Err: err}
	}
	return res, nil
}

// resolve maps a request to a pool target.
func (s *Service) resolve(req Request) (job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	name := strings.TrimSpace(req.Camera)
	if name == "" {
		name = s.cfg.DefaultCamera
	}
	playerURL := strings.TrimSpace(req.PlayerURL)
	cam, known := s.cfg.Cameras[name]

	v := validate.New()
	switch {
	case playerURL == "" && name == "":
		v.AddError("camera", "camera or player_url is required", "")
	case playerURL == "" && !known:
		v.AddError("camera", "unknown camera", name)
	case playerURL != "":
		v.PlayerURL("player_url", playerURL)
		if name != "" && !known {
			v.Identifier("camera", name)
		}
	}
	if err := v.Err(); err != nil {
		return job{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if playerURL == "" {
		playerURL = cam.URL
	}
	key := name
	if key == "" {
		key = adhocKey(playerURL)
	}
	label := strings.TrimSpace(req.CameraLabel)
	if label == "" {
		label = cam.Label
	}
	if label == "" {
		label = key
	}
	return job{
		target: pool.Target{Key: key, URL: playerURL, FrameSelector: s.selectorLocked(cam)},
		label:  label,
	}, nil
}

func (s *Service) selectorLocked(cam config.CameraConfig) string {
	if cam.FrameSelector != "" {
		return cam.FrameSelector
	}
	return s.cfg.FrameSelector
}

// run is the body of a scheduled job.
func (s *Service) run(ctx context.Context, j job) (res Result, err error) {
	start := time.Now()
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}
	ctx, span := telemetry.Tracer("camshot/shot").Start(ctx, "capture.job")
	span.SetAttributes(telemetry.CameraAttributes(j.target.Key, j.target.URL)...)
	defer span.End()

	logger := log.WithComponentFromContext(ctx, "shot")
	res = Result{JobID: log.JobIDFromContext(ctx), Camera: j.target.Key, Label: j.label}

	defer func() {
		kind := KindOf(err)
		outcome := "ok"
		if err != nil {
			outcome = string(kind)
			span.RecordError(err)
			span.SetStatus(codes.Error, string(kind))
		}
		metrics.RecordCapture(j.target.Key, outcome, time.Since(start))
		s.record(ctx, j, res, kind, err, time.Since(start))
	}()

	lease, err := s.deps.Pool.Acquire(ctx, j.target)
	if err != nil {
		return res, err
	}
	defer lease.Release()

	cr, err := s.deps.Pipeline.Extract(ctx, capture.Source{
		Camera:        j.target.Key,
		Surface:       lease.Surface(),
		FrameSelector: lease.FrameSelector(),
	})
	lease.Release()
	if err != nil {
		logger.Warn().Err(err).Str("event", "shot.capture_failed").Msg("no frame extracted")
		return res, err
	}
	res.Strategy, res.Attempts = cr.Strategy, cr.Attempts
	span.SetAttributes(telemetry.CaptureAttributes(cr.Strategy, cr.Attempts, len(cr.Bytes))...)

	a, err := s.deps.Artifacts.Save(ctx, j.target.Key, cr.Bytes)
	if err != nil {
		return res, fmt.Errorf("persist frame: %w", err)
	}
	res.File, res.URL = a.Name, a.URL

	payload, status, relayErr := s.relay(ctx, j, a, cr.Bytes)
	res.Relay, res.RelayStatus = payload, status
	if relayErr != nil {
		res.RelayError = relayErr.Error()
	}
	if err := s.deps.Artifacts.SaveRecord(ctx, a, payload); err != nil {
		logger.Warn().Err(err).Str("event", "shot.record_ignored").Str(log.FieldFile, a.RecordName()).Msg("could not write relay record")
	}

	logger.Info().
		Str("event", "shot.captured").
		Str(log.FieldFile, a.Name).
		Str(log.FieldStrategy, cr.Strategy).
		Int(log.FieldAttempt, cr.Attempts).
		Bool("relayed", relayErr == nil && s.deps.Relay != nil && s.deps.Relay.Enabled()).
		Dur("duration", time.Since(start)).
		Msg("capture finished")

	return res, relayErr
}

// relay sends the frame and returns the payload to record: the upstream body
// when it is JSON, a JSON string otherwise, or an error object when the call
// produced no body.
func (s *Service) relay(ctx context.Context, j job, a artifact.Artifact, img []byte) (json.RawMessage, int, error) {
	if s.deps.Relay == nil || !s.deps.Relay.Enabled() {
		return nil, 0, nil
	}
	resp, err := s.deps.Relay.Send(ctx, relay.Request{Camera: j.label, Image: img, URL: a.URL})
	trace.SpanFromContext(ctx).SetAttributes(telemetry.RelayAttributes(s.deps.Relay.Mode(), resp.StatusCode)...)

	var payload json.RawMessage
	switch {
	case len(resp.Body) > 0 && json.Valid(resp.Body):
		payload = json.RawMessage(resp.Body)
	case len(resp.Body) > 0:
		payload, _ = json.Marshal(string(resp.Body))
	case err != nil:
		payload, _ = json.Marshal(map[string]string{"relay_error": err.Error()})
	}
	return payload, resp.StatusCode, err
}

func (s *Service) record(ctx context.Context, j job, res Result, kind Kind, err error, d time.Duration) {
	if s.deps.History == nil {
		return
	}
	r := history.Record{
		JobID:     res.JobID,
		Camera:    j.target.Key,
		PlayerURL: j.target.URL,
		File:      res.File,
		URL:       res.URL,
		Strategy:  res.Strategy,
		Attempts:  res.Attempts,
		Kind:      string(kind),
		Duration:  d,
	}
	if err != nil {
		r.Error = err.Error()
	}
	r.RelayStatus = res.RelayStatus
	// The job context may be past its deadline; the index write is independent.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.deps.History.Add(writeCtx, r); err != nil {
		logger := log.WithComponentFromContext(ctx, "shot")
		logger.Warn().Err(err).Str("event", "shot.history_ignored").Msg("could not index capture")
	}
}

func adhocKey(playerURL string) string {
	if u, err := url.Parse(playerURL); err == nil {
		u.Fragment = ""
		playerURL = u.String()
	}
	sum := sha256.Sum256([]byte(playerURL))
	return "adhoc-" + hex.EncodeToString(sum[:6])
}

func copyCameras(in map[string]config.CameraConfig) map[string]config.CameraConfig {
	out := make(map[string]config.CameraConfig, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
