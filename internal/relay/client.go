// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package relay forwards captured frames to the recognition service.
//
// Two transports exist: "upload" posts the JPEG as multipart form data
// (files[], camera, save) and "url" issues a GET carrying the artifact's public
// URL (url, camera, save). Calls are paced by a token bucket and guarded by a
// circuit breaker so a dead upstream fails fast.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/camshot/internal/log"
	"github.com/ManuGH/camshot/internal/metrics"
	"github.com/ManuGH/camshot/internal/platform/httpx"
	platformnet "github.com/ManuGH/camshot/internal/platform/net"
	"github.com/ManuGH/camshot/internal/resilience"
)

const (
	ModeUpload = "upload"
	ModeURL    = "url"

	// UploadFileName is the part file name the recognition service sees.
	UploadFileName = "frame.jpg"

	maxResponseBytes = 1 << 20
)

// Config configures a Client.
type Config struct {
	URL              string
	Mode             string
	Timeout          time.Duration
	Persist          bool
	RatePerSecond    float64
	Burst            int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Request is one frame to relay.
type Request struct {
	Camera string
	Image  []byte
	URL    string
}

// Response is what the recognition service answered.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Client relays frames. A Client with an empty URL is disabled.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the outbound HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// New returns a client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeUpload
	}
	if cfg.Mode != ModeUpload && cfg.Mode != ModeURL {
		return nil, fmt.Errorf("relay: unknown mode %q", cfg.Mode)
	}
	if cfg.URL != "" {
		if _, err := url.ParseRequestURI(cfg.URL); err != nil {
			return nil, fmt.Errorf("relay: invalid url: %w", err)
		}
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := max(cfg.Burst, 1)

	c := &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = httpx.NewClient(cfg.Timeout,
			httpx.WithResponseHeaderTimeout(cfg.Timeout),
			httpx.WithTracing())
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker("relay", cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
	return c, nil
}

// Enabled reports whether a relay URL is configured.
func (c *Client) Enabled() bool { return c.cfg.URL != "" }

// Mode returns the configured transport.
func (c *Client) Mode() string { return c.cfg.Mode }

// Send relays req. On an upstream error status the response body is still
// returned alongside the error so it can be recorded.
func (c *Client) Send(ctx context.Context, req Request) (Response, error) {
	logger := log.WithComponentFromContext(ctx, "relay")
	start := time.Now()

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.RecordRelay(c.cfg.Mode, "rate_limited", time.Since(start))
		return Response{}, &Error{Mode: c.cfg.Mode, Err: err}
	}

	var resp Response
	err := c.breaker.Execute(func() error {
		var err error
		resp, err = c.do(ctx, req)
		return err
	})
	resp.Duration = time.Since(start)

	if err != nil {
		result := "error"
		if errors.Is(err, resilience.ErrCircuitOpen) {
			result = "circuit_open"
		}
		metrics.RecordRelay(c.cfg.Mode, result, resp.Duration)
		logger.Warn().Err(err).
			Str("event", "relay.failed").
			Str(log.FieldRelayURL, platformnet.SanitizeURL(c.cfg.URL)).
			Int("status", resp.StatusCode).
			Dur("duration", resp.Duration).
			Msg("recognition service call failed")

		var rerr *Error
		if !errors.As(err, &rerr) {
			err = &Error{Mode: c.cfg.Mode, Err: err}
		}
		return resp, err
	}

	metrics.RecordRelay(c.cfg.Mode, "ok", resp.Duration)
	logger.Info().
		Str("event", "relay.sent").
		Int("status", resp.StatusCode).
		Int("bytes", len(resp.Body)).
		Dur("duration", resp.Duration).
		Msg("frame relayed")
	return resp, nil
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return Response{}, err
	}

	res, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			log.FromContext(ctx).Debug().Err(err).Str("event", "relay.body_close_ignored").Msg("close response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	resp := Response{StatusCode: res.StatusCode, Body: body}
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return resp, &Error{Mode: c.cfg.Mode, StatusCode: res.StatusCode}
	}
	return resp, nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	save := strconv.FormatBool(c.cfg.Persist)

	if c.cfg.Mode == ModeURL {
		if req.URL == "" {
			return nil, errors.New("no public url for artifact")
		}
		u, err := url.Parse(c.cfg.URL)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("url", req.URL)
		q.Set("camera", req.Camera)
		q.Set("save", save)
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[]"; filename=%q`, UploadFileName))
	h.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(req.Image); err != nil {
		return nil, err
	}
	if err := mw.WriteField("camera", req.Camera); err != nil {
		return nil, err
	}
	if err := mw.WriteField("save", save); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	return httpReq, nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() resilience.State { return c.breaker.State() }
