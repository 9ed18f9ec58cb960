// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package intake

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/camshot/internal/shot"
)

type recorder struct {
	mu    sync.Mutex
	reqs  []shot.Request
	block chan struct{}
}

func (r *recorder) Capture(ctx context.Context, req shot.Request) (shot.Result, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return shot.Result{}, ctx.Err()
		}
	}
	if req.Camera == "broken" {
		return shot.Result{}, &shot.Error{Kind: shot.KindCapture, Err: errors.New("no frame")}
	}
	return shot.Result{Camera: req.Camera, File: req.Camera + ".jpg"}, nil
}

func (r *recorder) got() []shot.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shot.Request(nil), r.reqs...)
}

func TestRun_SubmitsEachLine(t *testing.T) {
	defer goleak.VerifyNone(t)

	input := strings.Join([]string{
		`{"camera":"door"}`,
		``,
		`not json`,
		`{"player_url":"https://ipeye.example/p/1","camera_label":"Gate"}`,
		`{"camera":"broken"}`,
	}, "\n")
	rec := &recorder{}

	err := New(strings.NewReader(input), rec).Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []shot.Request{
		{Camera: "door"},
		{PlayerURL: "https://ipeye.example/p/1", CameraLabel: "Gate"},
		{Camera: "broken"},
	}, rec.got())
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	rec := &recorder{block: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- New(pr, rec).Run(ctx) }()

	_, err := pw.Write([]byte("{\"camera\":\"door\"}\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	// Unblock the scanner goroutine.
	require.NoError(t, pw.Close())
}

func TestRun_ReadError(t *testing.T) {
	defer goleak.VerifyNone(t)

	pr, pw := io.Pipe()
	require.NoError(t, pw.CloseWithError(errors.New("stdin gone")))

	err := New(pr, &recorder{}).Run(context.Background())
	assert.EqualError(t, err, "stdin gone")
}
