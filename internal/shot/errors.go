// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package shot

import (
	"context"
	"errors"

	"github.com/ManuGH/camshot/internal/capture"
	"github.com/ManuGH/camshot/internal/pool"
	"github.com/ManuGH/camshot/internal/relay"
	"github.com/ManuGH/camshot/internal/scheduler"
)

// ErrValidation marks requests that can never succeed as given.
var ErrValidation = errors.New("invalid capture request")

// Kind classifies a capture failure for callers.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindResource     Kind = "resource"
	KindCapture      Kind = "capture"
	KindRelay        Kind = "relay"
	KindQueueTimeout Kind = "queue_timeout"
	KindOverloaded   Kind = "overloaded"
	KindTimeout      Kind = "timeout"
	KindInternal     Kind = "internal"
)

// Error is returned by Service.Capture.
type Error struct {
	Kind   Kind
	Camera string
	Err    error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. It returns "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) && se.Kind != "" {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, scheduler.ErrQueueTimeout):
		return KindQueueTimeout
	case errors.Is(err, scheduler.ErrQueueFull),
		errors.Is(err, scheduler.ErrClosed),
		errors.Is(err, pool.ErrClosed):
		return KindOverloaded
	case errors.Is(err, relay.ErrRelay):
		return KindRelay
	case errors.Is(err, capture.ErrNoFrame):
		return KindCapture
	case errors.Is(err, pool.ErrResource):
		return KindResource
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	default:
		return KindInternal
	}
}
