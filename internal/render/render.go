// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package render defines the narrow browser capability the capture engine depends on.
//
// An Engine launches a Browser (one shared process). A Browser opens Surfaces (tabs).
// A Surface navigates, exposes its Frames and takes viewport screenshots. Elements
// found in frames can be played (media) and screenshotted by their visual region.
package render

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by operations on a closed surface or browser.
	ErrClosed = errors.New("render: closed")

	// ErrCrossOrigin is returned when a frame's document cannot be accessed.
	// Callers searching across frames treat it as "skip this frame".
	ErrCrossOrigin = errors.New("render: frame not accessible")

	// ErrNotVisible is returned when an element has no visual region to capture.
	ErrNotVisible = errors.New("render: element not visible")
)

// LaunchOptions configures the browser process.
type LaunchOptions struct {
	ExecPath       string
	Headless       bool
	NoSandbox      bool
	ViewportWidth  int
	ViewportHeight int
	ExtraFlags     []string
}

// Engine launches browser processes.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	// NewSurface opens a blank tab sized to the launch viewport.
	NewSurface(ctx context.Context) (Surface, error)
	// Connected reports whether the process is still reachable.
	Connected() bool
	// Disconnected is closed once the browser exits or loses its connection.
	Disconnected() <-chan struct{}
	Close() error
}

// Surface is one tab.
type Surface interface {
	// Navigate loads url and returns once the document is parsed.
	Navigate(ctx context.Context, url string) error
	// Frames returns the main frame first, followed by nested frames in document order.
	// Frames whose document is inaccessible are returned; querying them yields ErrCrossOrigin.
	Frames(ctx context.Context) ([]Frame, error)
	// Query returns the first element in the main frame matching selector, or nil.
	Query(ctx context.Context, selector string) (Element, error)
	// Screenshot captures the visible viewport as JPEG.
	Screenshot(ctx context.Context, quality int) ([]byte, error)
	Closed() bool
	Close() error
}

// Frame is a document inside a surface.
type Frame interface {
	// Query returns the first element matching selector, or nil when there is none.
	Query(ctx context.Context, selector string) (Element, error)
}

// Element is a DOM element handle.
type Element interface {
	// Tag returns the lower-case tag name.
	Tag() string
	// Play starts muted playback on media elements. It is a no-op for other elements.
	Play(ctx context.Context) error
	// Screenshot captures the element's visual region as JPEG.
	Screenshot(ctx context.Context, quality int) ([]byte, error)
}
