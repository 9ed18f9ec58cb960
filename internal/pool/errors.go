// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pool

import "errors"

var (
	// ErrResource reports that a camera resource could not be provided: the
	// rendering session failed to launch, a tab could not be opened, or the session
	// was lost while the resource was being created.
	ErrResource = errors.New("camera resource unavailable")

	// ErrNavigation reports a failed page load. It is logged, never returned from
	// Acquire: a partially loaded player often still yields a usable frame.
	ErrNavigation = errors.New("navigation failed")

	// ErrClosed is returned once the pool has been closed.
	ErrClosed = errors.New("pool closed")
)
