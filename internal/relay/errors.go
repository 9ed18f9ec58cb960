// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package relay

import (
	"errors"
	"fmt"
)

// ErrRelay classifies every failure to hand a frame to the recognition service.
var ErrRelay = errors.New("relay failed")

// Error describes a failed relay call. It matches ErrRelay and its cause.
type Error struct {
	Mode       string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("relay %s: upstream status %d", e.Mode, e.StatusCode)
	}
	return fmt.Sprintf("relay %s: %v", e.Mode, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRelay}
	}
	return []error{ErrRelay, e.Err}
}
