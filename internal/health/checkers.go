// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"os"

	"github.com/ManuGH/camshot/internal/resilience"
)

// DirChecker verifies that a directory exists and accepts writes.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a checker for a writable directory.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(_ context.Context) CheckResult {
	if err := checkWritableDir(c.path); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: c.path}
	}
	return CheckResult{Status: StatusHealthy, Message: "writable"}
}

func checkWritableDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	f, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s: %w", path, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// PingChecker reports unhealthy whenever ping fails. A nil ping means the
// component is disabled.
type PingChecker struct {
	name string
	ping func(context.Context) error
}

// NewPingChecker wraps a ping function such as a database integrity check.
func NewPingChecker(name string, ping func(context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	if c.ping == nil {
		return CheckResult{Status: StatusHealthy, Message: "not configured (optional)"}
	}
	if err := c.ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// BreakerChecker reports a downstream dependency guarded by a circuit breaker.
// An open breaker degrades the service without failing readiness.
type BreakerChecker struct {
	name  string
	state func() resilience.State
}

// NewBreakerChecker creates a checker reading the breaker state on each probe.
func NewBreakerChecker(name string, state func() resilience.State) *BreakerChecker {
	return &BreakerChecker{name: name, state: state}
}

func (c *BreakerChecker) Name() string { return c.name }

func (c *BreakerChecker) Check(_ context.Context) CheckResult {
	switch s := c.state(); s {
	case resilience.StateOpen:
		return CheckResult{Status: StatusDegraded, Message: "circuit open"}
	case resilience.StateHalfOpen:
		return CheckResult{Status: StatusDegraded, Message: "circuit half-open"}
	default:
		return CheckResult{Status: StatusHealthy, Message: string(s)}
	}
}

// SessionStatus is what SessionChecker needs from the rendering pool.
type SessionStatus struct {
	Connected bool
	Resources int
}

// SessionChecker reports the shared rendering session. The session launches on
// demand, so a disconnected session with no resources is healthy; resources
// without a session are not expected and degrade.
type SessionChecker struct {
	status func() SessionStatus
}

// NewSessionChecker creates the rendering session checker.
func NewSessionChecker(status func() SessionStatus) *SessionChecker {
	return &SessionChecker{status: status}
}

func (c *SessionChecker) Name() string { return "browser" }

func (c *SessionChecker) Check(_ context.Context) CheckResult {
	st := c.status()
	switch {
	case st.Connected:
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("connected, %d resources", st.Resources)}
	case st.Resources == 0:
		return CheckResult{Status: StatusHealthy, Message: "idle, launches on demand"}
	default:
		return CheckResult{Status: StatusDegraded, Message: "session disconnected"}
	}
}
