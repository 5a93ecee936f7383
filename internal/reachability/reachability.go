// Package reachability reports whether the remote music server can currently
// be reached. The signal is polled at resolution time, never pushed.
package reachability

import (
	"context"
	"sync/atomic"
	"time"
)

const pingTimeout = 3 * time.Second

// Pinger is the subset of the catalog client used to probe the server.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor answers "can we reach the server right now".
type Monitor struct {
	pinger       Pinger
	forceOffline atomic.Bool
}

func New(pinger Pinger, forceOffline bool) *Monitor {
	m := &Monitor{pinger: pinger}
	m.forceOffline.Store(forceOffline)
	return m
}

// CanReachServer probes the server with a bounded timeout. Always false when
// the user has forced offline mode or no server is configured.
func (m *Monitor) CanReachServer(ctx context.Context) bool {
	if m.forceOffline.Load() || m.pinger == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return m.pinger.Ping(ctx) == nil
}

// SetForceOffline toggles user-forced offline mode.
func (m *Monitor) SetForceOffline(v bool) {
	m.forceOffline.Store(v)
}

// ForceOffline returns true if the user has forced offline mode.
func (m *Monitor) ForceOffline() bool {
	return m.forceOffline.Load()
}
