// Package netstate maintains the connectivity flag by probing a TCP
// endpoint.
package netstate

import (
	"context"
	"net"
	"sync"
	"time"

	"weatherwise/internal/errorutil"
	"weatherwise/internal/logger"
	"weatherwise/internal/metrics"
)

const (
	DefaultProbeAddress  = "api.open-meteo.com:443"
	DefaultProbeTimeout  = 3 * time.Second
	DefaultProbeInterval = 30 * time.Second
)

// DialFunc opens a connection. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Monitor holds the connectivity flag. It starts online.
type Monitor struct {
	address string
	timeout time.Duration
	dial    DialFunc

	mu     sync.RWMutex
	online bool
	forced bool
}

// NewMonitor returns a monitor probing address. Empty or zero arguments
// select the defaults.
func NewMonitor(address string, timeout time.Duration) *Monitor {
	if address == "" {
		address = DefaultProbeAddress
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	var d net.Dialer
	return &Monitor{address: address, timeout: timeout, dial: d.DialContext, online: true}
}

// WithDialer replaces the dialer. Used by tests.
func (m *Monitor) WithDialer(dial DialFunc) *Monitor {
	m.dial = dial
	return m
}

// Online reports the current flag.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// ForceOffline pins the flag to offline. Probes no longer change it.
func (m *Monitor) ForceOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced = true
	m.online = false
}

// Probe dials the endpoint once and updates the flag. It reports the new
// flag and whether it changed. A dial cut short by ctx leaves the flag
// alone.
func (m *Monitor) Probe(ctx context.Context) (online, changed bool) {
	m.mu.RLock()
	forced, current := m.forced, m.online
	m.mu.RUnlock()
	if forced {
		return false, false
	}
	if ctx.Err() != nil {
		return current, false
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	reachable := true
	conn, err := m.dial(dialCtx, "tcp", m.address)
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("Connectivity check of %s abandoned: %v", m.address, ctx.Err())
			return m.Online(), false
		}
		reachable = false
		logger.Debug("Connectivity probe to %s failed (%s): %v", m.address, errorutil.ClassifyNetworkError(err), err)
	} else {
		_ = conn.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.forced {
		return false, false
	}
	changed = m.online != reachable
	m.online = reachable
	if changed {
		state := "offline"
		if reachable {
			state = "online"
		}
		metrics.ConnectivityTransitions.WithLabelValues(state).Inc()
		logger.Info("Connectivity changed: %s", state)
	}
	return reachable, changed
}

// Watch probes every interval until ctx ends and calls onChange on each
// transition.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, onChange func(online bool)) {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Connectivity monitor stopped")
			return
		case <-ticker.C:
			if online, changed := m.Probe(ctx); changed && onChange != nil {
				onChange(online)
			}
		}
	}
}
