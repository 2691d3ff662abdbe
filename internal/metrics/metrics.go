// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a luka server.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a luka server.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	sessionsActive atomic.Int64
	sessionsTotal  atomic.Int64
	bytesUp        atomic.Int64 // client → source
	bytesDown      atomic.Int64 // source → client
	rejected       atomic.Int64
	dialFailures   atomic.Int64
	relayErrors    atomic.Int64
	tunnelRestarts atomic.Int64
	errorsTotal    atomic.Int64
	ready          atomic.Bool

	mu              sync.RWMutex
	startTime       time.Time
	lastHealthCheck time.Time
	lastError       time.Time
	lastErrorMsg    string
	publicURL       string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session metrics ──────────────────────────────────────────────────

// SessionOpened increments both the active and total counters.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.sessionsTotal.Add(1)
}

// SessionClosed decrements the active session counter.
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
}

// ActiveSessions returns the number of sessions currently open.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// TotalSessions returns the lifetime session count.
func (c *Collector) TotalSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsTotal.Load()
}

// Rejected records a connection turned away by the admission gate.
func (c *Collector) Rejected() {
	if c == nil {
		return
	}
	c.rejected.Add(1)
}

// RejectedTotal returns the number of rejected connections.
func (c *Collector) RejectedTotal() int64 {
	if c == nil {
		return 0
	}
	return c.rejected.Load()
}

// DialFailed records a session whose source could not be reached.
func (c *Collector) DialFailed() {
	if c == nil {
		return
	}
	c.dialFailures.Add(1)
}

// DialFailures returns the number of failed source dials.
func (c *Collector) DialFailures() int64 {
	if c == nil {
		return 0
	}
	return c.dialFailures.Load()
}

// RelayError records a copy loop that ended with a non-EOF error.
func (c *Collector) RelayError() {
	if c == nil {
		return
	}
	c.relayErrors.Add(1)
}

// RelayErrors returns the number of relay I/O errors.
func (c *Collector) RelayErrors() int64 {
	if c == nil {
		return 0
	}
	return c.relayErrors.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// AddUp records n bytes relayed from a client to the source.
func (c *Collector) AddUp(n int64) {
	if c == nil {
		return
	}
	c.bytesUp.Add(n)
}

// AddDown records n bytes relayed from the source to a client.
func (c *Collector) AddDown(n int64) {
	if c == nil {
		return
	}
	c.bytesDown.Add(n)
}

// TotalBytesUp returns total client → source bytes.
func (c *Collector) TotalBytesUp() int64 {
	if c == nil {
		return 0
	}
	return c.bytesUp.Load()
}

// TotalBytesDown returns total source → client bytes.
func (c *Collector) TotalBytesDown() int64 {
	if c == nil {
		return 0
	}
	return c.bytesDown.Load()
}

// ── Public tunnel metrics ────────────────────────────────────────────

// TunnelRestart records a public tunnel client restart or reconnect.
func (c *Collector) TunnelRestart() {
	if c == nil {
		return
	}
	c.tunnelRestarts.Add(1)
}

// TunnelRestarts returns the total restart count.
func (c *Collector) TunnelRestarts() int64 {
	if c == nil {
		return 0
	}
	return c.tunnelRestarts.Load()
}

// SetPublicURL stores the most recent public tunnel URL.
func (c *Collector) SetPublicURL(url string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.publicURL = url
	c.mu.Unlock()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Health ───────────────────────────────────────────────────────────

// RecordHealthCheck updates the last health check timestamp.
func (c *Collector) RecordHealthCheck() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

// SetReady marks whether the server is accepting connections.
func (c *Collector) SetReady(ready bool) {
	if c == nil {
		return
	}
	c.ready.Store(ready)
}

// Ready reports the value last passed to SetReady.
func (c *Collector) Ready() bool {
	return c != nil && c.ready.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	Ready            bool   `json:"ready"`
	SessionsActive   int64  `json:"sessions_active"`
	SessionsTotal    int64  `json:"sessions_total"`
	BytesUp          int64  `json:"bytes_up"`
	BytesDown        int64  `json:"bytes_down"`
	Rejected         int64  `json:"rejected"`
	DialFailures     int64  `json:"dial_failures"`
	RelayErrors      int64  `json:"relay_errors"`
	TunnelRestarts   int64  `json:"tunnel_restarts"`
	ErrorsTotal      int64  `json:"errors_total"`
	PublicURL        string `json:"public_url,omitempty"`
	LastHealthCheck  string `json:"last_health_check,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:         time.Since(c.startTime).Truncate(time.Second).String(),
		Ready:          c.ready.Load(),
		SessionsActive: c.sessionsActive.Load(),
		SessionsTotal:  c.sessionsTotal.Load(),
		BytesUp:        c.bytesUp.Load(),
		BytesDown:      c.bytesDown.Load(),
		Rejected:       c.rejected.Load(),
		DialFailures:   c.dialFailures.Load(),
		RelayErrors:    c.relayErrors.Load(),
		TunnelRestarts: c.tunnelRestarts.Load(),
		ErrorsTotal:    c.errorsTotal.Load(),
		PublicURL:      c.publicURL,
	}
	if !c.lastHealthCheck.IsZero() {
		s.LastHealthCheck = c.lastHealthCheck.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
