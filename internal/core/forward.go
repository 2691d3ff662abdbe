package core

import (
	"context"
	"fmt"
	"net"
	"time"

	lkerr "luka/internal/errors"
	"luka/internal/expose"
	"luka/internal/metrics"
	"luka/internal/transport"
	"luka/util"
)

// ForwardMode is luka's one operation: forward a local port to the
// source, optionally published on the internet.
type ForwardMode struct {
	Server *Server
	Dialer transport.Dialer

	Source       string // host:port, for the startup probe
	ProbeTimeout time.Duration
	SkipProbe    bool
	GracePeriod  time.Duration

	// NewSupervisor builds the public tunnel supervisor once the port is
	// known.  Nil disables public exposure.
	NewSupervisor func(port int) *expose.Supervisor

	MetricsAddr string
	Metrics     *metrics.Collector
	Logger      *util.Logger
}

// Run probes the source, binds, serves until ctx is cancelled, and then
// gives open sessions the grace period to finish.  Startup failures are
// fatal; anything after that is per-session.
func (m *ForwardMode) Run(ctx context.Context) error {
	defer m.Dialer.Close() //nolint:errcheck

	if !m.SkipProbe {
		if err := m.probe(ctx); err != nil {
			return err
		}
	}

	if m.MetricsAddr != "" {
		go func() {
			err := metrics.Serve(ctx, m.MetricsAddr, m.Metrics, m.Logger, func(a net.Addr) {
				m.Logger.Info("metrics on http://%s/metrics", a)
			})
			if err != nil {
				m.Logger.Error("metrics server: %v", err)
			}
		}()
	}

	if err := m.Server.Bind(); err != nil {
		return err
	}
	m.Logger.Info("forwarding %s -> %s", m.Server.Addr(), m.Source)

	if m.NewSupervisor != nil {
		sup := m.NewSupervisor(m.Server.Port())
		sup.Start(ctx)
		defer sup.Stop()
	}

	m.Metrics.SetReady(true)
	err := m.Server.Serve(ctx)
	m.Metrics.SetReady(false)
	if err != nil {
		return err
	}

	if open := m.Server.OpenSessions(); open > 0 {
		m.Logger.Info("shutting down, waiting up to %v for %d open session(s)", m.GracePeriod, open)
	}
	if !m.Server.Wait(m.GracePeriod) {
		m.Logger.Warn("%d session(s) still open after %v, exiting", m.Server.OpenSessions(), m.GracePeriod)
	}
	return nil
}

// probe dials the source once so a typo fails at startup rather than
// on the first client.
func (m *ForwardMode) probe(ctx context.Context) error {
	timeout := m.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := m.Dialer.Dial(pctx, "tcp", m.Source)
	if err != nil {
		return fmt.Errorf("%w: cannot connect to %s: %v", lkerr.ErrSourceUnreachable, m.Source, err)
	}
	conn.Close()
	m.Logger.Debug("source %s is reachable", m.Source)
	return nil
}
