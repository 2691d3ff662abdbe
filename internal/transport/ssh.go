package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	lkerr "luka/internal/errors"
	"luka/internal/retry"
	"luka/tunnel"
	"luka/util"
)

// SSHDialer routes connections through an SSH jump host.  The tunnel is
// connected on first use and re-established when it has died.  A
// circuit breaker stops every new session from hammering a gateway that
// keeps failing.
type SSHDialer struct {
	tunnel  tunnel.Tunnel
	config  *tunnel.SSHConfig
	breaker *retry.CircuitBreaker
	logger  *util.Logger

	mu        sync.Mutex
	connected bool
}

// NewSSHDialer creates a dialer that forwards connections through an
// SSH tunnel.  Nothing is dialed until the first Dial.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	bcfg := retry.DefaultBreakerConfig()
	bcfg.OnStateChange = func(from, to retry.State) {
		logger.Verbose("jump host %s: circuit %s -> %s", cfg.Host, from, to)
	}
	return &SSHDialer{
		tunnel:  tunnel.NewSSHTunnel(cfg, logger),
		config:  cfg,
		breaker: retry.NewCircuitBreaker(bcfg),
		logger:  logger,
	}
}

// Connect establishes the SSH tunnel if it is not already up.  The
// server calls it at startup so credentials problems surface before the
// first client arrives.
func (d *SSHDialer) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected && d.tunnel.IsAlive() {
		return nil
	}
	if d.connected {
		d.logger.Warn("jump host %s: connection lost, reconnecting", d.config)
		d.tunnel.Close() //nolint:errcheck
		d.connected = false
	}

	if err := d.breaker.Allow(); err != nil {
		return fmt.Errorf("jump host %s: %w", d.config, err)
	}

	d.logger.Verbose("establishing SSH tunnel to %s", d.config)
	err := d.tunnel.Connect(ctx)
	d.breaker.Record(err)
	if err != nil {
		return fmt.Errorf("jump host: %w", err)
	}

	d.connected = true
	d.logger.Verbose("SSH tunnel established")
	return nil
}

// Dial connects to address through the jump host.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	if err := d.Connect(ctx); err != nil {
		return nil, err
	}
	conn, err := d.tunnel.Dial(ctx, network, address)
	if err != nil {
		return nil, lkerr.Wrap("dial", address, err)
	}
	return conn, nil
}

// Close tears down the underlying SSH tunnel.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		d.connected = false
		return d.tunnel.Close()
	}
	return nil
}
