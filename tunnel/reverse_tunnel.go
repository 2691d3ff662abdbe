// reverse_tunnel.go contains the ReverseTunnel type, its lifecycle
// (Start, Wait, Close) and the accept loop.  Supporting logic lives in
// sibling files:
//
//   - reverse_messages.go  - banner and session output forwarding
//   - reverse_listener.go  - forwarded-tcpip listener
//   - reverse_forwarder.go - bridging to the local listener
//   - reverse_health.go    - keepalive
package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"luka/internal/metrics"
	"luka/util"
)

// ReverseTunnelConfig holds everything needed to publish a local port
// on a remote SSH gateway.
type ReverseTunnelConfig struct {
	SSHConfig *SSHConfig

	// Remote listener requested with tcpip-forward.
	RemoteBindAddress string // "" lets the gateway decide
	RemotePort        int

	// Local service that forwarded connections are bridged to.
	LocalAddress string // default "127.0.0.1"
	LocalPort    int
	DialTimeout  time.Duration // default 5s

	KeepAliveInterval time.Duration // 0 disables keepalive

	// OnOutput receives each line the gateway prints, from the pre-auth
	// banner and from the shell session.  Public tunnel services report
	// the assigned URL this way.
	OnOutput func(line string)
}

// ReverseTunnel forwards connections arriving on a remote SSH gateway
// to a local TCP service.  This is the Go equivalent of ssh -R.
type ReverseTunnel struct {
	config   *ReverseTunnelConfig
	client   *ssh.Client
	listener net.Listener
	logger   *util.Logger
	metrics  *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewReverseTunnel creates a reverse tunnel ready to [ReverseTunnel.Start].
// The metrics collector is optional (nil-safe).
func NewReverseTunnel(cfg *ReverseTunnelConfig, logger *util.Logger, m *metrics.Collector) *ReverseTunnel {
	if cfg.LocalAddress == "" {
		cfg.LocalAddress = "127.0.0.1"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.SSHConfig != nil {
		cfg.SSHConfig.applyDefaults()
	}
	return &ReverseTunnel{config: cfg, logger: logger, metrics: m}
}

func (rt *ReverseTunnel) localTarget() string {
	return net.JoinHostPort(rt.config.LocalAddress, strconv.Itoa(rt.config.LocalPort))
}

func (rt *ReverseTunnel) remoteAddr() string {
	return net.JoinHostPort(rt.config.RemoteBindAddress, strconv.Itoa(rt.config.RemotePort))
}

// Start connects to the gateway, requests the remote listener and
// begins forwarding inbound connections to the local service.  It
// returns once the forward is in place.
func (rt *ReverseTunnel) Start(ctx context.Context) error {
	rt.ctx, rt.cancel = context.WithCancel(ctx)

	client, listener, err := rt.establish(rt.ctx)
	if err != nil {
		rt.cancel()
		return err
	}

	rt.mu.Lock()
	rt.client = client
	rt.listener = listener
	rt.mu.Unlock()

	rt.logger.Info("reverse tunnel established: %s (remote) -> %s (local)",
		rt.remoteAddr(), rt.localTarget())

	// Closing the listener unblocks a pending Accept on cancellation.
	go func() {
		<-rt.ctx.Done()
		rt.mu.Lock()
		if rt.listener != nil {
			rt.listener.Close()
		}
		rt.mu.Unlock()
	}()

	if rt.config.KeepAliveInterval > 0 {
		rt.wg.Add(1)
		go rt.keepaliveLoop(client)
	}

	rt.wg.Add(1)
	go rt.acceptLoop()

	return nil
}

// establish dials the gateway, starts the output drain and requests the
// remote forward.
func (rt *ReverseTunnel) establish(ctx context.Context) (*ssh.Client, net.Listener, error) {
	client, err := dialClient(ctx, rt.config.SSHConfig, rt.logger, rt.emit)
	if err != nil {
		return nil, nil, fmt.Errorf("SSH connection: %w", err)
	}

	// The forward must be requested before the shell session starts:
	// some gateways print the URL as soon as the session opens.
	listener, err := listenRemoteForward(client, rt.config.RemoteBindAddress, rt.config.RemotePort)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("remote listen on %s: %w", rt.remoteAddr(), err)
	}

	go rt.drainServerMessages(client)
	return client, listener, nil
}

// Done is closed once the tunnel stops forwarding for good.
func (rt *ReverseTunnel) Done() <-chan struct{} {
	if rt.ctx == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return rt.ctx.Done()
}

// Wait blocks until every forwarding goroutine has returned.
func (rt *ReverseTunnel) Wait() {
	rt.wg.Wait()
}

// Close tears down the listener, SSH client, and all active forwards.
func (rt *ReverseTunnel) Close() error {
	rt.mu.Lock()
	if rt.closed {
		rt.mu.Unlock()
		return nil
	}
	rt.closed = true
	rt.mu.Unlock()

	if rt.cancel != nil {
		rt.cancel()
	}

	var errs []error

	rt.mu.Lock()
	if rt.listener != nil {
		if err := rt.listener.Close(); err != nil {
			errs = append(errs, fmt.Errorf("listener close: %w", err))
		}
		rt.listener = nil
	}
	if rt.client != nil {
		if err := rt.client.Close(); err != nil && !util.IsHarmless(err) {
			errs = append(errs, fmt.Errorf("SSH close: %w", err))
		}
		rt.client = nil
	}
	rt.mu.Unlock()

	done := make(chan struct{})
	go func() {
		rt.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		errs = append(errs, fmt.Errorf("timeout waiting for handlers to finish"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("reverse tunnel close: %v", errs)
	}
	return nil
}

// acceptLoop accepts forwarded connections and spawns a bridge for
// each one.  Losing the gateway ends the tunnel; restarting it is the
// caller's job.
func (rt *ReverseTunnel) acceptLoop() {
	defer rt.wg.Done()
	defer rt.cancel()

	for {
		rt.mu.Lock()
		listener := rt.listener
		rt.mu.Unlock()

		if listener == nil {
			return
		}

		remoteConn, err := listener.Accept()
		if err != nil {
			if rt.ctx.Err() != nil {
				return
			}
			rt.logger.Warn("reverse tunnel lost: %v", err)
			rt.metrics.RecordError(fmt.Sprintf("reverse tunnel accept: %v", err))
			return
		}

		rt.logger.Verbose("reverse tunnel: connection from %s", remoteConn.RemoteAddr())

		rt.wg.Add(1)
		go rt.handleConnection(remoteConn)
	}
}
