package expose

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	lkerr "luka/internal/errors"
	"luka/internal/metrics"
	"luka/internal/retry"
	"luka/util"
)

// errNoURL marks a client run that ended without reporting a URL.
var errNoURL = lkerr.New("tunnel client exited without reporting a URL")

// Config configures a [Supervisor].
type Config struct {
	Runner       Runner
	Port         int           // local port being exposed
	RestartDelay time.Duration // default 5s
	IgnoreHosts  []string      // default DefaultIgnoreHosts
	Out          io.Writer     // where "Tunnel URL:" is printed, default os.Stdout

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Supervisor keeps a tunnel client running for the life of the server.
// Runs that fail before reporting a URL feed a circuit breaker, which
// stretches the restart delay when the service keeps refusing us.
type Supervisor struct {
	cfg     Config
	breaker *retry.CircuitBreaker

	mu     sync.Mutex
	url    string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor returns a stopped supervisor.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.IgnoreHosts == nil {
		cfg.IgnoreHosts = DefaultIgnoreHosts
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	bcfg := retry.DefaultBreakerConfig()
	bcfg.MaxFailures = 3
	bcfg.ResetTimeout = time.Minute
	bcfg.HalfOpenMax = 1
	return &Supervisor{cfg: cfg, breaker: retry.NewCircuitBreaker(bcfg)}
}

// Start launches the supervision loop.  It returns immediately; calling
// it on a running supervisor does nothing.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop terminates the current client and waits for the loop to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop has exited.  It is nil before Start.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// URL returns the most recently reported public URL.
func (s *Supervisor) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	log := s.cfg.Logger

	for {
		if err := s.breaker.Allow(); err != nil {
			log.Warn("public tunnel: %v", err)
			if retry.Sleep(ctx, s.breaker.RetryIn()+time.Second) != nil {
				return
			}
			continue
		}

		log.Info("Starting tunnel for localhost:%d (%s)", s.cfg.Port, s.cfg.Runner)
		// Lines may arrive from several goroutines.
		var reported atomic.Bool
		err := s.cfg.Runner.Run(ctx, s.cfg.Port, func(line string) {
			log.Verbose("tunnel: %s", line)
			if reported.Load() {
				return
			}
			if u := ScrapeURL(line, s.cfg.IgnoreHosts); u != "" && reported.CompareAndSwap(false, true) {
				s.publish(u)
			}
		})
		found := reported.Load()
		if ctx.Err() != nil {
			return
		}

		switch {
		case err != nil && !found:
			log.Warn("public tunnel failed: %v", err)
			s.breaker.Record(err)
		case !found:
			log.Warn("public tunnel: no URL found in the client output")
			s.breaker.Record(errNoURL)
		default:
			s.breaker.Record(nil)
		}
		s.cfg.Metrics.TunnelRestart()

		log.Info("Tunnel closed. Restarting in %v...", s.cfg.RestartDelay)
		if retry.Sleep(ctx, s.cfg.RestartDelay) != nil {
			return
		}
	}
}

// publish records and prints a newly reported URL.
func (s *Supervisor) publish(u string) {
	s.mu.Lock()
	s.url = u
	s.mu.Unlock()
	s.cfg.Metrics.SetPublicURL(u)
	fmt.Fprintf(s.cfg.Out, "\nTunnel URL: %s\n\n", u)
}
