package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lkerr "luka/internal/errors"
	"luka/internal/metrics"
	"luka/util"
)

// State is the server lifecycle phase.
type State int32

const (
	Starting State = iota
	PortBinding
	Listening
	Accepting
	ShuttingDown
	Stopped
)

var stateNames = [...]string{"starting", "port-binding", "listening", "accepting", "shutting-down", "stopped"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Handler serves one accepted connection.  [relay.Forwarder] is the
// production implementation.
type Handler interface {
	Serve(ctx context.Context, conn net.Conn) error
}

// ServerConfig configures a [Server].
type ServerConfig struct {
	Host       string // bind host
	StartPort  int    // first port tried
	AcceptPoll time.Duration
	Out        io.Writer // URL banner, default os.Stdout
}

// Server binds the first free port at or above StartPort and hands each
// accepted connection to its own goroutine.  The accept loop never
// waits on sessions.
type Server struct {
	cfg     ServerConfig
	handler Handler
	logger  *util.Logger
	metrics *metrics.Collector

	state    atomic.Int32
	ln       net.Listener
	port     int
	sessions sync.WaitGroup
	open     atomic.Int64
}

// NewServer returns a server in the Starting state.
func NewServer(cfg ServerConfig, h Handler, logger *util.Logger, m *metrics.Collector) *Server {
	if cfg.AcceptPoll <= 0 {
		cfg.AcceptPoll = time.Second
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &Server{cfg: cfg, handler: h, logger: logger, metrics: m}
}

// State returns the current lifecycle phase.
func (s *Server) State() State { return State(s.state.Load()) }

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("server: %s", st)
}

// Port returns the bound port, or 0 before Bind.
func (s *Server) Port() int { return s.port }

// Addr returns the listener address, or nil before Bind.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// OpenSessions returns the number of sessions still running.
func (s *Server) OpenSessions() int64 { return s.open.Load() }

// URL is the address a user should connect to.
func (s *Server) URL() string {
	return "http://" + net.JoinHostPort(util.DisplayHost(s.cfg.Host), strconv.Itoa(s.port))
}

// Bind claims the first available port and keeps the listener.  An
// exhausted range is returned as ErrNoPortAvailable, a host that cannot
// be bound as ErrBindFailure.
func (s *Server) Bind() error {
	s.setState(PortBinding)
	ln, port, err := util.ListenAvailable(s.cfg.Host, s.cfg.StartPort, s.logger)
	if err != nil {
		s.setState(Stopped)
		if errors.Is(err, lkerr.ErrNoPortAvailable) || errors.Is(err, lkerr.ErrBindFailure) {
			return fmt.Errorf("bind %s: %w", s.cfg.Host, err)
		}
		return fmt.Errorf("%w: %v", lkerr.ErrBindFailure, err)
	}
	s.ln, s.port = ln, port
	s.setState(Listening)

	if s.cfg.StartPort != 0 && port != s.cfg.StartPort {
		s.logger.Info("port %d is busy, using %d", s.cfg.StartPort, port)
	}
	fmt.Fprintf(s.cfg.Out, "Accessible URL: %s\n", s.URL())
	return nil
}

// Serve accepts connections until ctx is cancelled, then closes the
// listener and returns.  Sessions keep running; see [Server.Wait].
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return fmt.Errorf("%w: Serve called before Bind", lkerr.ErrBindFailure)
	}
	defer s.ln.Close()

	type deadliner interface{ SetDeadline(time.Time) error }
	dl, canPoll := s.ln.(deadliner)

	s.setState(Accepting)
	s.logger.Verbose("accepting on %s", s.ln.Addr())

	for {
		if ctx.Err() != nil {
			break
		}
		if canPoll {
			dl.SetDeadline(time.Now().Add(s.cfg.AcceptPoll)) //nolint:errcheck
		}
		conn, err := s.ln.Accept()
		if err != nil {
			if lkerr.IsTimeout(err) {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			// Persistent failures such as EMFILE must not spin.
			s.logger.Warn("accept: %v", err)
			s.metrics.RecordError("accept: " + err.Error())
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.AcceptPoll):
			}
			continue
		}

		s.open.Add(1)
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			defer s.open.Add(-1)
			s.handler.Serve(ctx, conn) //nolint:errcheck
		}()
	}

	s.setState(ShuttingDown)
	s.logger.Verbose("stopped accepting on %s", s.ln.Addr())
	return nil
}

// Run binds and serves.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Bind(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Wait lets open sessions drain for up to grace and reports whether
// all of them finished.  The server is Stopped afterwards either way.
func (s *Server) Wait(grace time.Duration) bool {
	defer s.setState(Stopped)

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	if grace <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
