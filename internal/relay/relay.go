// Package relay runs forwarding sessions: admit the client, dial the
// source, then copy bytes both ways until each direction has finished.
package relay

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	lkerr "luka/internal/errors"
	"luka/internal/gate"
	"luka/internal/metrics"
	"luka/internal/session"
	"luka/internal/transport"
	"luka/util"
)

// Config describes how sessions reach the source and how they are
// shaped.  Gate, Logger and Metrics may be nil.
type Config struct {
	Source         string // host:port of the forwarded service
	Dialer         transport.Dialer
	Gate           gate.Gate
	LimitKBps      int           // per direction, 0 = unlimited
	ConnectTimeout time.Duration // default 10s
	DrainTimeout   time.Duration // idle bound once one direction ends, default 30s

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// Forwarder serves accepted client connections.  It holds no
// per-session state and is safe for concurrent use.
type Forwarder struct {
	cfg Config
}

// New returns a Forwarder for cfg.
func New(cfg Config) *Forwarder {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &transport.TCPDialer{Timeout: cfg.ConnectTimeout}
	}
	return &Forwarder{cfg: cfg}
}

// Serve runs one session to completion and closes client.  The
// returned error is informational: it has already been logged and
// counted, and it never concerns anything beyond this session.
//
// Serve detaches from ctx cancellation so a server shutdown does not cut
// sessions short; only ctx values are inherited.
func (f *Forwarder) Serve(ctx context.Context, client net.Conn) error {
	ctx = context.WithoutCancel(ctx)
	m := f.cfg.Metrics

	s := session.New(client, f.cfg.Logger)
	m.SessionOpened()
	defer m.SessionClosed()
	s.Logger.Verbose("connection from %s", s.ClientAddr())

	if err := gate.Check(ctx, f.cfg.Gate, client, s.Logger); err != nil {
		m.Rejected()
		s.SetState(session.Failed)
		return fmt.Errorf("session %s: %w", s.ShortID(), err)
	}

	s.SetState(session.Connecting)
	dctx, cancel := context.WithTimeout(ctx, f.cfg.ConnectTimeout)
	source, err := f.cfg.Dialer.Dial(dctx, "tcp", f.cfg.Source)
	cancel()
	if err != nil {
		client.Close()
		m.DialFailed()
		s.SetState(session.Failed)
		s.Logger.Verbose("source %s unreachable: %v", f.cfg.Source, err)
		return lkerr.Session(s.ShortID(), lkerr.ErrSourceUnreachable, err)
	}
	s.Source = source
	defer client.Close()
	defer source.Close()

	s.SetState(session.Relaying)
	s.Logger.Debug("relaying %s <-> %s", s.ClientAddr(), f.cfg.Source)

	err = f.relay(ctx, s)
	if err != nil {
		m.RelayError()
		s.SetState(session.Failed)
		s.Logger.Verbose("relay error after %v: %v", s.Duration().Truncate(time.Millisecond), err)
		return lkerr.Session(s.ShortID(), lkerr.ErrRelayIO, err)
	}
	s.SetState(session.Closed)
	s.Logger.Verbose("closed after %v (up=%d down=%d)",
		s.Duration().Truncate(time.Millisecond), s.BytesUp(), s.BytesDown())
	return nil
}

// direction is one copy loop's view of the session.
type direction struct {
	name     string
	src, dst net.Conn
	limiter  *rate.Limiter
	count    func(n int)
}

// relay starts both copy loops and waits for both.  The first error
// that is not part of an orderly close is returned.
func (f *Forwarder) relay(ctx context.Context, s *session.Session) error {
	m := f.cfg.Metrics
	up := direction{
		name:    "client->source",
		src:     s.Client,
		dst:     s.Source,
		limiter: f.newLimiter(),
		count:   func(n int) { s.AddUp(n); m.AddUp(int64(n)) },
	}
	down := direction{
		name:    "source->client",
		src:     s.Source,
		dst:     s.Client,
		limiter: f.newLimiter(),
		count:   func(n int) { s.AddDown(n); m.AddDown(int64(n)) },
	}

	var stopping atomic.Bool
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	for i, d := range []direction{up, down} {
		go func(i int, d direction) {
			defer wg.Done()
			errs[i] = f.pipe(ctx, d, &stopping, s.Logger)
		}(i, d)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *Forwarder) newLimiter() *rate.Limiter {
	if f.cfg.LimitKBps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(f.cfg.LimitKBps*1024), util.ChunkSize)
}

// pipe copies d.src to d.dst a chunk at a time.  When it ends it raises
// stopping and half-closes: no more reads from src, EOF to dst.  The
// opposite loop then drains with an idle deadline on every read.
func (f *Forwarder) pipe(ctx context.Context, d direction, stopping *atomic.Bool, logger *util.Logger) error {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	var err error
	for {
		if stopping.Load() {
			d.src.SetReadDeadline(time.Now().Add(f.cfg.DrainTimeout)) //nolint:errcheck
		}
		n, rerr := d.src.Read(*buf)
		if n > 0 {
			if _, werr := d.dst.Write((*buf)[:n]); werr != nil {
				err = werr
				break
			}
			d.count(n)
			if d.limiter != nil {
				if werr := d.limiter.WaitN(ctx, n); werr != nil {
					err = werr
					break
				}
			}
		}
		if rerr != nil {
			err = rerr
			break
		}
	}

	stopping.Store(true)
	util.CloseRead(d.src)  //nolint:errcheck
	util.CloseWrite(d.dst) //nolint:errcheck
	// dst is the other loop's src; bound its pending read too.
	d.dst.SetReadDeadline(time.Now().Add(f.cfg.DrainTimeout)) //nolint:errcheck

	switch {
	case util.IsHarmless(err):
		logger.Debug("%s: done", d.name)
		return nil
	case lkerr.IsTimeout(err):
		logger.Debug("%s: drain idle timeout", d.name)
		return nil
	default:
		logger.Debug("%s: %v", d.name, err)
		return fmt.Errorf("%s: %w", d.name, err)
	}
}
