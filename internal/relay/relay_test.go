package relay

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	lkerr "luka/internal/errors"
	"luka/internal/gate"
	"luka/internal/metrics"
	"luka/internal/transport"
)

// ── helpers ──────────────────────────────────────────────────────────

// serveSource runs handle for every connection on a loopback listener
// and returns its address.
func serveSource(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				handle(c)
			}()
		}
	}()
	return ln.Addr().String()
}

func echo(c net.Conn) { io.Copy(c, c) } //nolint:errcheck

// countingDialer records how many times the source was dialed.
type countingDialer struct {
	transport.TCPDialer
	dials atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context, network, addr string) (net.Conn, error) {
	d.dials.Add(1)
	return d.TCPDialer.Dial(ctx, network, addr)
}

// startSession accepts one client for fwd and returns the client end
// plus a channel carrying Serve's result.
func startSession(t *testing.T, fwd *Forwarder) (*net.TCPConn, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	result := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			result <- err
			return
		}
		result <- fwd.Serve(context.Background(), c)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn.(*net.TCPConn), result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

// ── scenarios ────────────────────────────────────────────────────────

func TestServe_Echo(t *testing.T) {
	src := serveSource(t, echo)
	m := metrics.New()
	fwd := New(Config{Source: src, Metrics: m})

	conn, result := startSession(t, fwd)
	conn.Write([]byte("ping")) //nolint:errcheck
	conn.CloseWrite()

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "ping" {
		t.Errorf("got %q, want %q", got, "ping")
	}
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	s := m.Snapshot()
	if s.BytesUp != 4 || s.BytesDown != 4 {
		t.Errorf("bytes up/down = %d/%d, want 4/4", s.BytesUp, s.BytesDown)
	}
	if s.SessionsTotal != 1 || s.SessionsActive != 0 {
		t.Errorf("sessions total/active = %d/%d", s.SessionsTotal, s.SessionsActive)
	}
}

func TestServe_ByteIdentity(t *testing.T) {
	// The source hashes everything it receives and answers with the
	// digest once the client half-closes.
	src := serveSource(t, func(c net.Conn) {
		h := sha256.New()
		io.Copy(h, c) //nolint:errcheck
		io.WriteString(c, hex.EncodeToString(h.Sum(nil))) //nolint:errcheck
	})
	fwd := New(Config{Source: src})

	payload := make([]byte, 1<<20+123)
	rand.Read(payload) //nolint:errcheck
	want := sha256.Sum256(payload)

	conn, result := startSession(t, fwd)
	go func() {
		conn.Write(payload) //nolint:errcheck
		conn.CloseWrite()
	}()

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != hex.EncodeToString(want[:]) {
		t.Errorf("digest mismatch: source saw different bytes")
	}
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServe_SourceToClientBulk(t *testing.T) {
	payload := make([]byte, 256*1024)
	rand.Read(payload) //nolint:errcheck
	src := serveSource(t, func(c net.Conn) { c.Write(payload) }) //nolint:errcheck

	fwd := New(Config{Source: src})
	conn, result := startSession(t, fwd)

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("received %d bytes, not identical to the %d sent", len(got), len(payload))
	}
	conn.Close()
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServe_HalfCloseKeepsOtherDirection(t *testing.T) {
	// The source waits for EOF before it starts answering.
	src := serveSource(t, func(c net.Conn) {
		io.Copy(io.Discard, c) //nolint:errcheck
		time.Sleep(100 * time.Millisecond)
		io.WriteString(c, "late answer") //nolint:errcheck
	})
	fwd := New(Config{Source: src})

	conn, result := startSession(t, fwd)
	conn.Write([]byte("question")) //nolint:errcheck
	conn.CloseWrite()

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "late answer" {
		t.Errorf("got %q", got)
	}
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServe_DrainIdleTimeout(t *testing.T) {
	// The source sends and closes; the client never closes its side.
	src := serveSource(t, func(c net.Conn) { io.WriteString(c, "bye") }) //nolint:errcheck
	fwd := New(Config{Source: src, DrainTimeout: 200 * time.Millisecond})

	conn, result := startSession(t, fwd)
	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "bye" {
		t.Errorf("got %q", got)
	}

	start := time.Now()
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("session outlived the drain timeout by far")
	}
}

func TestServe_DeniedPeer(t *testing.T) {
	d := &countingDialer{}
	src := serveSource(t, echo)
	m := metrics.New()
	fwd := New(Config{
		Source:  src,
		Dialer:  d,
		Gate:    gate.NewIPFilter(nil, []netip.Prefix{netip.MustParsePrefix("127.0.0.0/8")}),
		Metrics: m,
	})

	conn, result := startSession(t, fwd)
	got, _ := io.ReadAll(conn)
	if len(got) != 0 {
		t.Errorf("denied peer received %q", got)
	}

	err := waitResult(t, result)
	if !lkerr.Is(err, lkerr.ErrAdmissionDenied) {
		t.Fatalf("err = %v, want ErrAdmissionDenied", err)
	}
	if d.dials.Load() != 0 {
		t.Error("source was dialed for a denied peer")
	}
	if m.RejectedTotal() != 1 {
		t.Errorf("RejectedTotal = %d, want 1", m.RejectedTotal())
	}
}

func TestServe_TenSlashEightDenyAdmitsLoopback(t *testing.T) {
	src := serveSource(t, echo)
	fwd := New(Config{
		Source: src,
		Gate:   gate.NewIPFilter(nil, []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}),
	})

	conn, result := startSession(t, fwd)
	conn.Write([]byte("ok")) //nolint:errcheck
	conn.CloseWrite()
	got, _ := io.ReadAll(conn)
	if string(got) != "ok" {
		t.Errorf("got %q", got)
	}
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServe_WrongSecret(t *testing.T) {
	d := &countingDialer{}
	src := serveSource(t, echo)
	fwd := New(Config{
		Source: src,
		Dialer: d,
		Gate:   gate.NewSecret("s3cret", 2*time.Second, 1024),
	})

	conn, result := startSession(t, fwd)
	conn.Write([]byte("abc\n")) //nolint:errcheck

	got, _ := io.ReadAll(conn)
	if want := gate.PasswordPrompt + gate.AuthFailed; string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if err := waitResult(t, result); !lkerr.Is(err, lkerr.ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
	if d.dials.Load() != 0 {
		t.Error("source was dialed after a failed challenge")
	}
}

func TestServe_RightSecretThenRelay(t *testing.T) {
	src := serveSource(t, echo)
	fwd := New(Config{
		Source: src,
		Gate:   gate.NewSecret("s3cret", 2*time.Second, 1024),
	})

	conn, result := startSession(t, fwd)
	conn.Write([]byte("s3cret\r\nhello")) //nolint:errcheck
	conn.CloseWrite()

	got, _ := io.ReadAll(conn)
	if want := gate.PasswordPrompt + gate.AuthOK + "hello"; string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Serve: %v", err)
	}
}

func TestServe_SourceUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	src := ln.Addr().String()
	ln.Close()

	m := metrics.New()
	fwd := New(Config{Source: src, ConnectTimeout: time.Second, Metrics: m})

	conn, result := startSession(t, fwd)
	got, _ := io.ReadAll(conn)
	if len(got) != 0 {
		t.Errorf("got %q from an unreachable source", got)
	}
	if err := waitResult(t, result); !lkerr.Is(err, lkerr.ErrSourceUnreachable) {
		t.Fatalf("err = %v, want ErrSourceUnreachable", err)
	}
	if m.DialFailures() != 1 {
		t.Errorf("DialFailures = %d, want 1", m.DialFailures())
	}
}

func TestServe_BandwidthLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	src := serveSource(t, func(c net.Conn) { io.Copy(io.Discard, c) }) //nolint:errcheck
	fwd := New(Config{Source: src, LimitKBps: 8})

	conn, result := startSession(t, fwd)
	payload := make([]byte, 16*1024)

	start := time.Now()
	conn.Write(payload) //nolint:errcheck
	conn.CloseWrite()
	io.ReadAll(conn) //nolint:errcheck
	if err := waitResult(t, result); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	// One chunk of burst, then 12 KiB at 8 KiB/s.
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("16 KiB at 8 KB/s took %v, want at least 1s", elapsed)
	}
}

func TestNew_Defaults(t *testing.T) {
	f := New(Config{Source: "127.0.0.1:1"})
	if f.cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v", f.cfg.ConnectTimeout)
	}
	if f.cfg.DrainTimeout != 30*time.Second {
		t.Errorf("DrainTimeout = %v", f.cfg.DrainTimeout)
	}
	if _, ok := f.cfg.Dialer.(*transport.TCPDialer); !ok {
		t.Errorf("Dialer = %T, want *TCPDialer", f.cfg.Dialer)
	}
	if f.newLimiter() != nil {
		t.Error("no limit configured, limiter should be nil")
	}
}
