package expose

import (
	"context"
	"strings"
	"testing"
	"time"

	lkerr "luka/internal/errors"
	"luka/internal/metrics"
	"luka/internal/sshtest"
	"luka/tunnel"
)

func nativeRunner(gw *sshtest.Gateway, m *metrics.Collector) *NativeRunner {
	return &NativeRunner{
		SSH: tunnel.SSHConfig{
			User:                     "nokey",
			Host:                     "127.0.0.1",
			Port:                     gw.Port(),
			ConnTimeout:              5 * time.Second,
			AllowKeyboardInteractive: true,
		},
		RemotePort: 80,
		Metrics:    m,
	}
}

func TestNativeRunner_ReportsURL(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	gw := sshtest.NewGateway(t)
	echo := sshtest.StartEcho(t)

	out := &lockedBuffer{}
	m := metrics.New()
	s := NewSupervisor(Config{Runner: nativeRunner(gw, m), Port: echo.Port, Out: out, Metrics: m})

	s.Start(context.Background())
	defer s.Stop()
	waitFor(t, "URL", func() bool { return s.URL() != "" })

	if s.URL() != "https://abc123.lhr.life" {
		t.Errorf("URL = %q", s.URL())
	}
	if !strings.Contains(out.String(), "Tunnel URL: https://abc123.lhr.life") {
		t.Errorf("output = %q", out.String())
	}
}

func TestNativeRunner_ReturnsWhenGatewayDrops(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	gw := sshtest.NewGateway(t)
	echo := sshtest.StartEcho(t)
	r := nativeRunner(gw, nil)

	result := make(chan error, 1)
	go func() { result <- r.Run(context.Background(), echo.Port, func(string) {}) }()

	select {
	case <-gw.Forwards:
	case <-time.After(5 * time.Second):
		t.Fatal("runner never requested a forward")
	}
	gw.DropConns()

	select {
	case err := <-result:
		if !lkerr.Is(err, lkerr.ErrTunnelClosed) {
			t.Errorf("err = %v, want ErrTunnelClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the gateway dropped")
	}
}

func TestNativeRunner_CancelReturnsNil(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	gw := sshtest.NewGateway(t)
	r := nativeRunner(gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- r.Run(ctx, 1, func(string) {}) }()

	select {
	case <-gw.Forwards:
	case <-time.After(5 * time.Second):
		t.Fatal("runner never requested a forward")
	}
	cancel()

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("err = %v, want nil after cancellation", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
