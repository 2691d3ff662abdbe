package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestRegister_Values(t *testing.T) {
	c := New()
	c.SessionOpened()
	c.Rejected()

	reg := prometheus.NewRegistry()
	if err := Register(reg, c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	_, body := get(t, h, "/")
	for _, want := range []string{
		"luka_rejected_total 1",
		"luka_sessions_active 1",
		"# TYPE luka_sessions_total counter",
		"luka_ready 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}

	// Values are read at scrape time.
	c.AddUp(5)
	if _, body = get(t, h, "/"); !strings.Contains(body, "luka_bytes_up_total 5") {
		t.Error("bytes_up not updated on second scrape")
	}
}

func TestRegister_Duplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	if err := Register(reg, c); err != nil {
		t.Fatal(err)
	}
	if err := Register(reg, c); err == nil {
		t.Error("second registration on the same registry should fail")
	}
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	body, _ := io.ReadAll(rec.Result().Body)
	return rec.Code, string(body)
}

func TestHandler_Endpoints(t *testing.T) {
	c := New()
	c.AddDown(77)
	h, err := Handler(c)
	if err != nil {
		t.Fatal(err)
	}

	if code, body := get(t, h, "/healthz"); code != http.StatusOK || body != "ok" {
		t.Errorf("/healthz = %d %q", code, body)
	}
	if code, _ := get(t, h, "/readyz"); code != http.StatusServiceUnavailable {
		t.Errorf("/readyz before ready = %d", code)
	}
	c.SetReady(true)
	if code, _ := get(t, h, "/readyz"); code != http.StatusOK {
		t.Errorf("/readyz after ready = %d", code)
	}
	if code, body := get(t, h, "/stats"); code != http.StatusOK || !strings.Contains(body, `"bytes_down": 77`) {
		t.Errorf("/stats = %d %s", code, body)
	}
	if code, body := get(t, h, "/metrics"); code != http.StatusOK || !strings.Contains(body, "luka_bytes_down_total 77") {
		t.Errorf("/metrics = %d, missing luka_bytes_down_total", code)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, "127.0.0.1:0", New(), nil, func(a net.Addr) { addrCh <- a })
	}()

	addr := <-addrCh
	resp, err := http.Get("http://" + addr.String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
