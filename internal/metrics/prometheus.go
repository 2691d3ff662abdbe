package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Register exposes c's counters on reg as luka_* series.  The values
// are read from the collector at scrape time, so the hot path stays a
// single atomic add.
func Register(reg prometheus.Registerer, c *Collector) error {
	counter := func(name, help string, fn func() int64) prometheus.Collector {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(fn()) },
		)
	}
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
	}

	cs := []prometheus.Collector{
		gauge("luka_sessions_active", "Sessions currently relaying or setting up",
			func() float64 { return float64(c.ActiveSessions()) }),
		gauge("luka_ready", "1 while the server is accepting connections",
			func() float64 {
				if c.Ready() {
					return 1
				}
				return 0
			}),
		counter("luka_sessions_total", "Connections accepted", c.TotalSessions),
		counter("luka_bytes_up_total", "Bytes relayed client to source", c.TotalBytesUp),
		counter("luka_bytes_down_total", "Bytes relayed source to client", c.TotalBytesDown),
		counter("luka_rejected_total", "Connections refused by the admission gate", c.RejectedTotal),
		counter("luka_dial_failures_total", "Sessions whose source could not be reached", c.DialFailures),
		counter("luka_relay_errors_total", "Copy loops ended by an I/O error", c.RelayErrors),
		counter("luka_tunnel_restarts_total", "Public tunnel client restarts", c.TunnelRestarts),
		counter("luka_errors_total", "Errors recorded", c.ErrorCount),
	}
	for _, pc := range cs {
		if err := reg.Register(pc); err != nil {
			return err
		}
	}
	return nil
}
