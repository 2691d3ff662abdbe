package expose

import (
	"context"
	"time"

	lkerr "luka/internal/errors"
	"luka/internal/metrics"
	"luka/tunnel"
	"luka/util"
)

// NativeRunner is the in-process equivalent of CommandRunner: it opens
// the reverse tunnel with the built-in SSH client instead of spawning
// ssh.  Gateway output, including the URL line, reaches onLine the same
// way.
type NativeRunner struct {
	SSH        tunnel.SSHConfig
	RemotePort int    // port requested on the gateway, 80 for localhost.run
	LocalHost  string // default "127.0.0.1"
	KeepAlive  time.Duration

	Logger  *util.Logger
	Metrics *metrics.Collector
}

func (r *NativeRunner) String() string { return "native ssh " + r.SSH.String() }

// Run holds one tunnel open until the gateway drops it or ctx ends.
func (r *NativeRunner) Run(ctx context.Context, port int, onLine func(string)) error {
	sshCfg := r.SSH
	rt := tunnel.NewReverseTunnel(&tunnel.ReverseTunnelConfig{
		SSHConfig:         &sshCfg,
		RemotePort:        r.RemotePort,
		LocalAddress:      r.LocalHost,
		LocalPort:         port,
		KeepAliveInterval: r.KeepAlive,
		OnOutput:          onLine,
	}, r.Logger, r.Metrics)

	if err := rt.Start(ctx); err != nil {
		return err
	}
	defer rt.Close()

	<-rt.Done()
	if ctx.Err() != nil {
		return nil
	}
	return lkerr.ErrTunnelClosed
}
