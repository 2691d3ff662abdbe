package core

import (
	"time"

	"luka/config"
	"luka/internal/expose"
	"luka/internal/gate"
	"luka/internal/metrics"
	"luka/internal/relay"
	"luka/internal/transport"
	"luka/tunnel"
	"luka/util"
)

// Build assembles a ForwardMode from a validated configuration.  It is
// the single place where configuration turns into components.
func Build(cfg *config.Config, logger *util.Logger, m *metrics.Collector) (Mode, error) {
	dialer := buildDialer(cfg, logger)

	fwd := relay.New(relay.Config{
		Source:         cfg.Source.String(),
		Dialer:         dialer,
		Gate:           buildGate(cfg),
		LimitKBps:      cfg.LimitKBps,
		ConnectTimeout: cfg.ConnectTimeout,
		DrainTimeout:   cfg.DrainTimeout,
		Logger:         logger,
		Metrics:        m,
	})

	srv := NewServer(ServerConfig{
		Host:       cfg.Dest.Host,
		StartPort:  int(cfg.Dest.Port),
		AcceptPoll: config.DefaultAcceptPoll,
	}, fwd, logger, m)

	return &ForwardMode{
		Server:        srv,
		Dialer:        dialer,
		Source:        cfg.Source.String(),
		ProbeTimeout:  cfg.ProbeTimeout,
		SkipProbe:     cfg.SkipProbe,
		GracePeriod:   cfg.GracePeriod,
		NewSupervisor: buildSupervisor(cfg, logger, m),
		MetricsAddr:   cfg.MetricsAddr,
		Metrics:       m,
		Logger:        logger,
	}, nil
}

// ── component builders ───────────────────────────────────────────────

// buildGate chains the IP filter and the password challenge, in that
// order, leaving out whichever is not configured.
func buildGate(cfg *config.Config) gate.Gate {
	var filter *gate.IPFilter
	if len(cfg.AllowNets) > 0 || len(cfg.DenyNets) > 0 {
		filter = gate.NewIPFilter(cfg.AllowNets, cfg.DenyNets)
	}
	var secret *gate.Secret
	if cfg.Secret != "" {
		secret = gate.NewSecret(cfg.Secret, cfg.AuthTimeout, config.DefaultMaxSecretLen)
	}
	return gate.Build(filter, secret)
}

// buildDialer reaches the source directly or through the -T jump host.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.ViaEnabled() {
		return transport.NewSSHDialer(&tunnel.SSHConfig{
			User:          cfg.ViaUser,
			Host:          cfg.ViaHost,
			Port:          cfg.ViaPort,
			KeyPath:       cfg.SSHKeyPath,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultSSHConnTimeout,
		}, logger)
	}
	return &transport.TCPDialer{Timeout: cfg.ConnectTimeout}
}

// buildSupervisor returns the factory for the public tunnel, or nil
// when public exposure is off.
func buildSupervisor(cfg *config.Config, logger *util.Logger, m *metrics.Collector) func(int) *expose.Supervisor {
	var runner expose.Runner
	switch {
	case cfg.Public:
		runner = &expose.CommandRunner{Command: cfg.PublicCommand}
	case cfg.PublicNative:
		runner = &expose.NativeRunner{
			SSH: tunnel.SSHConfig{
				User:                     config.DefaultPublicUser,
				Host:                     config.DefaultPublicHost,
				Port:                     config.DefaultSSHPort,
				KeyPath:                  cfg.SSHKeyPath,
				UseAgent:                 cfg.UseSSHAgent,
				StrictHostKey:            cfg.StrictHostKey,
				KnownHosts:               cfg.KnownHostsPath,
				ConnTimeout:              config.DefaultSSHConnTimeout,
				AllowKeyboardInteractive: true,
			},
			RemotePort: config.DefaultPublicRemotePort,
			LocalHost:  localTarget(cfg.Dest.Host),
			KeepAlive:  time.Duration(cfg.KeepAliveInterval) * time.Second,
			Logger:     logger,
			Metrics:    m,
		}
	default:
		return nil
	}

	return func(port int) *expose.Supervisor {
		return expose.NewSupervisor(expose.Config{
			Runner:       runner,
			Port:         port,
			RestartDelay: cfg.RestartDelay,
			Logger:       logger,
			Metrics:      m,
		})
	}
}

// localTarget is the address the public tunnel connects back to.
// Wildcard binds are reached over loopback.
func localTarget(bindHost string) string {
	switch bindHost {
	case "", "0.0.0.0", "::", "localhost":
		return "127.0.0.1"
	}
	return bindHost
}
