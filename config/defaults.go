package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultSourceHost is used when the source is given as a bare port.
	DefaultSourceHost = "localhost"

	// DefaultDestHost is used when the destination is a bare port.
	DefaultDestHost = "0.0.0.0"

	// DefaultDestPort is the first port tried when no destination is given.
	DefaultDestPort = 10130

	// DefaultConnTimeout bounds each dial to the source.
	DefaultConnTimeout = 10 * time.Second

	// DefaultProbeTimeout bounds the one-off source check at startup.
	DefaultProbeTimeout = 3 * time.Second

	// DefaultAuthTimeout bounds the password challenge read.
	DefaultAuthTimeout = 10 * time.Second

	// DefaultMaxSecretLen is the largest challenge response read.
	DefaultMaxSecretLen = 1024

	// DefaultDrainTimeout bounds each read of the surviving direction
	// after the other one has finished.
	DefaultDrainTimeout = 30 * time.Second

	// DefaultAcceptPoll is how often the accept loop checks for shutdown.
	DefaultAcceptPoll = time.Second

	// DefaultGracePeriod is how long shutdown waits for open sessions.
	DefaultGracePeriod = 5 * time.Second

	// DefaultRestartDelay is the pause before relaunching the public
	// tunnel client after it exits.
	DefaultRestartDelay = 5 * time.Second

	// DefaultPublicCommand exposes the local port through localhost.run.
	// "{port}" is replaced with the bound port.
	DefaultPublicCommand = "ssh -R 80:localhost:{port} ssh.localhost.run"

	// DefaultPublicHost, DefaultPublicUser and DefaultPublicRemotePort
	// drive the in-process client used with --public-native.
	DefaultPublicHost       = "ssh.localhost.run"
	DefaultPublicUser       = "nokey"
	DefaultPublicRemotePort = 80

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAliveInterval is the SSH keepalive interval in seconds.
	DefaultKeepAliveInterval = 30

	// DefaultSSHConnTimeout is the SSH handshake timeout.
	DefaultSSHConnTimeout = 30 * time.Second
)

// Defaults returns a Config populated with every default above.
func Defaults() *Config {
	return &Config{
		DestSpec:          FormatDefaultDest(),
		ConnectTimeout:    DefaultConnTimeout,
		ProbeTimeout:      DefaultProbeTimeout,
		AuthTimeout:       DefaultAuthTimeout,
		DrainTimeout:      DefaultDrainTimeout,
		GracePeriod:       DefaultGracePeriod,
		RestartDelay:      DefaultRestartDelay,
		PublicCommand:     DefaultPublicCommand,
		KeepAliveInterval: DefaultKeepAliveInterval,
		Verbose:           1,
	}
}

// FormatDefaultDest returns the destination used when none is given.
func FormatDefaultDest() string {
	return Endpoint{Host: DefaultDestHost, Port: DefaultDestPort}.String()
}
