// Package config defines the runtime configuration for luka and the
// parsers for endpoints, CIDR lists and SSH jump-host specs.
package config

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
	"time"

	lkerr "luka/internal/errors"
)

// Config holds every tuneable for a single luka run.
type Config struct {
	// ── Endpoints ────────────────────────────────────────────────────
	SourceSpec string   // raw <src> argument
	DestSpec   string   // raw [dst] argument
	Source     Endpoint // resolved by Validate
	Dest       Endpoint // resolved by Validate

	// ── Admission ────────────────────────────────────────────────────
	Allow        []string
	Deny         []string
	AllowNets    []netip.Prefix // parsed by Validate
	DenyNets     []netip.Prefix // parsed by Validate
	Secret       string
	SecretPrompt bool
	AuthTimeout  time.Duration

	// ── Relay ────────────────────────────────────────────────────────
	LimitKBps      int // 0 = unlimited
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
	DrainTimeout   time.Duration
	GracePeriod    time.Duration
	SkipProbe      bool

	// ── Public exposure ──────────────────────────────────────────────
	Public        bool
	PublicNative  bool
	PublicCommand string
	RestartDelay  time.Duration

	// ── SSH (jump host and native public tunnel) ─────────────────────
	ViaSpec           string // raw [user@]host[:port] from -T
	ViaUser           string
	ViaHost           string
	ViaPort           int
	SSHKeyPath        string
	SSHPassword       bool
	UseSSHAgent       bool
	StrictHostKey     bool
	KnownHostsPath    string
	KeepAliveInterval int // seconds

	// ── Output ───────────────────────────────────────────────────────
	MetricsAddr string
	ConfigFile  string
	Verbose     int
	DryRun      bool
}

// ViaEnabled reports whether the source is dialed through a jump host.
func (c *Config) ViaEnabled() bool { return c.ViaSpec != "" || c.ViaHost != "" }

// PublicEnabled reports whether any public exposure mode is on.
func (c *Config) PublicEnabled() bool { return c.Public || c.PublicNative }

// ── Jump-host spec parser ────────────────────────────────────────────

// viaRe matches [user@]host[:port].
var viaRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := viaRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks the configuration for consistency and fills in the
// derived fields (Source, Dest, AllowNets, DenyNets, Via*).  Errors are
// *ConfigError or *AddressError values and are fatal.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SourceSpec) == "" {
		return &lkerr.ConfigError{
			Field:   "src",
			Message: "source address is required",
			Hint:    "usage: luka [options] <src> [dst], e.g. luka 8080 or luka db.internal:5432 0.0.0.0:15432",
		}
	}

	src, err := ParseEndpoint(c.SourceSpec, DefaultSourceHost)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	c.Source = src

	destSpec := c.DestSpec
	if strings.TrimSpace(destSpec) == "" {
		destSpec = FormatDefaultDest()
	}
	dst, err := ParseEndpoint(destSpec, DefaultDestHost)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	c.Dest = dst

	if c.AllowNets, err = ParsePrefixes("allow", c.Allow); err != nil {
		return err
	}
	if c.DenyNets, err = ParsePrefixes("deny", c.Deny); err != nil {
		return err
	}

	if c.LimitKBps < 0 {
		return &lkerr.ConfigError{Field: "limit", Value: c.LimitKBps, Message: "must be >= 0", Hint: "0 disables the bandwidth cap"}
	}
	for _, d := range []struct {
		field string
		val   time.Duration
	}{
		{"timeout", c.ConnectTimeout},
		{"auth-timeout", c.AuthTimeout},
		{"drain-timeout", c.DrainTimeout},
	} {
		if d.val <= 0 {
			return &lkerr.ConfigError{Field: d.field, Value: d.val, Message: "must be positive"}
		}
	}

	if c.Public && c.PublicNative {
		return &lkerr.ConfigError{
			Field:   "public-native",
			Message: "--public and --public-native are mutually exclusive",
			Hint:    "--public runs the ssh binary; --public-native uses the built-in client",
		}
	}
	if c.Public && !strings.Contains(c.PublicCommand, "{port}") {
		return &lkerr.ConfigError{
			Field:   "public-cmd",
			Value:   c.PublicCommand,
			Message: "command has no {port} placeholder",
			Hint:    "e.g. --public-cmd 'ssh -R 80:localhost:{port} ssh.localhost.run'",
		}
	}

	if c.ViaSpec != "" {
		user, host, port, err := ParseTunnelSpec(c.ViaSpec)
		if err != nil {
			return &lkerr.ConfigError{Field: "via", Value: c.ViaSpec, Message: err.Error()}
		}
		c.ViaUser, c.ViaHost, c.ViaPort = user, host, port
	}
	if c.ViaEnabled() && c.ViaUser == "" {
		return &lkerr.ConfigError{
			Field:   "via",
			Value:   c.ViaSpec,
			Message: "SSH user is required",
			Hint:    "use -T user@host[:port]",
		}
	}

	if c.Secret != "" && len(c.Secret) > DefaultMaxSecretLen {
		return &lkerr.ConfigError{Field: "secret", Message: fmt.Sprintf("longer than %d bytes", DefaultMaxSecretLen)}
	}
	return nil
}
