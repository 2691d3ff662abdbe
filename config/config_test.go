package config

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	lkerr "luka/internal/errors"
)

// ── ParseEndpoint ────────────────────────────────────────────────────

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		defaultHost string
		want        Endpoint
		wantErr     bool
	}{
		{"host and port", "example.com:8080", "", Endpoint{"example.com", 8080}, false},
		{"bare port", "8080", "localhost", Endpoint{"localhost", 8080}, false},
		{"bare port no default", "8080", "", Endpoint{}, true},
		{"empty host segment", ":9000", "0.0.0.0", Endpoint{"0.0.0.0", 9000}, false},
		{"port zero", "127.0.0.1:0", "", Endpoint{"127.0.0.1", 0}, false},
		{"max port", "127.0.0.1:65535", "", Endpoint{"127.0.0.1", 65535}, false},
		{"bracketed ipv6", "[::1]:80", "", Endpoint{"::1", 80}, false},
		{"last colon split", "fe80::1:443", "", Endpoint{"fe80::1", 443}, false},
		{"non-integer port", "host:abc", "", Endpoint{}, true},
		{"signed port", "host:+80", "", Endpoint{}, true},
		{"port too large", "host:65536", "", Endpoint{}, true},
		{"missing port", "host:", "", Endpoint{}, true},
		{"empty", "", "localhost", Endpoint{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpoint(tt.input, tt.defaultHost)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEndpoint(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, lkerr.ErrInvalidAddress) {
					t.Errorf("error %v should match ErrInvalidAddress", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseEndpoint_RoundTrip(t *testing.T) {
	inputs := []string{
		"localhost:80",
		"0.0.0.0:10130",
		"db.internal:5432",
		"127.0.0.1:0",
		"10.1.2.3:65535",
		"[::1]:8080",
		"[2001:db8::7]:443",
	}
	for _, s := range inputs {
		t.Run(s, func(t *testing.T) {
			ep, err := ParseEndpoint(s, "")
			if err != nil {
				t.Fatal(err)
			}
			if got := ep.String(); got != s {
				t.Errorf("String() = %q, want %q", got, s)
			}
			again, err := ParseEndpoint(ep.String(), "")
			if err != nil || again != ep {
				t.Errorf("reparse = %+v, %v; want %+v", again, err, ep)
			}
		})
	}
}

// ── ParsePrefix ──────────────────────────────────────────────────────

func TestParsePrefix(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"10.0.0.0/8", "10.0.0.0/8", false},
		{"10.1.2.3/8", "10.0.0.0/8", false},
		{"192.168.1.5", "192.168.1.5/32", false},
		{"::1", "::1/128", false},
		{"fd00::/8", "fd00::/8", false},
		{"::ffff:10.0.0.1", "10.0.0.1/32", false},
		{"::ffff:10.0.0.0/104", "10.0.0.0/8", false},
		{"10.0.0.0/33", "", true},
		{"not-an-ip", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParsePrefix(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err == nil && p.String() != tt.want {
				t.Errorf("got %s, want %s", p, tt.want)
			}
		})
	}
}

func TestParsePrefixes_ConfigError(t *testing.T) {
	_, err := ParsePrefixes("deny", []string{"10.0.0.0/8", "bogus"})
	var ce *lkerr.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *ConfigError", err)
	}
	if ce.Field != "deny" || ce.Value != "bogus" {
		t.Errorf("ConfigError = %+v", ce)
	}
}

// ── ParseTunnelSpec ──────────────────────────────────────────────────

func TestParseTunnelSpec(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"full", "admin@bastion.example.com:2222", "admin", "bastion.example.com", 2222, false},
		{"no port", "root@gateway", "root", "gateway", 22, false},
		{"no user", "jump-host:2200", "", "jump-host", 2200, false},
		{"bad port", "user@host:999999", "", "", 0, true},
		{"empty", "", "", "", 0, true},
		{"colon only", ":", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseTunnelSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got (%q, %q, %d), want (%q, %q, %d)",
					user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

// ── Config.Validate ──────────────────────────────────────────────────

func validConfig() *Config {
	c := Defaults()
	c.SourceSpec = "8080"
	return c
}

func TestValidate_Resolves(t *testing.T) {
	c := validConfig()
	c.Allow = []string{"10.0.0.0/8"}
	c.Deny = []string{"10.0.0.13"}
	c.ViaSpec = "ops@bastion:2222"

	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.Source != (Endpoint{"localhost", 8080}) {
		t.Errorf("Source = %+v", c.Source)
	}
	if c.Dest != (Endpoint{"0.0.0.0", 10130}) {
		t.Errorf("Dest = %+v", c.Dest)
	}
	if len(c.AllowNets) != 1 || c.AllowNets[0] != netip.MustParsePrefix("10.0.0.0/8") {
		t.Errorf("AllowNets = %v", c.AllowNets)
	}
	if len(c.DenyNets) != 1 || c.DenyNets[0] != netip.MustParsePrefix("10.0.0.13/32") {
		t.Errorf("DenyNets = %v", c.DenyNets)
	}
	if c.ViaUser != "ops" || c.ViaHost != "bastion" || c.ViaPort != 2222 {
		t.Errorf("Via = %s@%s:%d", c.ViaUser, c.ViaHost, c.ViaPort)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
		fatal   bool
	}{
		{"no source", func(c *Config) { c.SourceSpec = "" }, "hint:", true},
		{"bad source", func(c *Config) { c.SourceSpec = "host:abc" }, "port is not an integer", true},
		{"bad dest", func(c *Config) { c.DestSpec = "0.0.0.0:99999" }, "out of range", true},
		{"bad allow", func(c *Config) { c.Allow = []string{"10.0.0.0/33"} }, "invalid CIDR", true},
		{"negative limit", func(c *Config) { c.LimitKBps = -1 }, "--limit", true},
		{"zero timeout", func(c *Config) { c.ConnectTimeout = 0 }, "--timeout", true},
		{"both public modes", func(c *Config) { c.Public, c.PublicNative = true, true }, "mutually exclusive", true},
		{"public cmd without port", func(c *Config) { c.Public, c.PublicCommand = true, "ssh host" }, "{port}", true},
		{"via without user", func(c *Config) { c.ViaSpec = "bastion" }, "user is required", true},
		{"long secret", func(c *Config) { c.Secret = strings.Repeat("x", 2000) }, "--secret", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantSub)
			}
			if lkerr.IsFatal(err) != tt.fatal {
				t.Errorf("IsFatal = %v, want %v", !tt.fatal, tt.fatal)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	c := Defaults()
	if c.ConnectTimeout != 10*time.Second || c.AuthTimeout != 10*time.Second {
		t.Errorf("timeouts = %v / %v", c.ConnectTimeout, c.AuthTimeout)
	}
	if c.DrainTimeout != 30*time.Second || c.GracePeriod != 5*time.Second {
		t.Errorf("drain/grace = %v / %v", c.DrainTimeout, c.GracePeriod)
	}
	if c.DestSpec != "0.0.0.0:10130" {
		t.Errorf("DestSpec = %q", c.DestSpec)
	}
	if !strings.Contains(c.PublicCommand, "{port}") {
		t.Errorf("PublicCommand = %q", c.PublicCommand)
	}
}
