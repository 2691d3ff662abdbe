package config

import (
	"net"
	"net/netip"
	"strconv"
	"strings"

	lkerr "luka/internal/errors"
)

// Endpoint is a resolved host and TCP port.  The host is kept verbatim
// (name or literal); resolution happens at dial/bind time.
type Endpoint struct {
	Host string
	Port uint16
}

// String formats e as "host:port", bracketing IPv6 literals so the
// result parses back to the same Endpoint.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(int(e.Port)))
}

// IsZero reports whether e was never set.
func (e Endpoint) IsZero() bool { return e.Host == "" && e.Port == 0 }

// ParseEndpoint turns "host:port" or a bare "port" into an Endpoint.
//
// With a colon present the string is split on the last one; a bracketed
// IPv6 host ("[::1]:80") is unwrapped.  Without a colon the whole string
// is the port and the host is defaultHost.  An empty host segment
// (":80") also falls back to defaultHost.  The port must be a decimal
// integer in [0, 65535].
func ParseEndpoint(s, defaultHost string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, &lkerr.AddressError{Input: s, Reason: "empty address"}
	}

	host, portStr := defaultHost, s
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		host, portStr = s[:i], s[i+1:]
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
		if host == "" {
			host = defaultHost
		}
	}

	port, err := parsePort(portStr)
	if err != nil {
		return Endpoint{}, &lkerr.AddressError{Input: s, Reason: err.Error()}
	}
	if host == "" {
		return Endpoint{}, &lkerr.AddressError{Input: s, Reason: "no host given and no default host"}
	}
	return Endpoint{Host: host, Port: port}, nil
}

func parsePort(s string) (uint16, error) {
	if s == "" {
		return 0, errPortMissing
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errPortNotInteger
		}
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errPortRange
	}
	return uint16(n), nil
}

var (
	errPortMissing    = lkerr.New("port is missing")
	errPortNotInteger = lkerr.New("port is not an integer")
	errPortRange      = lkerr.New("port out of range 0-65535")
)

// ── CIDR lists ───────────────────────────────────────────────────────

// ParsePrefix parses a CIDR ("10.0.0.0/8", "fd00::/8") or a bare address,
// which becomes a single-host prefix (/32 or /128).  IPv4-mapped IPv6
// input is normalised to its IPv4 form so it matches unmapped peers.
func ParsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		addr = addr.Unmap().WithZone("")
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}

	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	if p.Addr().Is4In6() {
		bits := p.Bits() - 96
		if bits < 0 {
			bits = 0
		}
		p = netip.PrefixFrom(p.Addr().Unmap(), bits)
	}
	return p.Masked(), nil
}

// ParsePrefixes parses every entry of list, reporting the first failure
// as a ConfigError against field.
func ParsePrefixes(field string, list []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(list))
	for _, s := range list {
		p, err := ParsePrefix(s)
		if err != nil {
			return nil, &lkerr.ConfigError{
				Field:   field,
				Value:   s,
				Message: "invalid CIDR",
				Hint:    "use a prefix such as 10.0.0.0/8 or a bare address such as 192.168.1.5",
			}
		}
		out = append(out, p)
	}
	return out, nil
}
