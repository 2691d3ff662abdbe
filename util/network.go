package util

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	lkerr "luka/internal/errors"
)

// MaxPort is the highest TCP port number.
const MaxPort = 65535

// FormatAddr returns "host:port", bracketing IPv6 literals.
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// ── Port allocation ──────────────────────────────────────────────────

// FindAvailablePort scans upward from start and returns the first port
// on host that accepts a TCP bind.  The probe listener is closed before
// returning, so another process may take the port before the caller
// binds it; servers should prefer [ListenAvailable].
//
// Ports reported as "address in use" are skipped silently.  Other
// per-port failures (a privileged port, say) are logged and the scan
// advances as well.  Running past 65535 fails with ErrNoPortAvailable.
// A host that cannot be bound at all, because it does not resolve or is
// not an address of this machine, fails at once with ErrBindFailure.
func FindAvailablePort(host string, start int, logger *Logger) (int, error) {
	ln, port, err := ListenAvailable(host, start, logger)
	if err != nil {
		return 0, err
	}
	ln.Close()
	return port, nil
}

// ListenAvailable performs the same upward scan as [FindAvailablePort]
// but keeps the first successful listener open and returns it together
// with the bound port.
func ListenAvailable(host string, start int, logger *Logger) (net.Listener, int, error) {
	if start < 0 {
		start = 0
	}
	for candidate := start; candidate <= MaxPort; candidate++ {
		ln, err := net.Listen("tcp", FormatAddr(host, candidate))
		if err == nil {
			return ln, ln.Addr().(*net.TCPAddr).Port, nil
		}
		if isAddrInUse(err) {
			logger.Debug("port %d in use on %s", candidate, host)
			continue
		}
		if hostUnusable(err) {
			return nil, 0, fmt.Errorf("%w: %v", lkerr.ErrBindFailure, err)
		}
		logger.Warn("bind %s: %v", FormatAddr(host, candidate), err)
	}
	return nil, 0, fmt.Errorf("%w on %s starting at %d", lkerr.ErrNoPortAvailable, host, start)
}

// hostUnusable reports bind errors that no other port on the same host
// would avoid.
func hostUnusable(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) || isAddrNotAvail(err)
}

// ── Display helpers ──────────────────────────────────────────────────

// LANAddr returns the IP of the interface that routes to the public
// internet.  No packets are sent: connecting a UDP socket only selects a
// route.  It falls back to 127.0.0.1 when no route exists.
func LANAddr() string {
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", time.Second)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok && ua.IP != nil {
		return ua.IP.String()
	}
	return "127.0.0.1"
}

// DisplayHost maps a bind host to the host a user should connect to:
// the LAN address for the unspecified address and "localhost" for the
// loopback address.  Anything else is returned unchanged.
func DisplayHost(bindHost string) string {
	switch bindHost {
	case "0.0.0.0", "", "::":
		return LANAddr()
	case "127.0.0.1", "::1":
		return "localhost"
	default:
		return bindHost
	}
}
