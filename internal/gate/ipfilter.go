package gate

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	lkerr "luka/internal/errors"
)

// IPFilter admits peers by address.  Deny always wins: a peer matching
// any deny prefix is rejected even if it also matches the allow list.
// An empty allow list admits everyone not denied.
type IPFilter struct {
	Allow []netip.Prefix
	Deny  []netip.Prefix
}

// NewIPFilter builds a filter from parsed prefix lists.
func NewIPFilter(allow, deny []netip.Prefix) *IPFilter {
	return &IPFilter{Allow: allow, Deny: deny}
}

// Empty reports whether the filter has no rules and so admits all.
func (f *IPFilter) Empty() bool { return len(f.Allow) == 0 && len(f.Deny) == 0 }

// Allowed applies the deny-then-allow rules to addr.
func (f *IPFilter) Allowed(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range f.Deny {
		if p.Contains(addr) {
			return false
		}
	}
	if len(f.Allow) == 0 {
		return true
	}
	for _, p := range f.Allow {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Admit rejects conn silently (nothing is written to the peer) when its
// remote address is denied or not allowed.
func (f *IPFilter) Admit(_ context.Context, conn net.Conn) error {
	if f.Empty() {
		return nil
	}
	addr, ok := PeerAddr(conn.RemoteAddr())
	if !ok {
		return fmt.Errorf("%w: cannot parse peer address %v", lkerr.ErrAdmissionDenied, conn.RemoteAddr())
	}
	if !f.Allowed(addr) {
		return fmt.Errorf("%w: %s blocked by address filter", lkerr.ErrAdmissionDenied, addr)
	}
	return nil
}

// PeerAddr extracts the IP from a net.Addr, with 4-in-6 addresses
// reduced to plain IPv4.
func PeerAddr(a net.Addr) (netip.Addr, bool) {
	if a == nil {
		return netip.Addr{}, false
	}
	if ta, ok := a.(*net.TCPAddr); ok {
		addr, ok := netip.AddrFromSlice(ta.IP)
		return addr.Unmap(), ok
	}
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.Addr{}, false
	}
	return ap.Addr().Unmap(), true
}
