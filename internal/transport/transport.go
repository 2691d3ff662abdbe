// Package transport opens the outbound leg of a forwarding session.
// A Dialer reaches the source service either directly over TCP or
// through an SSH jump host.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections to the source service.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases long-lived resources such as an SSH connection.
	// Stateless dialers return nil.
	Close() error
}
