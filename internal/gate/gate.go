// Package gate decides whether an accepted connection may be relayed.
//
// A Gate runs after accept and before the source is dialed.  Gates see
// the raw client socket and may talk to it (the password challenge
// does), but once Admit returns nil the socket belongs to the relay.
// The relay itself never knows which gates ran.
package gate

import (
	"context"
	"fmt"
	"net"

	lkerr "luka/internal/errors"
	"luka/util"
)

// Gate admits or rejects a single client connection.  Rejections
// return an error matching [lkerr.ErrAdmissionDenied].
type Gate interface {
	Admit(ctx context.Context, conn net.Conn) error
}

// Func adapts an ordinary function to the Gate interface.
type Func func(ctx context.Context, conn net.Conn) error

// Admit calls f(ctx, conn).
func (f Func) Admit(ctx context.Context, conn net.Conn) error { return f(ctx, conn) }

// Open admits every connection.
type Open struct{}

func (Open) Admit(context.Context, net.Conn) error { return nil }

// Chain runs each gate in order and stops at the first rejection.
type Chain []Gate

// Admit runs every gate in c against conn.
func (c Chain) Admit(ctx context.Context, conn net.Conn) error {
	for _, g := range c {
		if err := g.Admit(ctx, conn); err != nil {
			return err
		}
	}
	return nil
}

// Build assembles the gate for a filter and an optional secret.  Nil
// parts are skipped; with nothing configured the result is [Open].
func Build(filter *IPFilter, secret *Secret) Gate {
	var c Chain
	if filter != nil && !filter.Empty() {
		c = append(c, filter)
	}
	if secret != nil {
		c = append(c, secret)
	}
	switch len(c) {
	case 0:
		return Open{}
	case 1:
		return c[0]
	}
	return c
}

// Check runs g against conn.  On rejection the connection is closed
// and the error is returned; nil means the caller may proceed.
func Check(ctx context.Context, g Gate, conn net.Conn, logger *util.Logger) error {
	if g == nil {
		return nil
	}
	err := g.Admit(ctx, conn)
	if err == nil {
		return nil
	}
	conn.Close()
	logger.Verbose("rejected %s: %v", conn.RemoteAddr(), err)
	if !lkerr.Is(err, lkerr.ErrAdmissionDenied) {
		err = fmt.Errorf("%w: %w", lkerr.ErrAdmissionDenied, err)
	}
	return err
}
