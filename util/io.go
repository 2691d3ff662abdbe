package util

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// CloseRead shuts down the read half of conn when the connection type
// supports it (TCP, Unix).  Other connections are left untouched.
func CloseRead(conn net.Conn) error {
	if cr, ok := conn.(interface{ CloseRead() error }); ok {
		return cr.CloseRead()
	}
	return nil
}

// CloseWrite shuts down the write half of conn, sending FIN on TCP and
// EOF on SSH channels.  Connections without half-close support are
// left untouched; their peer sees EOF when the session closes them.
func CloseWrite(conn net.Conn) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// IsHarmless returns true for errors that are expected while a
// connection winds down: EOF, use of a closed connection, and a peer
// that reset or stopped reading after we half-closed.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
