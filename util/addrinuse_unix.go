//go:build unix

package util

import (
	"errors"

	"golang.org/x/sys/unix"
)

func isAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}

func isAddrNotAvail(err error) bool {
	return errors.Is(err, unix.EADDRNOTAVAIL)
}
