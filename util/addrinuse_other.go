//go:build !unix && !windows

package util

import "strings"

func isAddrInUse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "address already in use")
}

func isAddrNotAvail(err error) bool {
	return err != nil && strings.Contains(err.Error(), "assign requested address")
}
