// Package core is the orchestration layer.  It turns a validated
// Config into a running forwarder: admission gate, source dialer,
// relay, listening server, and the optional public tunnel and metrics
// endpoint.
//
// Layers (bottom → top):
//
//	transport, gate  →  relay  →  core  →  cmd (CLI)
package core

import "context"

// Mode is a complete operation of luka that owns its lifecycle from
// startup checks to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
