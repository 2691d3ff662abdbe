// Luka - a TCP port forwarder with peer filtering and public exposure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"luka/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "luka: %v\n", err)
		os.Exit(1)
	}
}
