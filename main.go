// castd - live cast server: players log in, spectators watch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"castd/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "castd: %v\n", err)
		os.Exit(1)
	}
}
