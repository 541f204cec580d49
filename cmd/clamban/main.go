// Command clamban is the CLI client for clambanserverd, mirroring the
// reference CLI's cmd/agtmux entrypoint (global -addr flag, then a
// Runner dispatches the remaining args).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/clamban/clamban/internal/clicmd"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:4173", "clambanserverd HTTP address")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := clicmd.NewRunner(*addr, os.Stdout, os.Stderr)
	os.Exit(runner.Run(ctx, flag.Args()))
}
