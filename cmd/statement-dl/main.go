package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"statement-dl/internal/cli"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cli.SetVersion(version)
	err := cli.Execute(ctx)
	stop()
	if err != nil {
		slog.Error("statement-dl failed", "error", err)
		os.Exit(1)
	}
}
