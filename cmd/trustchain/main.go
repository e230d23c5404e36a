package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rzbill/trustchain/internal/cmd/admin"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := admin.NewRoot().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
