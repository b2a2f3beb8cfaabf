package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/tenant-ledger/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCommand(commands.Options{}).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
