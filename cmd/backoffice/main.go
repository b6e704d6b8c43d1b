package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fitstack/backoffice/adapter/cli"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cli.ExecuteContext(ctx)
}
