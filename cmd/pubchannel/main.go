// Command pubchannel runs the publication bridge over stdin and stdout.
// Logs go to stderr.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubchannel "github.com/filegrind/pubchannel-go"
	"github.com/filegrind/pubchannel-go/config"
	"github.com/filegrind/pubchannel-go/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pubchannel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, pubchannel.Name, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			fmt.Fprintf(os.Stderr, "pubchannel: flush traces: %v\n", err)
		}
	}()

	bridge, err := pubchannel.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer bridge.Close()

	return bridge.Serve(ctx, os.Stdin, os.Stdout)
}
