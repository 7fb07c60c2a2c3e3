package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bitmex-bridge/node/internal/app"
	"github.com/bitmex-bridge/node/internal/config"
	"github.com/bitmex-bridge/node/internal/logging"
	"github.com/bitmex-bridge/node/internal/telemetry"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "node",
	Short: "Single-tenant exchange-adjacency node bridging AMQP and BitMEX",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Bind one account and serve its AMQP command queues",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		shutdownTracer, err := telemetry.InitTracer(telemetry.Resource{
			ServiceName: "bitmex-node",
			Environment: cfg.AppEnv,
			Exchange:    cfg.Exchange,
		}, logging.New("bitmex-node"))
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer shutdownTracer()

		a, err := app.New(cfg)
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		go func() {
			<-sigCh
			if err := a.Shutdown(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
			}
			cancel()
		}()

		return a.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
