package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/italolelis/content_companion/internal/config"
	"github.com/italolelis/content_companion/internal/logctx"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "content_companion",
	Short:         "Offline downloads, interactions and library sync for the content platform",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}

		logger := slog.New(logctx.NewTraceHandler(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
		))
		slog.SetDefault(logger)

		ctx := logctx.WithLogger(cmd.Context(), logger)
		ctx = context.WithValue(ctx, configKey{}, cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

type configKey struct{}

func configFrom(ctx context.Context) *config.Config {
	cfg, _ := ctx.Value(configKey{}).(*config.Config)

	return cfg
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "err", err)
		stop()
		os.Exit(1)
	}
}
