// main.go
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gewnthar/lobbying/config"
	"github.com/gewnthar/lobbying/services"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "✗ ETL failed: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "lobbyload",
		Short: "Load recent lobbying registrations into a staging table",
		Long: `lobbyload downloads the Commissioner of Lobbying registrations archive,
keeps the rows registered within the retention window and writes them to the
lobby_staging table through the first reachable connection: the local
database, the hosted database, or its REST API.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ./"+config.DefaultConfigFile+" if present)")
	cmd.Flags().String("method", config.MethodAuto, "connection method: auto, local, remote or rest")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn or error")

	_ = cmd.RegisterFlagCompletionFunc("method", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{config.MethodAuto, config.MethodLocal, config.MethodRemote, config.MethodRest}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func run(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger := newLogger(cfg.LogLevel, stderr)
	if cfg.FileUsed != "" {
		logger.Debug("using config file", slog.String("path", cfg.FileUsed))
	}

	p, err := services.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	p.ProgressOut = stderr

	summary, err := p.Run(ctx)
	services.PrintSummary(stdout, summary)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, "✓ ETL completed")
	return nil
}

func newLogger(level string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
