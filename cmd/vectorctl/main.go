// Package main provides vectorctl, the operator tool for the scheduling
// backend: it resets, seeds, inspects and exercises a store directly.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hackgods/project-vector/internal/app"
	"github.com/hackgods/project-vector/internal/config"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type env struct {
	cfg    config.Config
	logger *slog.Logger
}

// open builds the application graph for commands that work on the store.
func (e *env) open(ctx context.Context) (*app.App, error) {
	return app.Build(ctx, e.cfg, e.logger)
}

// local is open restricted to the document store backend.
func (e *env) local(ctx context.Context) (*app.App, error) {
	a, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	if a.Store == nil {
		a.Close()
		return nil, errors.New("this command needs BACKEND=local")
	}
	return a, nil
}

func rootCmd() *cobra.Command {
	e := &env{}
	var logLevel string

	cmd := &cobra.Command{
		Use:           "vectorctl",
		Short:         "Operate the Project Vector scheduling store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := cfg.LogLevel
			if logLevel != "" {
				if err := level.UnmarshalText([]byte(logLevel)); err != nil {
					return fmt.Errorf("invalid --log-level %q", logLevel)
				}
			}
			e.cfg = cfg
			e.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(e.logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			cobra.OnFinalize(stop)
			cmd.SetContext(ctx)
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		resetCmd(e),
		seedCmd(e),
		normalizeCmd(e),
		slotsCmd(e),
		dumpCmd(e),
		loadtestCmd(e),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "vectorctl version %s\n", version)
			},
		},
	)
	return cmd
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
