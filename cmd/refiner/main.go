package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dotcommander/refiner/internal/config"
)

// cli carries the global flags and the state built from them
type cli struct {
	configPath string
	verbose    bool
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "refiner",
		Short: "Turn natural-language edit instructions into image refinement plans",
		Long: `refiner parses free-form edit instructions ("add sunglasses and make the background a beach")
into typed operations, tracks each image's background across refinements and patches the
image's structured scene prompt so the next generation keeps what the user did not ask to change.

Chains are kept in memory by default. Configure storage.driver (file, sqlite, postgres) to keep
them between runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.ErrOrStderr())
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/refiner/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&c.logFormat, "log-format", "", "log format: text or json (overrides config)")

	rootCmd.AddCommand(
		c.parseCmd(),
		c.planCmd(),
		c.initCmd(),
		c.stateCmd(),
		c.aliasCmd(),
		c.chainsCmd(),
		c.batchCmd(),
		c.runCmd(),
	)
	return rootCmd
}

func (c *cli) setup(stderr io.Writer) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.verbose {
		cfg.Logging.Level = "debug"
	}
	if c.logFormat != "" {
		cfg.Logging.Format = c.logFormat
	}
	c.cfg = cfg
	c.logger = newLogger(stderr, cfg.Logging)
	slog.SetDefault(c.logger)
	return nil
}

func newLogger(w io.Writer, lc config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	if lc.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
