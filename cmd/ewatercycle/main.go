// Command ewatercycle sets up hydrological models, generates their forcing
// and compares their discharge with observations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ewatercycle/ewatercycle-go/internal/config"
)

// app carries what every command needs. It is filled by the root command
// before any subcommand runs.
type app struct {
	configFile string
	logLevel   string

	logger *slog.Logger
	store  *config.Store
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := a.rootCommand().ExecuteContext(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("command failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ewatercycle",
		Short:         "Run hydrological models in containers with generated forcing.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "configuration file, searched in the XDG config dirs when empty")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(
		a.configCommand(),
		a.parameterSetsCommand(),
		a.forcingCommand(),
		a.recipeCommand(),
		a.imageCommand(),
		a.grdcCommand(),
		a.runCommand(),
		a.metricsCommand(),
		a.bmiServerCommand(),
	)
	return root
}

func (a *app) setup() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(a.logLevel))); err != nil {
		return fmt.Errorf("parse --log-level: %w", err)
	}
	a.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)

	if a.configFile != "" {
		cfg, err := config.Load(a.configFile, a.logger)
		if err != nil {
			return err
		}
		a.store = config.NewStore(cfg, a.logger)
		return nil
	}
	cfg, err := config.FromEnv(a.logger)
	if err != nil {
		return err
	}
	a.store = config.NewStore(cfg, a.logger)
	return nil
}
