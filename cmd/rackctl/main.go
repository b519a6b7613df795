// cmd/rackctl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tamzrod/rack-manager/internal/codec"
	"github.com/tamzrod/rack-manager/internal/config"
	"github.com/tamzrod/rack-manager/internal/logging"
	"github.com/tamzrod/rack-manager/internal/rack"
)

func main() {
	log := logging.ConfigureRuntime()
	if err := newRootCmd(log).Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	log        zerolog.Logger
	configPath string
}

func newRootCmd(log zerolog.Logger) *cobra.Command {
	a := &app{log: log}

	root := &cobra.Command{
		Use:          "rackctl",
		Short:        "Drive and monitor the management devices of a rack",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "rack.yaml", "rack config file")

	root.AddCommand(
		a.runCmd(),
		a.validateCmd(),
		a.fanCmd(),
		a.ledCmd(),
		a.watchdogCmd(),
		a.acCmd(),
		a.bladeCmd(),
		a.jbodCmd(),
		a.nodeManagerCmd(),
		journalCmd(),
	)
	return root
}

// loadConfig runs the Load, Validate, Normalize pipeline.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	config.Normalize(cfg)
	return cfg, nil
}

// withRack builds the rack, runs fn under a signal-aware context and
// closes the rack.
func (a *app) withRack(cmd *cobra.Command, fn func(ctx context.Context, r *rack.Rack) error) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	r, err := rack.Build(cfg, a.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			a.log.Warn().Err(err).Msg("rack close failed")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, r)
}

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll device health and publish status until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRack(cmd, func(ctx context.Context, r *rack.Rack) error {
				a.log.Info().Str("config", a.configPath).Msg("rack manager starting")
				err := r.Run(ctx)
				a.log.Info().Msg("rack manager stopped")
				return err
			})
		},
	}
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d buses, %d devices\n",
				len(cfg.Rack.Buses), len(cfg.Rack.Devices))
			return nil
		},
	}
}

// codeErr turns a failed completion into a command error.
func codeErr(code codec.CompletionCode) error {
	if code == codec.Success {
		return nil
	}
	return fmt.Errorf("device answered %s", code)
}
