package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/hello-k8s/internal/config"
)

var (
	version   = "1.0.0"
	commit    = ""
	buildDate = ""
)

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hello",
		Short: "Hello world HTTP server",
		Long:  "hello serves GET / with a fixed greeting. Run without a subcommand to serve.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "", "Set log level. Available: trace, debug, info, warn, error, fatal")
	cmd.PersistentFlags().String("config", "", "config file")
	addServeFlags(cmd)

	cmd.PersistentPreRunE = func(c *cobra.Command, args []string) error {
		cfgPath, _ := c.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if lvl, _ := c.Flags().GetString("log"); lvl != "" {
			cfg.LogLevel = lvl
		}
		setupLogger(os.Stderr, cfg)
		c.SetContext(withConfig(c.Context(), cfg))
		return nil
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProbeCmd())
	cmd.AddCommand(newChartCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hello %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// Setup the logger
func setupLogger(w io.Writer, cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	zerolog.SetGlobalLevel(config.ParseLevel(cfg.LogLevel))
}

type configKey struct{}

func withConfig(ctx context.Context, cfg config.Config) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, configKey{}, cfg)
}

func configFrom(cmd *cobra.Command) config.Config {
	if cfg, ok := cmd.Context().Value(configKey{}).(config.Config); ok {
		return cfg
	}
	return config.Default()
}

// Main entry point
func main() {
	setupLogger(os.Stderr, config.Default())
	root := newRootCmd()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
