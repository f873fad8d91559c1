package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/hello-k8s/internal/chart"
	"github.com/3cpo-dev/hello-k8s/internal/probe"
	"github.com/3cpo-dev/hello-k8s/internal/server"
	"github.com/3cpo-dev/hello-k8s/internal/telemetry"
)

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().Int("port", 0, "listen port (overrides PORT and the config file)")
	cmd.Flags().String("host", "", "listen host (default all interfaces)")
	cmd.Flags().Bool("telemetry", false, "log aggregated request metrics periodically")
}

// Serve GET /
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen and serve until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	addServeFlags(cmd)
	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg := configFrom(cmd)
	if cmd.Flags().Changed("port") {
		p, _ := cmd.Flags().GetInt("port")
		if p < 1 || p > 65535 {
			return fmt.Errorf("invalid --port %d", p)
		}
		cfg.Port = p
	}
	if cmd.Flags().Changed("host") {
		cfg.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("telemetry") {
		cfg.Telemetry.Enabled, _ = cmd.Flags().GetBool("telemetry")
	}

	collector := telemetry.InitGlobal(cfg.Telemetry.Enabled, cfg.Telemetry.FlushInterval)
	defer telemetry.Shutdown()
	monitor := telemetry.StartRuntimeMonitor(collector, cfg.Telemetry.FlushInterval)
	defer monitor.Stop()

	srv := server.New(server.Options{Version: version})
	ln, err := srv.Listen(cfg.Addr())
	if err != nil {
		log.Error().Err(err).Str("addr", cfg.Addr()).Msg("failed to bind listen address")
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errc
}

// Check a running instance
func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "GET / on a running instance and fail unless it answers 200 with the greeting",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			if url == "" {
				url = probe.LocalURL(configFrom(cmd).Port)
			}
			if err := probe.Check(cmd.Context(), url, timeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().String("url", "", "URL to probe (default http://127.0.0.1:$PORT/)")
	cmd.Flags().Duration("timeout", 2*time.Second, "request timeout")
	return cmd
}

// Helm chart helpers
func newChartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chart",
		Short: "Inspect the Helm chart",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "lint [dir]",
		Short: "Check chart values the service depends on",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "charts/hello"
			if len(args) == 1 {
				dir = args[0]
			}
			c, err := chart.Load(dir)
			if err != nil {
				return err
			}
			errs := c.Lint()
			for _, e := range errs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", dir, e)
			}
			if len(errs) > 0 {
				return fmt.Errorf("chart %s: %d problem(s)", dir, len(errs))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "chart %s %s: ok\n", c.Metadata.Name, c.Metadata.Version)
			return nil
		},
	})
	return cmd
}
