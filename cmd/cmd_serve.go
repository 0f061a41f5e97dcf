package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/solrelay/transfer-relay/server"
)

var serveAddr string

// ServeCmd returns the command that runs the HTTP front end.
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP front end",
		Long: `Run the HTTP front end until interrupted.

Routes:
  POST /transfers      one transfer or {"transfers":[...]}
  GET  /batches/:id    live progress, or the stored result when journal.redis is set
  GET  /healthz        liveness
  GET  /readyz         chain endpoint health
  GET  /metrics        Prometheus metrics

Example:
  relay serve --config relay.yaml --addr :8080
`,
		Args: exactArgs(0),
		RunE: runServe,
	}
	cmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides http.addr)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.HTTP.Addr = serveAddr
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{relay: true, tracker: true, observability: true, component: "serve"})
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []server.Option
	if a.redisJournal != nil {
		opts = append(opts, server.WithBatchStore(a.redisJournal))
	}
	srv := server.New(a.logger, server.Config{
		Addr:         cfg.HTTP.Addr,
		MaxBatchSize: cfg.HTTP.MaxBatchSize,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}, a.relay, a, opts...)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	<-ctx.Done()
	a.cli.Info().Msg("shutdown signal received, draining in-flight batches")
	srv.Wait()
	a.cli.Info().Msg("HTTP server stopped")
	return nil
}
