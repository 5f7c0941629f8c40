package main

import (
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nafkem/LansRealEstate/internal/server"
)

var serveMetricsInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the read-only deployment status server",
	Long: `Serve recorded deployments over HTTP until interrupted.

Endpoints:
  GET /health                                   dependency health
  GET /metrics                                  Prometheus metrics
  GET /v1/deployments                           every recorded deployment
  GET /v1/deployments/{chainID}/{moduleID}      one deployment with journal

The listen address comes from LANSELLER_SERVER_ADDR (default :9090).`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveMetricsInterval, "metrics-interval", 30*time.Second, "how often to refresh deployment gauges")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []server.Option
	if a.db != nil {
		opts = append(opts, server.WithHealthCheck("postgres", a.db))
	}
	if a.redis != nil {
		opts = append(opts, server.WithHealthCheck("redis", a.redis))
	}
	srv := server.New(a.cfg.Server, a.repo, a.logger, opts...)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error { return srv.RefreshMetrics(ctx, serveMetricsInterval) })
	return g.Wait()
}
