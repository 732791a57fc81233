package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/resilientws/internal/config"
	"github.com/rickgao/resilientws/internal/database"
	"github.com/rickgao/resilientws/internal/recorder"
)

func recordCmd(opts *rootOptions) *cobra.Command {
	var skipSchema bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record messages and lifecycle events to PostgreSQL",
		Long: `Connect to the server and write every text message to ws_messages and
every connect, disconnect, error and retry to ws_events.

Requires the recorder.database section of the config file. Metrics and
/health are served on the metrics port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, func(c *config.Config) {
				c.Recorder.Enabled = true
				c.Metrics.Enabled = true
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			pool, err := database.Connect(ctx, a.cfg.Recorder.Database, a.logger)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer pool.Close()

			if !skipSchema {
				if err := recorder.EnsureSchema(ctx, pool); err != nil {
					return err
				}
			}

			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Dispose()
			logLifecycle(client, a.logger)

			rec := recorder.New(recorder.Config{
				BatchSize:     a.cfg.Recorder.BatchSize,
				FlushInterval: a.cfg.Recorder.FlushInterval,
				BufferSize:    a.cfg.Recorder.BufferSize,
			}, pool, a.logger)
			detach := rec.Attach(client)
			defer detach()

			if err := rec.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := rec.Stop(stopCtx); err != nil {
					a.logger.Error("recorder stop failed", "error", err)
				}
			}()

			reg, m := newMetrics(a.cfg.Metrics, client)
			m.GaugeFunc("recorder_pending_rows", "Rows buffered for the next flush", func() float64 {
				return float64(rec.Stats().Pending)
			})
			m.GaugeFunc("recorder_dropped_rows", "Rows dropped because the buffer was full", func() float64 {
				return float64(rec.Stats().Dropped)
			})
			m.GaugeFunc("recorder_inserted_rows", "Rows written to the database", func() float64 {
				return float64(rec.Stats().Inserts)
			})

			router := newRouter(reg, a.cfg.Metrics.Path, healthDeps{client: client, db: pool, rec: rec})
			server := newHTTPServer(a.cfg.Metrics, router)

			a.logger.Info("recording",
				"url", client.URL(),
				"health_url", fmt.Sprintf("http://localhost:%d/health", a.cfg.Metrics.Port),
			)
			return runClient(ctx, client, a.logger, httpService(server, a.logger))
		},
	}

	cmd.Flags().BoolVar(&skipSchema, "skip-schema", false, "do not create the recorder tables")
	return cmd
}
