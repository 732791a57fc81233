package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rickgao/resilientws/internal/connection"
)

func listenCmd(opts *rootOptions) *cobra.Command {
	var pretty bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print incoming messages until interrupted",
		Long: `Connect to the server and print every text message on its own line.

With auto_reconnect enabled the client keeps reconnecting according to the
configured interval and attempt limit. When metrics are enabled /health and
the metrics endpoint are served on the metrics port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Dispose()
			logLifecycle(client, a.logger)

			out := cmd.OutOrStdout()
			client.OnMessage().Register(func(ctx context.Context, e connection.MessageEvent) error {
				_, err := fmt.Fprintln(out, formatMessage(e.Text, pretty))
				return err
			})

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			var services []service
			if a.cfg.Metrics.Enabled {
				reg, _ := newMetrics(a.cfg.Metrics, client)
				router := newRouter(reg, a.cfg.Metrics.Path, healthDeps{client: client})
				services = append(services, httpService(newHTTPServer(a.cfg.Metrics, router), a.logger))
			}
			return runClient(ctx, client, a.logger, services...)
		},
	}

	cmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "indent JSON messages")
	return cmd
}

// formatMessage indents text when pretty is set and text is valid JSON.
func formatMessage(text string, pretty bool) string {
	if !pretty || !json.Valid([]byte(text)) {
		return text
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(text), "", "  "); err != nil {
		return text
	}
	return buf.String()
}
