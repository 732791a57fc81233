package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/rickgao/resilientws/internal/config"
	"github.com/rickgao/resilientws/internal/connection"
)

func sendCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
		linger  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send <message>...",
		Short: "Send one or more text messages and disconnect",
		Long: `Connect, send each argument as a text message, then close the
connection with a normal closure.

With --json each argument is parsed as JSON and re-encoded before sending.
With --linger replies received in that window are printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(opts, func(c *config.Config) {
				c.Client.AutoReconnect = false
			})
			if err != nil {
				return err
			}
			defer a.Close()

			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Dispose()

			var (
				mu      sync.Mutex
				lastErr error
			)
			client.OnError().Register(func(ctx context.Context, e connection.ErrorEvent) error {
				mu.Lock()
				lastErr = e.Err
				mu.Unlock()
				return nil
			})
			closed := make(chan struct{}, 1)
			client.OnDisconnected().Register(func(ctx context.Context, _ connection.DisconnectedEvent) error {
				select {
				case closed <- struct{}{}:
				default:
				}
				return nil
			})
			out := cmd.OutOrStdout()
			client.OnMessage().Register(func(ctx context.Context, e connection.MessageEvent) error {
				_, err := fmt.Fprintln(out, e.Text)
				return err
			})

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			connectCtx, cancel := context.WithTimeout(ctx, timeout)
			err = client.Connect(connectCtx, false)
			cancel()
			if err != nil {
				return err
			}
			if !client.IsConnected() {
				mu.Lock()
				defer mu.Unlock()
				if lastErr == nil {
					lastErr = errors.New("handshake did not complete")
				}
				return fmt.Errorf("connect %s: %w", client.URL(), lastErr)
			}

			for _, arg := range args {
				if err := sendArg(client, arg, asJSON); err != nil {
					return err
				}
			}
			a.logger.Debug("messages sent", "count", len(args))

			if linger > 0 {
				select {
				case <-time.After(linger):
				case <-ctx.Done():
				case <-closed:
					return nil
				}
			}

			client.Disconnect()
			select {
			case <-closed:
			case <-time.After(2 * time.Second):
				a.logger.Warn("server did not complete the closing handshake")
			case <-ctx.Done():
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "parse each message as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "handshake timeout")
	cmd.Flags().DurationVar(&linger, "linger", 0, "print replies for this long before closing")
	return cmd
}

func sendArg(client *connection.Client, arg string, asJSON bool) error {
	if !asJSON {
		return client.Send(arg)
	}
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return fmt.Errorf("parse %q: %w", arg, err)
	}
	return client.SendValue(v)
}
