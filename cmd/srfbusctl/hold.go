package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/srfbus"
)

func newHoldCmd(opts *rootOptions) *cobra.Command {
	var (
		configFile    string
		configContext string
		prefix        string
		statusAddr    string
		corsOrigins   []string
	)
	cmd := &cobra.Command{
		Use:   "hold",
		Short: "Bootstrap a connection and keep it open until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, reg, err := opts.newClient(cmd, prefix)
			if err != nil {
				return err
			}
			log, err := opts.logger(cmd)
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ctx, _ := srfbus.NewExecutionContext(sigCtx)
			if err := client.Bootstrap(ctx, configFile, configContext); err != nil {
				return err
			}
			return holdUntilDone(sigCtx, client, log, statusAddr, srfbus.StatusOptions{
				CORSAllowedOrigins: corsOrigins,
				Gatherer:           reg,
			})
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file (XML, YAML or TOML)")
	cmd.Flags().StringVarP(&configContext, "context", "x", defaultConfigContext, "Configuration context the keys live under")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Resource prefix (default \"go\")")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "", "Serve /api/connections and /metrics on this address")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", nil, "Origins allowed to read the status API")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// holdUntilDone serves the status API (when addr is set) until ctx ends, then
// closes every connection.
func holdUntilDone(ctx context.Context, client *srfbus.Client, log srfbus.ServiceLogger, addr string, statusOpts srfbus.StatusOptions) error {
	var server *http.Server
	serveErr := make(chan error, 1)
	if addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = client.ShutdownAll(context.WithoutCancel(ctx))
			return err
		}
		server = &http.Server{
			Handler:           srfbus.NewStatusHandler(client.Registry(), log, statusOpts),
			ReadHeaderTimeout: 5 * time.Second,
		}
		log.Info("Serving status API", srfbus.LogFields{"address": ln.Addr().String()})
		go func() {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if server != nil {
		if serr := server.Shutdown(shutdownCtx); serr != nil {
			log.Error("Status server shutdown failed", serr, nil)
		}
	}
	if serr := client.ShutdownAll(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}
