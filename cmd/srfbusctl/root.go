package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/drblury/srfbus"
	"github.com/drblury/srfbus/internal/runtime/logging"
)

const defaultConfigContext = "/config/opensrf"

type rootOptions struct {
	logLevel  string
	logFormat string
	jsonOut   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "srfbusctl",
		Short:         "Inspect and exercise srfbus message bus connections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Output command results in JSON format")

	cmd.AddCommand(
		newCheckCmd(opts),
		newResourceCmd(opts),
		newHoldCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger(cmd *cobra.Command) (srfbus.ServiceLogger, error) {
	return logging.NewTextServiceLogger(cmd.ErrOrStderr(), o.logLevel, o.logFormat)
}

// newClient builds a client with its own metrics registry.
func (o *rootOptions) newClient(cmd *cobra.Command, prefix string) (*srfbus.Client, *prometheus.Registry, error) {
	log, err := o.logger(cmd)
	if err != nil {
		return nil, nil, err
	}
	reg := prometheus.NewRegistry()
	client, err := srfbus.NewClient(log, srfbus.Dependencies{
		ResourcePrefix: prefix,
		Metrics:        srfbus.NewMetrics(reg),
	})
	if err != nil {
		return nil, nil, err
	}
	return client, reg, nil
}
