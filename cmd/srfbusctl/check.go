package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/srfbus"
	"github.com/drblury/srfbus/internal/runtime/jsoncodec"
)

type checkReport struct {
	Status     string                 `json:"status"`
	Kind       string                 `json:"kind,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Connection *srfbus.ConnectionInfo `json:"connection,omitempty"`
	Elapsed    string                 `json:"elapsed"`
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var (
		configFile    string
		configContext string
		prefix        string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Bootstrap a connection from a configuration file, then shut it down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := opts.newClient(cmd, prefix)
			if err != nil {
				return err
			}

			ctx, _ := srfbus.NewExecutionContext(cmd.Context())
			started := time.Now()
			report := checkReport{Status: "ok"}

			if err := client.Bootstrap(ctx, configFile, configContext); err != nil {
				report.Status = "error"
				report.Kind = errorKind(err)
				report.Error = err.Error()
				report.Elapsed = time.Since(started).String()
				if werr := writeReport(cmd, opts.jsonOut, report); werr != nil {
					return werr
				}
				return err
			}

			if conn, ok := client.Current(ctx); ok {
				info := conn.Info()
				report.Connection = &info
			}
			if err := client.Shutdown(ctx); err != nil {
				return err
			}
			report.Elapsed = time.Since(started).String()
			return writeReport(cmd, opts.jsonOut, report)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file (XML, YAML or TOML)")
	cmd.Flags().StringVarP(&configContext, "context", "x", defaultConfigContext, "Configuration context the keys live under")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Resource prefix (default \"go\")")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func errorKind(err error) string {
	var cfgErr *srfbus.ConfigError
	var sessErr *srfbus.SessionError
	switch {
	case errors.As(err, &cfgErr):
		return "config"
	case errors.As(err, &sessErr):
		return "session"
	}
	return "other"
}

func writeReport(cmd *cobra.Command, jsonOut bool, report checkReport) error {
	out := cmd.OutOrStdout()
	if jsonOut {
		data, err := jsoncodec.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	if report.Status != "ok" {
		_, err := fmt.Fprintf(out, "%s error after %s\n", report.Kind, report.Elapsed)
		return err
	}
	c := report.Connection
	if c == nil {
		_, err := fmt.Fprintf(out, "ok (%s)\n", report.Elapsed)
		return err
	}
	_, err := fmt.Fprintf(out, "ok %s %s as %s resource=%s (%s)\n",
		c.Transport, c.Address, c.Username, c.Resource, report.Elapsed)
	return err
}
