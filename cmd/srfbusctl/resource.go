package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/drblury/srfbus"
	"github.com/drblury/srfbus/internal/runtime/execctx"
	"github.com/drblury/srfbus/internal/runtime/jsoncodec"
)

func newResourceCmd(opts *rootOptions) *cobra.Command {
	var (
		prefix    string
		contextID string
	)
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Print a freshly generated resource identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := opts.logger(cmd)
			if err != nil {
				return err
			}
			if contextID == "" {
				contextID = execctx.New().String()
			}
			gen := srfbus.NewResourceGenerator(prefix)
			gen.OnHostAddressError = func(err error) {
				log.Error("Unable to resolve local host address", err, nil)
			}
			resource := gen.Generate(contextID)

			if opts.jsonOut {
				data, err := jsoncodec.Marshal(map[string]string{
					"resource":   resource,
					"context_id": contextID,
				})
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resource)
			return err
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Resource prefix (default \"go\")")
	cmd.Flags().StringVar(&contextID, "execution-context", "", "Execution context ID (default: random)")
	return cmd
}
