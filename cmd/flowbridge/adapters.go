package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapterregistry"
)

func newAdaptersCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "List the built-in adapter types and modes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := adapterregistry.NewFactory(adapter.Dependencies{Logger: g.logger})
			if err != nil {
				return err
			}
			infos := f.Describe()
			if g.Output == "json" {
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tMODE\tCONFIG\tDESCRIPTION")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Type, info.Mode, info.ConfigType, info.Description)
			}
			return w.Flush()
		},
	}
}
