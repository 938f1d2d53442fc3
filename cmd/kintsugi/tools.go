package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/b0ase/kintsugi/internal/domain"
	"github.com/b0ase/kintsugi/internal/tools"
)

func newToolsCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog, optionally as gated for a session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := tools.DefaultCatalog()
			defs := catalog.All()
			if status != "" {
				st := domain.SessionStatus(status)
				if !st.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				defs = catalog.ForStatus(st)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCATEGORY\tACCESS")
			for _, def := range defs {
				access := "write"
				if def.ReadOnly {
					access = "read"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", def.Name, def.Category, access)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "session status to gate by (negotiating, contracted, executing, disputed, completed)")
	return cmd
}
