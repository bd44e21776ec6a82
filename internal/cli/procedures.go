package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/dersweep/internal/procedure"
)

// ProcedureInfo describes one registered procedure.
type ProcedureInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// NewProceduresCommand creates the procedures command.
func NewProceduresCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "procedures",
		Short:         "List the available test procedures",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := make([]ProcedureInfo, 0, len(procedure.Names()))
			for _, n := range procedure.Names() {
				infos = append(infos, ProcedureInfo{Name: n, Description: procedure.Describe(n)})
			}

			if rootOpts.Format == "json" {
				f := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
				return f.Success(infos)
			}
			for _, info := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", info.Name, info.Description)
			}
			return nil
		},
	}
}
