package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLookupCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup URL",
		Short: "Print the stored entry for a URL without contacting the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			entry, err := appInstance.GetCache().Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("no entry for %s", args[0])
			}
			return render(cmd.OutOrStdout(), root.output, entry)
		},
	}
}
