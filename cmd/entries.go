package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/waybacker/internal/archive"
)

func newEntriesCmd(root *rootOptions) *cobra.Command {
	var failedOnly bool
	cmd := &cobra.Command{
		Use:   "entries",
		Short: "List every entry in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			entries := make([]archive.CacheEntry, 0)
			for entry, err := range appInstance.GetCache().Entries(cmd.Context()) {
				if err != nil {
					return err
				}
				if failedOnly && !entry.HasError() {
					continue
				}
				entries = append(entries, entry)
			}
			return render(cmd.OutOrStdout(), root.output, entries)
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only list entries that record a failure")
	return cmd
}
