package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/waybacker/internal/cache"
)

func newGetCmd(root *rootOptions) *cobra.Command {
	var opts cache.GetOptions
	cmd := &cobra.Command{
		Use:   "get URL...",
		Short: "Return cached entries, fetching from the Wayback Machine when needed",
		Long: `Looks each URL up in the store and only contacts the Wayback Machine when
there is no entry yet, when --overwrite is set, or when the stored entry is a
failure and --retry-unsuccessful is set.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c := appInstance.GetCache()
			for _, rawURL := range args {
				entry, err := c.Get(cmd.Context(), rawURL, opts)
				if err != nil {
					return err
				}
				if err := render(cmd.OutOrStdout(), root.output, entry); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.RetryUnsuccessful, "retry-unsuccessful", false, "re-fetch URLs whose stored entry is a failure")
	cmd.Flags().BoolVar(&opts.OverwriteEntry, "overwrite", false, "always re-fetch and replace the stored entry")
	return cmd
}
