package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/app"
)

func newAbsorbCmd(root *rootOptions) *cobra.Command {
	var foreign app.ForeignStore
	cmd := &cobra.Command{
		Use:   "absorb DIR",
		Short: "Merge another store into this one",
		Long: `Copies every entry of the store rooted at DIR, together with its blob, into
the configured store. URLs that already have an entry are left untouched, so
absorbing the same directory twice is harmless. DIR must already hold a store.
A postgres source is named with --dsn and --table and may not be the
configured store itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			foreign.Dir = args[0]
			source, err := appInstance.OpenForeignStore(cmd.Context(), foreign)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := source.Close(); cerr != nil {
					appInstance.GetLogger().Warn("failed to close foreign store", zap.Error(cerr))
				}
			}()

			stats, err := appInstance.GetCache().Absorb(cmd.Context(), source)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), root.output, stats)
		},
	}
	cmd.Flags().StringVar(&foreign.Backend, "backend", "leveldb", "metadata backend of the foreign store")
	cmd.Flags().StringVar(&foreign.DSN, "dsn", "", "postgres DSN of the foreign store")
	cmd.Flags().StringVar(&foreign.Table, "table", "", "postgres table of the foreign store (default wayback_entries)")
	return cmd
}
