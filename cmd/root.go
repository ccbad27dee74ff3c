package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/waybacker/internal/app"
	"github.com/JakeFAU/waybacker/internal/cache"
	"github.com/JakeFAU/waybacker/internal/config"
	"github.com/JakeFAU/waybacker/internal/store"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	GetLogger() *zap.Logger
	GetConfig() config.Config
	GetCache() *cache.Cache
	OpenForeignStore(ctx context.Context, foreign app.ForeignStore) (*store.Store, error)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return app.NewApp(ctx, cfg)
}

type rootOptions struct {
	cfgFile string
	output  string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "waybacker",
		Short: "A durable local cache in front of the Wayback Machine.",
		Long: `waybacker fetches the closest archived copy of a URL from the Internet
Archive's Wayback Machine and keeps it in a local store, so repeated requests
for the same URL never hit the network again.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateOutput(opts.output); err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), opts.cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML); env vars with prefix WAYBACKER_ override it")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", outputJSON, "output format: json or yaml")

	cmd.AddCommand(
		newGetCmd(opts),
		newLookupCmd(opts),
		newEntriesCmd(opts),
		newAbsorbCmd(opts),
		newServeCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
