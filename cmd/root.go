// Package cmd defines and implements the CLI commands for the outreach executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GeobookerMx/Geobooker3-sub001/internal/config"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/outreach"
	"github.com/GeobookerMx/Geobooker3-sub001/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// skipApp marks commands that run without building the application.
const skipApp = "skip-app"

// App defines the application interface that commands will use.
type App interface {
	Run(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Service() *outreach.Service
	Settings() *outreach.SettingsLoader
}

// newApp is the application factory. Tests replace it to inject a fake.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "outreach",
		Short: "WhatsApp outreach service for the Geobooker business directory.",
		Long: `outreach sends invitation messages to local businesses over WhatsApp.
Every send is gated by per-source daily quotas, a dedup check against all
prior outreach, and an optional cooldown, and is recorded for auditing.`,
		SilenceUsage: true,

		// Build the application before any subcommand that needs it.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipApp] == "true" {
				return nil
			}
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env OUTREACH_* overrides apply)")

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newQuotaCmd(),
		newSendCmd(),
		newSettingsCmd(),
		newNormalizeCmd(),
	)
	for _, sub := range cmd.Commands() {
		if sub.RunE != nil && sub.Annotations[skipApp] != "true" {
			sub.RunE = closeAfter(sub.RunE)
		}
	}
	return cmd
}

// closeAfter closes the application once run returns, whether or not it
// failed. Cobra skips post-run hooks on error, so this cannot live there.
func closeAfter(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				err = errors.Join(err, appInstance.Close(context.WithoutCancel(cmd.Context())))
			}
		}()
		return run(cmd, args)
	}
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
