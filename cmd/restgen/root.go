package main

import (
	"github.com/spf13/cobra"

	"restgen.dev/internal/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configFile)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "restgen",
		Short: "Model-driven REST API server",
		Long: `restgen reads a registry of model definitions and serves CRUD,
soft-delete, audit trail and nested batch endpoints for each of them.

Settings come from .env, the --config YAML file and RESTGEN_ prefixed
environment variables, e.g. RESTGEN_SERVER_ADDR or RESTGEN_AUTH_SECRET.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("restgen {{.Version}} (" + commit + ")\n")
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "YAML config file")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newRoutesCmd(opts),
		newHashPasswordCmd(),
	)
	return cmd
}
