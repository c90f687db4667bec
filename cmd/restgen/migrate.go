package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"restgen.dev/internal/config"
	"restgen.dev/internal/migrate"
	"restgen.dev/internal/store/pg"
)

type migrateOptions struct {
	root     *rootOptions
	seedsDir string
	timeout  time.Duration
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	opts := &migrateOptions{root: root}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
		Long: `Applies the embedded system migrations (organizations, users, roles,
assignments, audit logs) followed by the files in database.migrations_dir,
which hold the tables of the registered models.`,
	}
	cmd.PersistentFlags().StringVar(&opts.seedsDir, "seeds", "", "directory of SQL seed files")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager, _ *pg.Store, _ *config.Config) error {
				applied, err := mgr.Up(ctx)
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
				}
				if err == nil && len(applied) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to apply")
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Revert the last applied migration",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager, _ *pg.Store, _ *config.Config) error {
				name, err := mgr.Down(ctx)
				if errors.Is(err, migrate.ErrNothingApplied) {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to revert")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "reverted", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager, _ *pg.Store, _ *config.Config) error {
				history, err := mgr.Status(ctx)
				if err != nil {
					return err
				}
				for _, item := range history {
					fmt.Fprintln(cmd.OutOrStdout(), item)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Run SQL seeds, then load the YAML directory seed file",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager, st *pg.Store, cfg *config.Config) error {
				if opts.seedsDir != "" {
					ran, err := mgr.Seed(ctx)
					if err != nil {
						return err
					}
					for _, name := range ran {
						fmt.Fprintln(cmd.OutOrStdout(), "seeded", name)
					}
				}
				if cfg.SeedFile == "" {
					return nil
				}
				sum, err := seedFile(ctx, st.Writer(), cfg.SeedFile)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "directory: %d organizations, %d roles, %d users, %d assignments\n",
					sum.Organizations, sum.Roles, sum.Users, sum.Assignments)
				return nil
			}),
		},
	)
	return cmd
}

type migrateFunc func(ctx context.Context, cmd *cobra.Command, mgr *migrate.Manager, st *pg.Store, cfg *config.Config) error

func (o *migrateOptions) run(fn migrateFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := o.root.load()
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "postgres" {
			return fmt.Errorf("migrate: database.driver is %q, want postgres", cfg.Database.Driver)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
		defer cancel()

		st, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
		if err != nil {
			return err
		}
		defer st.Close()

		sources := []fs.FS{migrate.System()}
		if dir := cfg.Database.MigrationsDir; dir != "" {
			sources = append(sources, os.DirFS(dir))
		}
		var mopts []migrate.Option
		if o.seedsDir != "" {
			mopts = append(mopts, migrate.WithSeeds(os.DirFS(o.seedsDir)))
		}
		return fn(ctx, cmd, migrate.NewManager(st.DB(), sources, mopts...), st, cfg)
	}
}
