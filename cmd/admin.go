package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"resetwatch/config"
	"resetwatch/core/appbootstrap"
	"resetwatch/core/auth"
	"resetwatch/core/backups"
	"resetwatch/core/store"
)

func migrateCommand(ctx *Context) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := appbootstrap.OpenDatabase(cmd.Context(), ctx.Config, ctx.Logger)
			if err != nil {
				return err
			}
			defer db.Close()
			version, err := store.SchemaVersion(cmd.Context(), db, store.DialectFor(ctx.Config))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return nil
		},
	}
}

func hashKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "hash-key <plain-key>",
		Short:       "Print the bcrypt hash for an api.keys entry",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skip-config": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func configCommand(ctx *Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "init [path]",
		Short:       "Write a config file with every default filled in",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skip-config": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			if err := config.WriteDefault(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	})
	return cmd
}

func backupCommand(ctx *Context) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "backup [label]",
		Short: "Snapshot the SQLite database into backup.dir",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := appbootstrap.OpenDatabase(cmd.Context(), ctx.Config, ctx.Logger)
			if err != nil {
				return err
			}
			defer db.Close()
			svc := backups.NewService(ctx.Config.Backup, db, store.DialectFor(ctx.Config), ctx.Logger.With("backups"))
			if list {
				items, err := svc.ListArtifacts()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), items)
			}
			label := ""
			if len(args) == 1 {
				label = args[0]
			}
			artifact, err := svc.CreateBackup(cmd.Context(), label)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), artifact)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list existing backups instead of creating one")
	return cmd
}
