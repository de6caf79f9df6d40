package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"resetwatch/config"
	"resetwatch/core/utils"
)

const defaultConfigPath = "config.yaml"

// Context carries what PersistentPreRunE prepared for the subcommands.
type Context struct {
	ConfigPath string
	LogLevel   string
	Config     *config.AppConfig
	Logger     *utils.Logger
}

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	ctx := &Context{}
	rootCmd := &cobra.Command{
		Use:           "resetwatch",
		Short:         "Politics & War espionage reset tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	path := os.Getenv("RESETWATCH_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigPath, "config", "c", path, "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&ctx.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCommand(ctx),
		indexCommand(ctx),
		checkCommand(ctx),
		statsCommand(ctx),
		reportCommand(ctx),
		migrateCommand(ctx),
		backupCommand(ctx),
		hashKeyCommand(),
		configCommand(ctx),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["skip-config"] == "true" {
			return nil
		}
		return ctx.load()
	}
	return rootCmd
}

func (c *Context) load() error {
	cfg, err := config.Load(c.ConfigPath)
	if err != nil {
		return err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.Config = cfg
	c.Logger = utils.NewLoggerWithOptions(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return nil
}
