// Package cli provides the command-line interface for outagebot.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"outagebot/internal/app"
	"outagebot/internal/config"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

type globalFlags struct {
	configPath string
	envFile    string
}

// NewRootCmd builds the command tree. Without a subcommand it runs the bot.
func NewRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "outagebot",
		Short:         "Outage schedule change notifier for Telegram",
		Long:          "outagebot polls the Zakarpattia oblenergo outage announcement, stores every fetch, detects new paragraphs and notifies Telegram subscribers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "./config.yaml", "path to config file (json or yaml)")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file with OUTAGEBOT_* overrides (ignored when missing)")

	run := newRunCmd(g)
	root.RunE = run.RunE
	root.AddCommand(run, newFetchCmd(g), newPruneCmd(g), newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "outagebot %s (%s)\n", Version, Commit)
		},
	}
}

// loadConfig loads the dotenv file, environment overrides and the config file.
func (g *globalFlags) loadConfig() (*config.ConfigManager, error) {
	if err := config.LoadDotEnv(g.envFile); err != nil {
		return nil, err
	}
	env, err := config.ReadEnv()
	if err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	m := config.NewConfigManager(g.configPath)
	m.SetEnv(env)
	if _, err := m.Load(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return m, nil
}

func (g *globalFlags) openApp() (*app.App, error) {
	m, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	return app.NewApp(m)
}
