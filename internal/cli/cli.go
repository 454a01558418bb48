// Package cli wires the cobra command tree: serve runs the whole service,
// status queries a running instance, version prints build information.
package cli

import (
	"github.com/spf13/cobra"
)

// App is the CLI application. Commands resolve shared state (config path,
// version info) through the App they were built with.
type App struct {
	rootCmd *cobra.Command

	// configPath is the --config persistent flag value; empty means the
	// default lookup in config.Load.
	configPath string

	version string
	commit  string
	date    string
}

// New creates the CLI application with all commands registered.
func New() *App {
	app := &App{}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application.
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the build-time version information for the version command.
func (a *App) SetVersion(version, commit, date string) {
	a.version = version
	a.commit = commit
	a.date = date
}

// Root returns the root command. Exposed for command tests.
func (a *App) Root() *cobra.Command {
	return a.rootCmd
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "imq",
		Short: "Self-hosted merge queue for GitHub",
		Long: `imq watches a GitHub repository for a trigger label, queues labeled
pull requests per target branch, and merges them one at a time after
rebasing and running the configured checks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Path to config file (default \".imq.yaml\")")

	a.rootCmd.AddCommand(NewServeCmd(a))
	a.rootCmd.AddCommand(NewStatusCmd(a))
	a.rootCmd.AddCommand(NewVersionCmd(a))
}
