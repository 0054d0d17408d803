package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the command tree. Each call returns an independent tree
// so flag state never leaks between executions.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "crew",
		Short: "crew - multi-agent research pipelines",
		Long: `crew runs teams of language-model agents through a task pipeline.
Each task is handled by one agent, can reference earlier results through
{placeholders}, and the final task compiles everything into one report.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default is $HOME/.crew/crew.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	cmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	cmd.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newTeamCmd(opts),
		newRunsCmd(opts),
	)
	return cmd
}

// Execute runs the crew command line.
// This is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// GetRootCmd returns a fresh root command for testing
func GetRootCmd() *cobra.Command {
	return NewRootCmd()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
