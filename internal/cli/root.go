package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "datascout",
	Short: "Automated data exploration with a language model and a live kernel",
	Long: `datascout asks a language model for a plan to explore a CSV dataset, then
for each step asks for Python code, runs it on a kernel and feeds the result
back. The session is saved as a Jupyter notebook.

Running 'datascout' without a subcommand is equivalent to 'datascout run'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to datascout.json or datascout.yaml (default: search up directory tree)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	// bare invocation runs a session, so it takes the run flags too
	addRunFlags(rootCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
