package cli

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestRootCommandIncludesRunFlags(t *testing.T) {
	datasetFlag := lookupFlag(rootCmd, "dataset")
	require.NotNil(t, datasetFlag, "root command should expose the --dataset flag")
	require.Equal(t, "f", datasetFlag.Shorthand, "root dataset flag shorthand mismatch")

	for _, name := range []string{"model", "provider", "script", "output", "max-steps", "metrics-addr", "verbose"} {
		require.NotNil(t, lookupFlag(rootCmd, name), "root command should expose --%s", name)
	}
}

func TestRootCommandDelegatesToRun(t *testing.T) {
	originalRunE := runCmd.RunE
	t.Cleanup(func() {
		runCmd.RunE = originalRunE
		resetFlag(rootCmd, "dataset")
		rootCmd.SetArgs(nil)
	})

	called := false
	runCmd.RunE = func(cmd *cobra.Command, args []string) error {
		called = true
		dataset, err := cmd.Flags().GetString("dataset")
		require.NoError(t, err)
		require.Equal(t, "penguins.csv", dataset)
		return nil
	}

	rootCmd.SetArgs([]string{"--dataset", "penguins.csv"})
	err := rootCmd.Execute()
	require.NoError(t, err)
	require.True(t, called, "root command should delegate to run command")
}

func TestRootCommandSubcommands(t *testing.T) {
	for _, name := range []string{"run", "replay", "config"} {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err)
		require.Equal(t, name, cmd.Name())
	}
}

func resetFlag(cmd *cobra.Command, name string) {
	if flag := lookupFlag(cmd, name); flag != nil {
		_ = flag.Value.Set(flag.DefValue)
		flag.Changed = false
	}
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag
	}
	return cmd.PersistentFlags().Lookup(name)
}
