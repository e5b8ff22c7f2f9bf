package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iambrandonn/datascout/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the datascout configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to --config, or to datascout.json in the
current directory. API keys are never written; export OPENAI_API_KEY or
GEMINI_API_KEY instead.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configInitCmd.Flags().String("format", "", "File format: json or yaml (default: from the file extension)")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	force, _ := cmd.Flags().GetBool("force")

	if path == "" {
		switch strings.ToLower(format) {
		case "", "json":
			path = config.DefaultFileName
		case "yaml", "yml":
			path = "datascout.yaml"
		default:
			return fmt.Errorf("unsupported format %q (use json or yaml)", format)
		}
	} else if format != "" {
		ext := strings.ToLower(filepath.Ext(path))
		if (format == "json") != (ext == ".json") {
			return fmt.Errorf("--format %s does not match %s", format, path)
		}
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.GenerateDefault().SaveToFile(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
