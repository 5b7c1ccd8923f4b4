// Package cli implements the mailtrack command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const configEnvVar = "MAILTRACK_CONFIG"
const defaultEnvFile = ".env"

var rootCmd = &cobra.Command{
	Use:   "mailtrack",
	Short: "mailtrack correlates outbound batch mail with tracked replies",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the YAML config file")
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(pollCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(logsCmd)
}

func resolveConfigPath(cmd *cobra.Command) (string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", err
	}
	if path == "" {
		path = os.Getenv(configEnvVar)
	}
	if path == "" {
		path = "mailtrack.yaml"
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("config file %q not found (set --config or %s)", path, configEnvVar)
	}
	return path, nil
}
