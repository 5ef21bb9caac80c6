package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pgfgate",
	Short: "pgfgate is the session gateway for the PGF fleet console",
	Long: `A session gateway that keeps fleet API tokens in HttpOnly cookies and
proxies console calls to the fleet backend.

Settings come from flags, PGF_* environment variables (plus
NEXT_PUBLIC_API_BASE_URL for the backend host) and an optional config file.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (yaml, json or toml)")
}
