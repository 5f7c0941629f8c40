// Command lanseller deploys and verifies the LansRealEstate contracts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nafkem/LansRealEstate/internal/config"
	"github.com/nafkem/LansRealEstate/internal/modules"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Global flags
	configDir   string
	envFile     string
	networkName string
	moduleID    string
	jsonOut     bool
)

var rootCmd = &cobra.Command{
	Use:   "lanseller",
	Short: "Deploy and verify the LansRealEstate contracts",
	Long: `lanseller deploys the LansellerModule (Token, Verifier and LanSeller) to an
EVM network and verifies the sources on the network's block explorer.

Environment variables:
  PRIVATE_KEY  - deployer private key (required)
  API_URL      - RPC endpoint (default https://sepolia.base.org)
  API_KEY      - block explorer API key (needed for verify)
  DEBUG        - set to "true" for debug logging

Other settings use the LANSELLER_ prefix, e.g. LANSELLER_DATABASE_DSN, or
lanseller.yaml in the working directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "lanseller version %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory containing lanseller.yaml (default . and ./config)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load")
	rootCmd.PersistentFlags().StringVarP(&networkName, "network", "n", "", "network name (default from config)")
	rootCmd.PersistentFlags().StringVarP(&moduleID, "module", "m", modules.LansellerModuleID, "deployment module ID")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		printError(err)
		if errors.Is(err, config.ErrMissingPrivateKey) {
			fmt.Fprintln(os.Stderr, "  Set PRIVATE_KEY in the environment or in .env before running lanseller.")
		}
		os.Exit(1)
	}
}
