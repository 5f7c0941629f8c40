package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nafkem/LansRealEstate/internal/bundle"
	"github.com/nafkem/LansRealEstate/internal/repository"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the selected network's deployments as a .tar.zst bundle",
	Long: `Pack the deployments directory of the selected network (deployment
records, deployed_addresses.json and journals) into a zstd-compressed tarball
with a checksum manifest.

Examples:
  lanseller export
  lanseller export --network base_sepolia --out chain-84532.tar.zst`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default chain-<id>.tar.zst)")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	name := networkName
	if name == "" {
		name = cfg.DefaultNetwork
	}
	network, err := cfg.Network(name)
	if err != nil {
		return err
	}

	dir := filepath.Join(cfg.Paths.Deployments, repository.ChainDir(network.ChainID))
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("no deployments recorded for chain %d in %s", network.ChainID, cfg.Paths.Deployments)
	}

	out := exportOut
	if out == "" {
		out = repository.ChainDir(network.ChainID) + ".tar.zst"
	}

	m, err := bundle.ExportFile(dir, out)
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(cmd.OutOrStdout(), map[string]any{"path": out, "manifest": m})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %d file(s) to %s\n", colorGreen("✓"), len(m.Files), out)
	return nil
}
