package main

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/nafkem/LansRealEstate/internal/artifacts"
	"github.com/nafkem/LansRealEstate/internal/deployer"
	"github.com/nafkem/LansRealEstate/internal/repository"
	"github.com/nafkem/LansRealEstate/internal/signer"
)

var (
	deployDryRun bool
	deployVerify bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy a module to the selected network",
	Long: `Deploy the module's contracts in dependency order. Token and Verifier are
deployed first; LanSeller is deployed with their addresses as constructor
arguments.

A deployment that stopped part way is resumed: contracts already recorded in
the journal and present on chain are reused.

Examples:
  lanseller deploy
  lanseller deploy --network base_sepolia --verify
  lanseller deploy --dry-run`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployDryRun, "dry-run", false, "show what would be deployed without sending transactions")
	deployCmd.Flags().BoolVar(&deployVerify, "verify", false, "verify contracts on the block explorer after deploying")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	mod, err := selectedModule()
	if err != nil {
		return err
	}
	netName, network, err := a.network()
	if err != nil {
		return err
	}

	s, err := signer.NewLocalSigner(network.Accounts[0], network.ChainID)
	if err != nil {
		return err
	}

	client, err := ethclient.DialContext(ctx, network.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC: %w", err)
	}
	defer client.Close()

	out := cmd.OutOrStdout()
	opts := []deployer.Option{
		deployer.WithLogger(a.logger),
		deployer.WithLocker(a.locker),
	}
	if !jsonOut {
		opts = append(opts, deployer.WithProgress(func(futureID string, done, total int) {
			fmt.Fprintf(out, "%s [%d/%d] %s\n", colorGreen("✓"), done, total, futureID)
		}))
	}

	d := deployer.New(client, s, artifacts.NewStore(a.cfg.Paths.Artifacts), a.repo, deployer.ConfigFrom(a.cfg.Deploy), opts...)

	a.logger.Info("deploying",
		slog.String("module", mod.ID()),
		slog.String("network", netName),
		slog.String("deployer", s.Address().Hex()),
	)

	if deployDryRun {
		plan, err := d.Plan(ctx, mod)
		if err != nil {
			return err
		}
		return printPlan(cmd, plan)
	}

	res, err := d.Deploy(ctx, mod)
	if err != nil {
		return err
	}
	if err := printResult(cmd, res); err != nil {
		return err
	}

	if deployVerify {
		results := make([]repository.FutureResult, 0, len(res.Futures))
		for _, f := range res.Futures {
			results = append(results, f)
		}
		sort.Slice(results, func(i, j int) bool { return results[i].FutureID < results[j].FutureID })
		return runVerification(cmd, a, netName, results)
	}
	return nil
}

func printPlan(cmd *cobra.Command, plan *deployer.Plan) error {
	out := cmd.OutOrStdout()
	if jsonOut {
		return printJSON(out, plan)
	}

	fmt.Fprintf(out, "Module:   %s\n", plan.ModuleID)
	fmt.Fprintf(out, "Chain ID: %d\n", plan.ChainID)
	fmt.Fprintf(out, "Deployer: %s (nonce %d)\n\n", plan.Deployer.Hex(), plan.Nonce)

	w := newTable(out)
	printTableHeader(w, "BATCH", "FUTURE", "ACTION", "DEPENDS ON", "GAS / ADDRESS")
	for _, f := range plan.Futures {
		detail := "-"
		switch {
		case f.Action == deployer.ActionReuse:
			detail = f.Address.Hex()
		case f.GasEstimate > 0:
			detail = fmt.Sprintf("%d", f.GasEstimate)
		}
		deps := strings.Join(f.Dependencies, ",")
		if deps == "" {
			deps = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", f.Batch, f.FutureID, f.Action, deps, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d transaction(s) would be sent\n", plan.ToDeploy())
	return nil
}

func printResult(cmd *cobra.Command, res *deployer.Result) error {
	out := cmd.OutOrStdout()
	if jsonOut {
		addrs := make(map[string]string, len(res.Addresses))
		for name, addr := range res.Addresses {
			addrs[name] = addr.Hex()
		}
		return printJSON(out, map[string]any{
			"deploymentId": res.DeploymentID,
			"moduleId":     res.ModuleID,
			"chainId":      res.ChainID,
			"addresses":    addrs,
			"sent":         res.Sent,
		})
	}

	names := make([]string, 0, len(res.Addresses))
	for name := range res.Addresses {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "\n%s deployed to chain %d (%d transaction(s) sent)\n\n", res.ModuleID, res.ChainID, res.Sent)
	w := newTable(out)
	printTableHeader(w, "RESULT", "ADDRESS")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, res.Addresses[name].Hex())
	}
	return w.Flush()
}
