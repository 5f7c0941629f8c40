package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nafkem/LansRealEstate/internal/artifacts"
	"github.com/nafkem/LansRealEstate/internal/repository"
	"github.com/nafkem/LansRealEstate/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a deployed module on the block explorer",
	Long: `Submit the standard-JSON compiler input of every contract in a finished
deployment to the network's Etherscan-compatible explorer.

Requires API_KEY. Contracts that are already verified are reported and skipped.

Examples:
  lanseller verify
  lanseller verify --network base_sepolia --module LansellerModule`,
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	netName, network, err := a.network()
	if err != nil {
		return err
	}

	dep, err := a.repo.FindDeployment(ctx, moduleID, network.ChainID)
	if err != nil {
		return fmt.Errorf("no deployment of %s on chain %d: %w", moduleID, network.ChainID, err)
	}
	if dep.Status != repository.StatusCompleted {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s deployment status is %s; verifying recorded contracts only\n",
			colorYellow("⚠"), dep.Status)
	}

	results, err := a.repo.GetFutureResults(ctx, dep.ID)
	if err != nil {
		return err
	}
	return runVerification(cmd, a, netName, results)
}

// runVerification verifies results on the explorer configured for netName.
func runVerification(cmd *cobra.Command, a *app, netName string, results []repository.FutureResult) error {
	chain, ok := a.cfg.CustomChain(netName)
	if !ok {
		return fmt.Errorf("no explorer configured for network %q", netName)
	}
	client, err := verify.NewClient(chain, a.cfg.Etherscan.APIKey, verify.WithLogger(a.logger))
	if err != nil {
		return err
	}

	outcomes := verify.Deployment(cmd.Context(), client, artifacts.NewStore(a.cfg.Paths.Artifacts), results)

	out := cmd.OutOrStdout()
	failed := 0
	if jsonOut {
		type row struct {
			FutureID string `json:"futureId"`
			Address  string `json:"address"`
			Status   string `json:"status"`
			URL      string `json:"url,omitempty"`
			Error    string `json:"error,omitempty"`
		}
		rows := make([]row, 0, len(outcomes))
		for _, o := range outcomes {
			r := row{FutureID: o.FutureID, Address: o.Address.Hex()}
			if o.Err != nil {
				failed++
				r.Status = string(verify.StatusFailed)
				r.Error = o.Err.Error()
			} else {
				r.Status = string(o.Outcome.Status)
				r.URL = o.Outcome.URL
			}
			rows = append(rows, r)
		}
		if err := printJSON(out, rows); err != nil {
			return err
		}
	} else {
		w := newTable(out)
		printTableHeader(w, "FUTURE", "STATUS", "DETAIL")
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
				fmt.Fprintf(w, "%s\t%s\t%s\n", o.FutureID, colorRed("failed"), o.Err.Error())
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", o.FutureID, colorGreen(string(o.Outcome.Status)), o.Outcome.URL)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d contract(s) failed verification", failed, len(outcomes))
	}
	return nil
}
