package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nafkem/LansRealEstate/internal/repository"
	"github.com/nafkem/LansRealEstate/internal/server"
)

var statusAll bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recorded deployments",
	Long: `Show the selected module's deployment on the selected network: status,
contract addresses and the transaction journal. With --all, list every
recorded deployment.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "list every recorded deployment")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()

	if statusAll {
		deps, err := a.repo.ListDeployments(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(out, deps)
		}
		if len(deps) == 0 {
			fmt.Fprintln(out, "No deployments recorded")
			return nil
		}
		w := newTable(out)
		printTableHeader(w, "MODULE", "CHAIN", "STATUS", "DEPLOYER", "UPDATED")
		for _, d := range deps {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", d.ModuleID, d.ChainID, statusColor(d.Status), d.Deployer,
				d.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	}

	_, network, err := a.network()
	if err != nil {
		return err
	}
	dep, err := a.repo.FindDeployment(ctx, moduleID, network.ChainID)
	if err != nil {
		return fmt.Errorf("no deployment of %s on chain %d: %w", moduleID, network.ChainID, err)
	}
	futures, err := a.repo.GetFutureResults(ctx, dep.ID)
	if err != nil {
		return err
	}
	journal, err := a.repo.GetJournal(ctx, dep.ID)
	if err != nil {
		return err
	}

	if jsonOut {
		view := server.DeploymentView{
			Deployment: dep,
			Addresses:  make(map[string]string, len(futures)),
			Futures:    futures,
			Journal:    journal,
		}
		for _, f := range futures {
			view.Addresses[f.FutureID] = f.Address
		}
		return printJSON(out, view)
	}

	fmt.Fprintf(out, "Deployment: %s\n", dep.ID)
	fmt.Fprintf(out, "Module:     %s\n", dep.ModuleID)
	fmt.Fprintf(out, "Chain ID:   %d\n", dep.ChainID)
	fmt.Fprintf(out, "Deployer:   %s\n", dep.Deployer)
	fmt.Fprintf(out, "Status:     %s\n", statusColor(dep.Status))
	if dep.ErrorMessage != nil {
		fmt.Fprintf(out, "Error:      %s\n", *dep.ErrorMessage)
	}

	fmt.Fprintln(out)
	w := newTable(out)
	printTableHeader(w, "FUTURE", "ADDRESS", "BLOCK", "TX")
	for _, f := range futures {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.FutureID, f.Address, strconv.FormatUint(f.BlockNumber, 10), f.TxHash)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	w = newTable(out)
	printTableHeader(w, "TIME", "EVENT", "FUTURE", "DETAIL")
	for _, e := range journal {
		detail := e.TxHash
		if e.Address != "" {
			detail = e.Address
		}
		if e.Message != "" {
			detail = e.Message
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format("15:04:05"), e.Type, dash(e.FutureID), dash(detail))
	}
	return w.Flush()
}

func statusColor(s repository.Status) string {
	switch s {
	case repository.StatusCompleted:
		return colorGreen(string(s))
	case repository.StatusFailed:
		return colorRed(string(s))
	default:
		return colorYellow(string(s))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
