package deployer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/nafkem/LansRealEstate/internal/ignition"
	"github.com/nafkem/LansRealEstate/internal/repository"
)

// Action is what a deploy run would do with a future.
type Action string

const (
	ActionDeploy Action = "deploy"
	ActionReuse  Action = "reuse"
)

// PlannedFuture describes one future in a dry run.
type PlannedFuture struct {
	FutureID     string
	ContractName string
	Batch        int
	Action       Action
	// Address is set for reused futures.
	Address common.Address
	// Dependencies lists future IDs this one waits for.
	Dependencies []string
	// GasEstimate is zero when the future depends on contracts that are not
	// deployed yet.
	GasEstimate uint64
}

// Plan is the result of a dry run.
type Plan struct {
	ModuleID string
	ChainID  int64
	Deployer common.Address
	Nonce    uint64
	Futures  []PlannedFuture
}

// ToDeploy counts futures that would send a transaction.
func (p *Plan) ToDeploy() int {
	n := 0
	for _, f := range p.Futures {
		if f.Action == ActionDeploy {
			n++
		}
	}
	return n
}

// Plan checks the chain and artifacts and reports what Deploy would do,
// without taking the lock or sending transactions.
func (d *Deployer) Plan(ctx context.Context, mod *ignition.Module) (*Plan, error) {
	chainID, err := d.checkChain(ctx)
	if err != nil {
		return nil, err
	}
	arts, err := d.loadArtifacts(mod)
	if err != nil {
		return nil, err
	}

	nonce, err := d.client.PendingNonceAt(ctx, d.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("get pending nonce: %w", err)
	}

	known := make(map[string]common.Address)
	dep, err := d.repo.FindDeployment(ctx, mod.ID(), chainID)
	switch {
	case err == nil:
		results, err := d.repo.GetFutureResults(ctx, dep.ID)
		if err != nil {
			return nil, fmt.Errorf("load future results: %w", err)
		}
		for _, r := range results {
			addr := common.HexToAddress(r.Address)
			code, err := d.client.CodeAt(ctx, addr, nil)
			if err != nil {
				return nil, fmt.Errorf("get code at %s: %w", addr.Hex(), err)
			}
			if len(code) > 0 {
				known[r.FutureID] = addr
			}
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("find deployment: %w", err)
	}

	plan := &Plan{
		ModuleID: mod.ID(),
		ChainID:  chainID,
		Deployer: d.signer.Address(),
		Nonce:    nonce,
	}
	for i, batch := range mod.Batches() {
		for _, f := range batch {
			pf := PlannedFuture{
				FutureID:     f.ID(),
				ContractName: f.ContractName(),
				Batch:        i,
				Action:       ActionDeploy,
			}
			for _, dd := range f.Dependencies() {
				pf.Dependencies = append(pf.Dependencies, dd.ID())
			}

			if addr, ok := known[f.ID()]; ok {
				pf.Action = ActionReuse
				pf.Address = addr
				plan.Futures = append(plan.Futures, pf)
				continue
			}

			args, err := resolveArgs(f, func(id string) (common.Address, bool) {
				addr, ok := known[id]
				return addr, ok
			})
			if err == nil {
				data, err := arts[f.ContractName()].DeployData(args...)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", f.ID(), err)
				}
				value := f.Value()
				if value == nil {
					value = new(big.Int)
				}
				gas, err := d.client.EstimateGas(ctx, ethereum.CallMsg{
					From:  d.signer.Address(),
					Value: value,
					Data:  data,
				})
				if err == nil {
					pf.GasEstimate = withBuffer(gas, d.cfg.GasBufferPercent)
				}
			}
			plan.Futures = append(plan.Futures, pf)
		}
	}
	return plan, nil
}
