// Package deployer executes ignition modules against an Ethereum JSON-RPC
// endpoint.
//
// Futures are deployed batch by batch in dependency order. Every confirmed
// future is written to the repository before the next one is sent, so an
// interrupted deployment resumes where it stopped: futures with a recorded
// address and code on chain are not sent again.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/nafkem/LansRealEstate/internal/artifacts"
	"github.com/nafkem/LansRealEstate/internal/config"
	"github.com/nafkem/LansRealEstate/internal/ignition"
	"github.com/nafkem/LansRealEstate/internal/lock"
	"github.com/nafkem/LansRealEstate/internal/metrics"
	"github.com/nafkem/LansRealEstate/internal/repository"
	"github.com/nafkem/LansRealEstate/internal/signer"
)

// ArtifactLoader resolves contract names to compiled artifacts.
type ArtifactLoader interface {
	Load(name string) (*artifacts.ContractArtifact, error)
	LoadAll(names []string) (map[string]*artifacts.ContractArtifact, error)
}

var _ ArtifactLoader = (*artifacts.Store)(nil)

// ProgressFunc is called after each future is deployed or reused.
type ProgressFunc func(futureID string, done, total int)

// Config tunes transaction submission.
type Config struct {
	PollInterval     time.Duration
	ReceiptTimeout   time.Duration
	GasBufferPercent uint64
	FallbackGasLimit uint64
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// ConfigFrom converts loaded configuration into deployer settings.
func ConfigFrom(c config.DeployConfig) Config {
	return Config{
		PollInterval:     c.PollInterval,
		ReceiptTimeout:   c.ReceiptTimeout,
		GasBufferPercent: c.GasBufferPercent,
		FallbackGasLimit: c.FallbackGasLimit,
		MaxRetries:       c.MaxRetries,
	}
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 5 * time.Minute
	}
	if c.FallbackGasLimit == 0 {
		c.FallbackGasLimit = 10_000_000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Deployer) { d.logger = l }
}

// WithLocker sets the deploy lock. The default is lock.Noop.
func WithLocker(l lock.Locker) Option {
	return func(d *Deployer) { d.locker = l }
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Deployer) { d.progress = fn }
}

// Deployer deploys modules for one signer on one chain. It is not safe for
// concurrent use; the lock keeps separate processes apart.
type Deployer struct {
	client    Client
	signer    signer.TransactionSigner
	artifacts ArtifactLoader
	repo      repository.Repository
	locker    lock.Locker
	logger    *slog.Logger
	progress  ProgressFunc
	cfg       Config
	now       func() time.Time

	nonce    uint64
	hasNonce bool
}

// New creates a Deployer.
func New(
	client Client,
	s signer.TransactionSigner,
	loader ArtifactLoader,
	repo repository.Repository,
	cfg Config,
	opts ...Option,
) *Deployer {
	cfg.applyDefaults()
	d := &Deployer{
		client:    client,
		signer:    s,
		artifacts: loader,
		repo:      repo,
		locker:    lock.Noop{},
		logger:    slog.Default(),
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Result is the outcome of a deployment run.
type Result struct {
	DeploymentID uuid.UUID
	ModuleID     string
	ChainID      int64
	// Addresses maps module result names to contract addresses.
	Addresses map[string]common.Address
	// Futures maps future IDs to their recorded results.
	Futures map[string]repository.FutureResult
	// Sent is the number of transactions broadcast during this run.
	Sent int
}

// Deploy runs mod to completion, resuming a previous run of the same module
// on the same chain.
func (d *Deployer) Deploy(ctx context.Context, mod *ignition.Module) (*Result, error) {
	chainID, err := d.checkChain(ctx)
	if err != nil {
		return nil, err
	}

	arts, err := d.loadArtifacts(mod)
	if err != nil {
		return nil, err
	}

	lease, err := d.locker.Acquire(ctx, lock.Key(chainID, d.signer.Address().Hex()))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			d.logger.Warn("failed to release deploy lock", slog.String("error", err.Error()))
		}
	}()

	// Stop in-flight work if the lock is taken over mid-run.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-lease.Lost():
			cancel(lock.ErrLeaseLost)
		case <-ctx.Done():
		}
	}()

	dep, err := d.openDeployment(ctx, mod.ID(), chainID)
	if err != nil {
		return nil, err
	}

	logger := d.logger.With(
		slog.String("module", mod.ID()),
		slog.Int64("chain_id", chainID),
		slog.String("deployment_id", dep.ID.String()),
	)

	recorded, err := d.repo.GetFutureResults(ctx, dep.ID)
	if err != nil {
		return nil, fmt.Errorf("load future results: %w", err)
	}
	results := make(map[string]repository.FutureResult, len(recorded))
	for _, r := range recorded {
		results[r.FutureID] = r
	}

	pending, err := d.pendingTransactions(ctx, dep.ID)
	if err != nil {
		return nil, err
	}

	if err := d.repo.UpdateDeploymentStatus(ctx, dep.ID, repository.StatusRunning); err != nil {
		return nil, fmt.Errorf("update deployment status: %w", err)
	}
	d.journal(ctx, &repository.JournalEntry{
		DeploymentID: dep.ID,
		Type:         repository.EventDeploymentStart,
		Message:      fmt.Sprintf("deployer %s", d.signer.Address().Hex()),
	})

	st := &run{
		Deployer:  d,
		logger:    logger,
		dep:       dep,
		arts:      arts,
		results:   results,
		pending:   pending,
		addresses: make(map[string]common.Address, len(mod.Futures())),
		total:     len(mod.Futures()),
	}

	for _, batch := range mod.Batches() {
		for _, f := range batch {
			err := leaseHeld(lease)
			if err == nil {
				err = st.execute(ctx, f)
			}
			if err != nil {
				if cause := context.Cause(ctx); errors.Is(cause, lock.ErrLeaseLost) && !errors.Is(err, cause) {
					err = fmt.Errorf("%w: %w", cause, err)
				}
				return nil, d.fail(ctx, dep.ID, f, err)
			}
		}
	}

	if err := d.repo.UpdateDeploymentStatus(ctx, dep.ID, repository.StatusCompleted); err != nil {
		return nil, fmt.Errorf("update deployment status: %w", err)
	}
	d.journal(ctx, &repository.JournalEntry{
		DeploymentID: dep.ID,
		Type:         repository.EventDeploymentComplete,
	})

	out := &Result{
		DeploymentID: dep.ID,
		ModuleID:     mod.ID(),
		ChainID:      chainID,
		Addresses:    make(map[string]common.Address),
		Futures:      st.results,
		Sent:         st.sent,
	}
	for name, f := range mod.Results() {
		out.Addresses[name] = st.addresses[f.ID()]
	}

	logger.Info("deployment complete",
		slog.Int("futures", st.total),
		slog.Int("transactions_sent", st.sent),
	)
	return out, nil
}

func leaseHeld(l lock.Lease) error {
	select {
	case <-l.Lost():
		return lock.ErrLeaseLost
	default:
		return nil
	}
}

// checkChain verifies the endpoint serves the signer's chain.
func (d *Deployer) checkChain(ctx context.Context) (int64, error) {
	rpcChainID, err := d.client.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("get chain ID: %w", err)
	}
	if rpcChainID.Cmp(d.signer.ChainID()) != 0 {
		return 0, fmt.Errorf("%w: endpoint reports %s, network expects %s",
			ErrChainIDMismatch, rpcChainID, d.signer.ChainID())
	}
	return rpcChainID.Int64(), nil
}

// loadArtifacts loads every contract the module names and checks that each
// has deployable bytecode.
func (d *Deployer) loadArtifacts(mod *ignition.Module) (map[string]*artifacts.ContractArtifact, error) {
	names := make([]string, 0, len(mod.Futures()))
	for _, f := range mod.Futures() {
		names = append(names, f.ContractName())
	}
	arts, err := d.artifacts.LoadAll(names)
	if err != nil {
		return nil, err
	}
	for _, a := range arts {
		if _, err := a.BytecodeBytes(); err != nil {
			return nil, err
		}
	}
	return arts, nil
}

// openDeployment finds the deployment record for the module or creates one.
func (d *Deployer) openDeployment(ctx context.Context, moduleID string, chainID int64) (*repository.Deployment, error) {
	dep, err := d.repo.FindDeployment(ctx, moduleID, chainID)
	if err == nil {
		d.logger.Info("resuming deployment",
			slog.String("module", moduleID),
			slog.String("deployment_id", dep.ID.String()),
			slog.String("previous_status", string(dep.Status)),
		)
		return dep, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("find deployment: %w", err)
	}

	dep = &repository.Deployment{
		ModuleID: moduleID,
		ChainID:  chainID,
		Deployer: d.signer.Address().Hex(),
		Status:   repository.StatusPending,
	}
	if err := d.repo.CreateDeployment(ctx, dep); err != nil {
		return nil, fmt.Errorf("create deployment: %w", err)
	}
	return dep, nil
}

// pendingTx is a journaled transaction without a confirmation.
type pendingTx struct {
	hash  common.Hash
	nonce *uint64
}

// pendingTransactions returns the last sent transaction of every future
// that has no confirmation in the journal. A failure does not clear the
// entry: the transaction may still be mined after a receipt timeout.
func (d *Deployer) pendingTransactions(ctx context.Context, deploymentID uuid.UUID) (map[string]pendingTx, error) {
	entries, err := d.repo.GetJournal(ctx, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	pending := make(map[string]pendingTx)
	for _, e := range entries {
		switch e.Type {
		case repository.EventTxSent:
			pending[e.FutureID] = pendingTx{hash: common.HexToHash(e.TxHash), nonce: e.Nonce}
		case repository.EventTxConfirmed:
			delete(pending, e.FutureID)
		}
	}
	return pending, nil
}

// fail records a future failure and marks the deployment failed.
func (d *Deployer) fail(ctx context.Context, deploymentID uuid.UUID, f *ignition.ContractFuture, cause error) error {
	bg := context.WithoutCancel(ctx)
	err := fmt.Errorf("deploy %s: %w", f.ID(), cause)

	d.journal(bg, &repository.JournalEntry{
		DeploymentID: deploymentID,
		Type:         repository.EventFutureFailed,
		FutureID:     f.ID(),
		Message:      cause.Error(),
	})
	if rerr := d.repo.SetDeploymentError(bg, deploymentID, err.Error()); rerr != nil {
		d.logger.Error("failed to record deployment error", slog.String("error", rerr.Error()))
	}
	metrics.RecordDeployment(f.ContractName(), metrics.StatusFailure, 0)
	return err
}

func (d *Deployer) journal(ctx context.Context, e *repository.JournalEntry) {
	if err := d.repo.AppendJournal(ctx, e); err != nil {
		d.logger.Warn("failed to append journal entry",
			slog.String("type", string(e.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// run is the state of one Deploy call.
type run struct {
	*Deployer
	logger    *slog.Logger
	dep       *repository.Deployment
	arts      map[string]*artifacts.ContractArtifact
	results   map[string]repository.FutureResult
	pending   map[string]pendingTx
	addresses map[string]common.Address
	done      int
	total     int
	sent      int
}

func (r *run) execute(ctx context.Context, f *ignition.ContractFuture) error {
	reused, err := r.reuse(ctx, f)
	if err != nil {
		return err
	}
	if !reused {
		if err := r.deploy(ctx, f); err != nil {
			return err
		}
	}

	r.done++
	if r.progress != nil {
		r.progress(f.ID(), r.done, r.total)
	}
	return nil
}

// reuse adopts a recorded result when the address still has code, or a
// journaled transaction that was mined before the last run stopped.
func (r *run) reuse(ctx context.Context, f *ignition.ContractFuture) (bool, error) {
	if res, ok := r.results[f.ID()]; ok {
		addr := common.HexToAddress(res.Address)
		code, err := r.client.CodeAt(ctx, addr, nil)
		if err != nil {
			return false, fmt.Errorf("get code at %s: %w", addr.Hex(), err)
		}
		if len(code) > 0 {
			r.addresses[f.ID()] = addr
			r.logger.Info("reusing deployed contract",
				slog.String("future", f.ID()),
				slog.String("address", addr.Hex()),
			)
			metrics.RecordDeployment(f.ContractName(), metrics.StatusSkipped, 0)
			return true, nil
		}
		r.logger.Warn("recorded address has no code, redeploying",
			slog.String("future", f.ID()),
			slog.String("address", addr.Hex()),
		)
		delete(r.results, f.ID())
	}

	p, ok := r.pending[f.ID()]
	if !ok {
		return false, nil
	}
	receipt, err := r.pendingReceipt(ctx, f, p)
	if err != nil {
		return false, err
	}
	if receipt == nil {
		delete(r.pending, f.ID())
		return false, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		r.logger.Warn("journaled transaction reverted, redeploying",
			slog.String("future", f.ID()),
			slog.String("tx_hash", p.hash.Hex()),
		)
		delete(r.pending, f.ID())
		return false, nil
	}
	r.logger.Info("recovered transaction from journal",
		slog.String("future", f.ID()),
		slog.String("tx_hash", p.hash.Hex()),
	)
	var argsHex string
	if encoded, err := r.encodeArgs(f); err == nil && len(encoded) > 0 {
		argsHex = hexutil.Encode(encoded)
	}
	return true, r.record(ctx, f, receipt, argsHex, time.Time{})
}

// pendingReceipt resolves a journaled transaction. It returns a nil receipt
// when the transaction's nonce was released without it being mined, and
// otherwise waits for the transaction like a fresh send.
func (r *run) pendingReceipt(ctx context.Context, f *ignition.ContractFuture, p pendingTx) (*types.Receipt, error) {
	receipt, err := r.client.TransactionReceipt(ctx, p.hash)
	if err == nil {
		return receipt, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return nil, fmt.Errorf("get receipt for %s: %w", p.hash.Hex(), err)
	}

	if p.nonce != nil {
		released, err := r.nonceReleased(ctx, *p.nonce)
		if err != nil {
			return nil, err
		}
		if released {
			// The nonce may have been used by this very transaction since
			// the first lookup.
			receipt, err := r.client.TransactionReceipt(ctx, p.hash)
			if err == nil {
				return receipt, nil
			}
			if !errors.Is(err, ethereum.NotFound) {
				return nil, fmt.Errorf("get receipt for %s: %w", p.hash.Hex(), err)
			}
			r.logger.Warn("journaled transaction was dropped or replaced, redeploying",
				slog.String("future", f.ID()),
				slog.String("tx_hash", p.hash.Hex()),
				slog.Uint64("nonce", *p.nonce),
			)
			return nil, nil
		}
	}

	r.logger.Info("waiting for journaled transaction",
		slog.String("future", f.ID()),
		slog.String("tx_hash", p.hash.Hex()),
	)
	return r.waitForReceipt(ctx, p.hash)
}

// nonceReleased reports whether nonce was mined by another transaction or
// no longer has a transaction in the pool.
func (r *run) nonceReleased(ctx context.Context, nonce uint64) (bool, error) {
	addr := r.signer.Address()
	mined, err := r.client.NonceAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("get nonce: %w", err)
	}
	if mined > nonce {
		return true, nil
	}
	pending, err := r.client.PendingNonceAt(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("get pending nonce: %w", err)
	}
	return pending <= nonce, nil
}

func (r *run) deploy(ctx context.Context, f *ignition.ContractFuture) error {
	art := r.arts[f.ContractName()]

	code, err := art.BytecodeBytes()
	if err != nil {
		return err
	}
	encoded, err := r.encodeArgs(f)
	if err != nil {
		return err
	}
	data := append(append(make([]byte, 0, len(code)+len(encoded)), code...), encoded...)

	value := f.Value()
	if value == nil {
		value = new(big.Int)
	}

	r.logger.Info("deploying contract",
		slog.String("future", f.ID()),
		slog.String("contract", f.ContractName()),
	)

	tx, err := r.sendCreation(ctx, data, value)
	if err != nil {
		return err
	}
	r.sent++
	metrics.IncTransactionsSent()

	nonce := tx.nonce
	r.journal(ctx, &repository.JournalEntry{
		DeploymentID: r.dep.ID,
		Type:         repository.EventTxSent,
		FutureID:     f.ID(),
		TxHash:       tx.hash.Hex(),
		Nonce:        &nonce,
	})
	r.logger.Info("transaction sent",
		slog.String("future", f.ID()),
		slog.String("tx_hash", tx.hash.Hex()),
		slog.Uint64("nonce", tx.nonce),
	)

	receipt, err := r.waitForReceipt(ctx, tx.hash)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: tx %s", ErrDeploymentReverted, tx.hash.Hex())
	}

	var argsHex string
	if len(encoded) > 0 {
		argsHex = hexutil.Encode(encoded)
	}
	return r.record(ctx, f, receipt, argsHex, tx.at)
}

// record stores a confirmed future.
func (r *run) record(ctx context.Context, f *ignition.ContractFuture, receipt *types.Receipt, argsHex string, sentAt time.Time) error {
	addr := receipt.ContractAddress
	res := repository.FutureResult{
		DeploymentID:    r.dep.ID,
		FutureID:        f.ID(),
		ContractName:    f.ContractName(),
		Address:         addr.Hex(),
		TxHash:          receipt.TxHash.Hex(),
		BlockNumber:     receipt.BlockNumber.Uint64(),
		ConstructorArgs: argsHex,
	}
	if err := r.repo.SaveFutureResult(ctx, &res); err != nil {
		return fmt.Errorf("save future result: %w", err)
	}
	r.results[f.ID()] = res
	r.addresses[f.ID()] = addr
	delete(r.pending, f.ID())

	r.journal(ctx, &repository.JournalEntry{
		DeploymentID: r.dep.ID,
		Type:         repository.EventTxConfirmed,
		FutureID:     f.ID(),
		TxHash:       receipt.TxHash.Hex(),
		Address:      addr.Hex(),
	})

	var elapsed time.Duration
	if !sentAt.IsZero() {
		elapsed = r.now().Sub(sentAt)
	}
	metrics.RecordDeployment(f.ContractName(), metrics.StatusSuccess, elapsed)

	r.logger.Info("contract deployed",
		slog.String("future", f.ID()),
		slog.String("address", addr.Hex()),
		slog.Uint64("block", res.BlockNumber),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return nil
}

// encodeArgs resolves and ABI-encodes the constructor arguments of f.
func (r *run) encodeArgs(f *ignition.ContractFuture) ([]byte, error) {
	args, err := resolveArgs(f, func(id string) (common.Address, bool) {
		addr, ok := r.addresses[id]
		return addr, ok
	})
	if err != nil {
		return nil, err
	}
	return r.arts[f.ContractName()].EncodeConstructorArgs(args...)
}

func resolveArgs(f *ignition.ContractFuture, lookup func(id string) (common.Address, bool)) ([]any, error) {
	args := f.Args()
	for i, a := range args {
		ref, ok := a.(*ignition.ContractFuture)
		if !ok {
			continue
		}
		addr, ok := lookup(ref.ID())
		if !ok {
			return nil, fmt.Errorf("%w: %s argument %d references %s", ErrUnresolvedArgument, f.ID(), i, ref.ID())
		}
		args[i] = addr
	}
	return args, nil
}
