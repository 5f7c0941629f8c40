package deployer

import (
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"

	"github.com/nafkem/LansRealEstate/internal/artifacts"
	"github.com/nafkem/LansRealEstate/internal/repository"
	"github.com/nafkem/LansRealEstate/internal/signer"
)

const (
	// Anvil/Hardhat default account #0.
	testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

	// Chain ID of the simulated backend.
	simulatedChainID = 1337

	fixtureArtifacts = "../artifacts/testdata/artifacts"

	// Init code that returns a 10-byte runtime returning 42.
	returns42Bytecode = "0x600a600c600039600a6000f3602a60505260206050f3"
	// Init code that reverts.
	revertBytecode = "0x60006000fd"
)

// chainClient wraps the simulated client, mines a block after every
// accepted transaction and can inject send errors.
type chainClient struct {
	simulated.Client
	backend *simulated.Backend

	mu       sync.Mutex
	attempts int
	sendErrs []error
	// hold leaves accepted transactions in the pool.
	hold bool
}

func (c *chainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	c.attempts++
	if len(c.sendErrs) > 0 {
		err := c.sendErrs[0]
		c.sendErrs = c.sendErrs[1:]
		c.mu.Unlock()
		return err
	}
	hold := c.hold
	c.mu.Unlock()

	if err := c.Client.SendTransaction(ctx, tx); err != nil {
		return err
	}
	if !hold {
		c.backend.Commit()
	}
	return nil
}

func (c *chainClient) sendAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *chainClient) failNextSends(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErrs = append(c.sendErrs, errs...)
}

type testEnv struct {
	backend *simulated.Backend
	signer  *signer.LocalSigner
	repo    *repository.FileRepository
	store   *artifacts.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := signer.NewLocalSigner(testKey, simulatedChainID)
	require.NoError(t, err)

	balance, _ := new(big.Int).SetString("1000000000000000000000", 10)
	backend := simulated.NewBackend(types.GenesisAlloc{
		s.Address(): {Balance: balance},
	})
	t.Cleanup(func() { backend.Close() })

	return &testEnv{
		backend: backend,
		signer:  s,
		repo:    repository.NewFileRepository(t.TempDir()),
		store:   artifacts.NewStore(fixtureArtifacts),
	}
}

func (e *testEnv) client() *chainClient {
	return &chainClient{Client: e.backend.Client(), backend: e.backend}
}

func testConfig() Config {
	return Config{
		PollInterval:     5 * time.Millisecond,
		ReceiptTimeout:   5 * time.Second,
		GasBufferPercent: 20,
		FallbackGasLimit: 3_000_000,
		MaxRetries:       3,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       5 * time.Millisecond,
	}
}

func (e *testEnv) deployer(client Client, opts ...Option) *Deployer {
	return New(client, e.signer, e.store, e.repo, testConfig(), opts...)
}

// receiptErrClient fails every receipt lookup.
type receiptErrClient struct {
	*chainClient
	err error
}

func (c *receiptErrClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, c.err
}

// writeArtifact writes a minimal Hardhat artifact under root.
func writeArtifact(t *testing.T, root, name, bytecode string) {
	t.Helper()

	dir := filepath.Join(root, "contracts", name+".sol")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	doc := map[string]any{
		"_format":      "hh-sol-artifact-1",
		"contractName": name,
		"sourceName":   "contracts/" + name + ".sol",
		"abi":          []any{},
		"bytecode":     bytecode,
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644))
}

// addressWord left-pads an address to a 32-byte ABI word.
func addressWord(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

type testRPCError struct {
	code int
	msg  string
}

func (e testRPCError) Error() string  { return e.msg }
func (e testRPCError) ErrorCode() int { return e.code }

func mustSigner(t *testing.T, chainID int64) *signer.LocalSigner {
	t.Helper()
	s, err := signer.NewLocalSigner(testKey, chainID)
	require.NoError(t, err)
	return s
}
