package repository

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *FileRepository {
	t.Helper()
	repo := NewFileRepository(t.TempDir())
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return repo
}

func TestFileRepository_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	d := &Deployment{ModuleID: "LansellerModule", ChainID: 84532, Deployer: "0xabc"}
	require.NoError(t, repo.CreateDeployment(ctx, d))
	assert.NotEqual(t, uuid.Nil, d.ID)
	assert.Equal(t, StatusPending, d.Status)
	assert.False(t, d.CreatedAt.IsZero())

	assert.FileExists(t, filepath.Join(repo.Root(), "chain-84532", "LansellerModule", DeploymentFile))
	assert.FileExists(t, filepath.Join(repo.Root(), "chain-84532", "LansellerModule", DeployedAddressesFile))

	found, err := repo.FindDeployment(ctx, "LansellerModule", 84532)
	require.NoError(t, err)
	assert.Equal(t, d.ID, found.ID)
	assert.Equal(t, "0xabc", found.Deployer)

	byID, err := repo.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "LansellerModule", byID.ModuleID)

	_, err = repo.FindDeployment(ctx, "LansellerModule", 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetDeployment(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileRepository_CreateDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.CreateDeployment(ctx, &Deployment{ModuleID: "M", ChainID: 1}))
	err := repo.CreateDeployment(ctx, &Deployment{ModuleID: "M", ChainID: 1})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	require.NoError(t, repo.CreateDeployment(ctx, &Deployment{ModuleID: "M", ChainID: 2}))
}

func TestFileRepository_CreateRejectsPathModuleID(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.CreateDeployment(context.Background(), &Deployment{ModuleID: "../escape", ChainID: 1})
	assert.Error(t, err)
}

func TestFileRepository_FindRejectsPathModuleID(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	// A record one level above the chain directory must stay unreachable.
	require.NoError(t, os.WriteFile(filepath.Join(repo.Root(), DeploymentFile), []byte(`{"moduleId":"x"}`), 0o644))

	for _, id := range []string{"..", ".", "", "a/b", `a\b`, "../chain-1"} {
		_, err := repo.FindDeployment(ctx, id, 1)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
	assert.Error(t, repo.CreateDeployment(ctx, &Deployment{ModuleID: "..", ChainID: 1}))
}

func TestFileRepository_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	d := &Deployment{ModuleID: "M", ChainID: 1}
	require.NoError(t, repo.CreateDeployment(ctx, d))

	require.NoError(t, repo.SetDeploymentError(ctx, d.ID, "execution reverted"))
	got, err := repo.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "execution reverted", *got.ErrorMessage)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	require.NoError(t, repo.UpdateDeploymentStatus(ctx, d.ID, StatusRunning))
	got, err = repo.GetDeployment(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.ErrorMessage)

	assert.ErrorIs(t, repo.UpdateDeploymentStatus(ctx, uuid.New(), StatusCompleted), ErrNotFound)
	assert.ErrorIs(t, repo.SetDeploymentError(ctx, uuid.New(), "x"), ErrNotFound)
}

func TestFileRepository_FutureResults(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	d := &Deployment{ModuleID: "LansellerModule", ChainID: 84532}
	require.NoError(t, repo.CreateDeployment(ctx, d))

	token := &FutureResult{
		DeploymentID: d.ID,
		FutureID:     "LansellerModule#Token",
		ContractName: "Token",
		Address:      "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		TxHash:       "0x01",
		BlockNumber:  1,
	}
	verifier := &FutureResult{
		DeploymentID: d.ID,
		FutureID:     "LansellerModule#Verifier",
		ContractName: "Verifier",
		Address:      "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
		TxHash:       "0x02",
		BlockNumber:  2,
	}
	require.NoError(t, repo.SaveFutureResult(ctx, token))
	require.NoError(t, repo.SaveFutureResult(ctx, verifier))

	results, err := repo.GetFutureResults(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "LansellerModule#Token", results[0].FutureID)
	assert.Equal(t, "LansellerModule#Verifier", results[1].FutureID)

	addrs, err := repo.DeployedAddresses("LansellerModule", 84532)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"LansellerModule#Token":    "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		"LansellerModule#Verifier": "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
	}, addrs)

	err = repo.SaveFutureResult(ctx, &FutureResult{DeploymentID: uuid.New(), FutureID: "X#Y"})
	assert.ErrorIs(t, err, ErrNotFound)
	err = repo.SaveFutureResult(ctx, &FutureResult{DeploymentID: d.ID})
	assert.Error(t, err)
}

func TestFileRepository_Journal(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	d := &Deployment{ModuleID: "M", ChainID: 1}
	require.NoError(t, repo.CreateDeployment(ctx, d))

	entries, err := repo.GetJournal(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	nonce := uint64(4)
	events := []*JournalEntry{
		{DeploymentID: d.ID, Type: EventDeploymentStart},
		{DeploymentID: d.ID, Type: EventTxSent, FutureID: "M#A", TxHash: "0xaa", Nonce: &nonce},
		{DeploymentID: d.ID, Type: EventTxConfirmed, FutureID: "M#A", Address: "0x01"},
		{DeploymentID: d.ID, Type: EventDeploymentComplete},
	}
	for _, e := range events {
		require.NoError(t, repo.AppendJournal(ctx, e))
		assert.Len(t, e.ID, 26)
	}

	entries, err = repo.GetJournal(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, EventDeploymentStart, entries[0].Type)
	assert.Equal(t, EventDeploymentComplete, entries[3].Type)
	require.NotNil(t, entries[1].Nonce)
	assert.Equal(t, uint64(4), *entries[1].Nonce)

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	assert.True(t, sort.StringsAreSorted(ids), "journal IDs sort in append order")

	err = repo.AppendJournal(ctx, &JournalEntry{DeploymentID: uuid.New(), Type: EventTxSent})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileRepository_ListDeployments(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	list, err := repo.ListDeployments(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, repo.CreateDeployment(ctx, &Deployment{ModuleID: "First", ChainID: 1}))
	require.NoError(t, repo.CreateDeployment(ctx, &Deployment{ModuleID: "Second", ChainID: 84532}))

	list, err = repo.ListDeployments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Second", list[0].ModuleID)
	assert.Equal(t, "First", list[1].ModuleID)
}

func TestFileRepository_CorruptDocument(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	dir := repo.DeploymentDir("Broken", 1)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, DeploymentFile), []byte("{"), 0o644))

	_, err := repo.FindDeployment(ctx, "Broken", 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
