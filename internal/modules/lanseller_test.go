package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nafkem/LansRealEstate/internal/ignition"
)

func TestLanseller(t *testing.T) {
	mod, err := Lanseller()
	require.NoError(t, err)

	t.Run("exposes exactly three outputs", func(t *testing.T) {
		assert.Equal(t, []string{"Token", "lanSeller", "verifier"}, mod.ResultNames())
	})

	t.Run("seller takes token then verifier", func(t *testing.T) {
		results := mod.Results()
		seller := results[ResultLanSeller]
		require.NotNil(t, seller)

		args := seller.Args()
		require.Len(t, args, 2)
		assert.Same(t, results[ResultToken], args[0])
		assert.Same(t, results[ResultVerifier], args[1])
	})

	t.Run("token and verifier take no arguments", func(t *testing.T) {
		results := mod.Results()
		assert.Empty(t, results[ResultToken].Args())
		assert.Empty(t, results[ResultVerifier].Args())
	})

	t.Run("future IDs and artifact names", func(t *testing.T) {
		results := mod.Results()
		assert.Equal(t, "LansellerModule#Token", results[ResultToken].ID())
		assert.Equal(t, "Verifier", results[ResultVerifier].ContractName())
		assert.Equal(t, "LansellerModule#LanSeller", results[ResultLanSeller].ID())
	})

	t.Run("seller is deployed after its dependencies", func(t *testing.T) {
		batches := mod.Batches()
		require.Len(t, batches, 2)
		assert.Equal(t, []string{"LansellerModule#Token", "LansellerModule#Verifier"}, ids(batches[0]))
		assert.Equal(t, []string{"LansellerModule#LanSeller"}, ids(batches[1]))
	})
}

func TestRegistry(t *testing.T) {
	build, ok := Registry()[LansellerModuleID]
	require.True(t, ok)

	mod, err := build()
	require.NoError(t, err)
	assert.Equal(t, LansellerModuleID, mod.ID())
}

func ids(fs []*ignition.ContractFuture) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID()
	}
	return out
}
