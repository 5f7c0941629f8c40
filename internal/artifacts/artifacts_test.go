package artifacts

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureDir = "testdata/artifacts"

func mustType(t *testing.T, s string) abi.Type {
	t.Helper()
	typ, err := abi.NewType(s, "", nil)
	require.NoError(t, err)
	return typ
}

func TestBytecode_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain string", `"0x6080"`, "0x6080", false},
		{"object form", `{"object":"6080","opcodes":"PUSH1"}`, "6080", false},
		{"number", `42`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Bytecode
			err := json.Unmarshal([]byte(tt.input), &b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.String())
		})
	}
}

func TestContractArtifact_BytecodeBytes(t *testing.T) {
	t.Run("adds missing prefix", func(t *testing.T) {
		a := &ContractArtifact{ContractName: "X", Bytecode: Bytecode{hex: "6080"}}
		code, err := a.BytecodeBytes()
		require.NoError(t, err)
		assert.Equal(t, []byte{0x60, 0x80}, code)
	})

	t.Run("empty bytecode", func(t *testing.T) {
		a := &ContractArtifact{ContractName: "IFace", Bytecode: Bytecode{hex: "0x"}}
		_, err := a.BytecodeBytes()
		assert.ErrorIs(t, err, ErrEmptyBytecode)
	})

	t.Run("unlinked libraries", func(t *testing.T) {
		a := &ContractArtifact{
			ContractName: "UsesLib",
			Bytecode:     Bytecode{hex: "0x6080__$0123456789abcdef0123456789abcdef01$__"},
		}
		assert.True(t, a.HasUnlinkedLibraries())
		_, err := a.BytecodeBytes()
		assert.ErrorIs(t, err, ErrUnlinkedLibraries)
	})
}

func TestContractArtifact_DeployData(t *testing.T) {
	store := NewStore(fixtureDir)

	t.Run("no constructor args", func(t *testing.T) {
		token, err := store.Load("Token")
		require.NoError(t, err)

		data, err := token.DeployData()
		require.NoError(t, err)
		code, _ := token.BytecodeBytes()
		assert.Equal(t, code, data)
	})

	t.Run("address args appended", func(t *testing.T) {
		seller, err := store.Load("LanSeller")
		require.NoError(t, err)

		tok := common.HexToAddress("0x00000000000000000000000000000000000000aa")
		data, err := seller.DeployData(tok, "0x00000000000000000000000000000000000000bb")
		require.NoError(t, err)

		code, _ := seller.BytecodeBytes()
		require.Len(t, data, len(code)+64)
		assert.Equal(t, byte(0xaa), data[len(code)+31])
		assert.Equal(t, byte(0xbb), data[len(code)+63])
	})

	t.Run("wrong arg count", func(t *testing.T) {
		seller, err := store.Load("LanSeller")
		require.NoError(t, err)

		_, err = seller.DeployData(common.Address{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "takes 2 arguments, got 1")
	})

	t.Run("invalid address", func(t *testing.T) {
		seller, err := store.Load("LanSeller")
		require.NoError(t, err)

		_, err = seller.DeployData("not-an-address", common.Address{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "_token")
	})
}

func TestCoerce(t *testing.T) {
	t.Run("integers", func(t *testing.T) {
		inputs := abi.Arguments{
			{Name: "a", Type: mustType(t, "uint256")},
			{Name: "b", Type: mustType(t, "uint8")},
			{Name: "c", Type: mustType(t, "int64")},
		}
		out, err := Coerce(inputs, []any{"0x10", 7, "-5"})
		require.NoError(t, err)
		assert.Equal(t, big.NewInt(16), out[0])
		assert.Equal(t, uint8(7), out[1])
		assert.Equal(t, int64(-5), out[2])
	})

	t.Run("overflow", func(t *testing.T) {
		inputs := abi.Arguments{{Name: "b", Type: mustType(t, "uint8")}}
		_, err := Coerce(inputs, []any{256})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "overflows")
	})

	t.Run("signed bounds", func(t *testing.T) {
		minInt256, _ := new(big.Int).SetString("-57896044618658097711785492504343953926634992332820282019728792003956564819968", 10)
		inputs := abi.Arguments{
			{Name: "a", Type: mustType(t, "int8")},
			{Name: "b", Type: mustType(t, "int8")},
			{Name: "c", Type: mustType(t, "int256")},
		}
		out, err := Coerce(inputs, []any{-128, 127, minInt256})
		require.NoError(t, err)
		assert.Equal(t, int8(-128), out[0])
		assert.Equal(t, int8(127), out[1])
		assert.Equal(t, minInt256, out[2])

		for _, v := range []any{-129, 128} {
			_, err := Coerce(abi.Arguments{{Name: "a", Type: mustType(t, "int8")}}, []any{v})
			require.Error(t, err, v)
			assert.Contains(t, err.Error(), "overflows")
		}
	})

	t.Run("unsigned max", func(t *testing.T) {
		out, err := Coerce(abi.Arguments{{Name: "b", Type: mustType(t, "uint8")}}, []any{255})
		require.NoError(t, err)
		assert.Equal(t, uint8(255), out[0])
	})

	t.Run("negative unsigned", func(t *testing.T) {
		inputs := abi.Arguments{{Name: "a", Type: mustType(t, "uint256")}}
		_, err := Coerce(inputs, []any{big.NewInt(-1)})
		assert.Error(t, err)
	})

	t.Run("fixed bytes and bool", func(t *testing.T) {
		inputs := abi.Arguments{
			{Name: "salt", Type: mustType(t, "bytes4")},
			{Name: "flag", Type: mustType(t, "bool")},
			{Name: "data", Type: mustType(t, "bytes")},
		}
		out, err := Coerce(inputs, []any{"0xdeadbeef", true, "0x0102"})
		require.NoError(t, err)
		assert.Equal(t, [4]byte{0xde, 0xad, 0xbe, 0xef}, out[0])
		assert.Equal(t, true, out[1])
		assert.Equal(t, []byte{1, 2}, out[2])
	})

	t.Run("type mismatch", func(t *testing.T) {
		inputs := abi.Arguments{{Name: "flag", Type: mustType(t, "bool")}}
		_, err := Coerce(inputs, []any{"yes"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot use string")
	})
}

func TestStore_Load(t *testing.T) {
	store := NewStore(fixtureDir)

	t.Run("bare name", func(t *testing.T) {
		a, err := store.Load("Token")
		require.NoError(t, err)
		assert.Equal(t, "Token", a.ContractName)
		assert.Equal(t, "contracts/Token.sol:Token", a.FullyQualifiedName())
		assert.True(t, strings.HasSuffix(filepath.ToSlash(a.Path()), "contracts/Token.sol/Token.json"))
	})

	t.Run("fully qualified name", func(t *testing.T) {
		a, err := store.Load("contracts/LanSeller.sol:LanSeller")
		require.NoError(t, err)
		assert.Equal(t, "LanSeller", a.ContractName)
	})

	t.Run("cached", func(t *testing.T) {
		a1, err := store.Load("Verifier")
		require.NoError(t, err)
		a2, err := store.Load("Verifier")
		require.NoError(t, err)
		assert.Same(t, a1, a2)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.Load("Missing")
		assert.ErrorIs(t, err, ErrArtifactNotFound)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := NewStore(t.TempDir()).Load("Token")
		assert.ErrorIs(t, err, ErrArtifactNotFound)
	})
}

func TestStore_Ambiguous(t *testing.T) {
	root := t.TempDir()
	body := `{"contractName":"Token","sourceName":"%s","abi":[],"bytecode":"0x00"}`
	for _, src := range []string{"contracts/a/Token.sol", "contracts/b/Token.sol"} {
		dir := filepath.Join(root, filepath.FromSlash(src))
		require.NoError(t, os.MkdirAll(dir, 0o755))
		content := strings.Replace(body, "%s", src, 1)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Token.json"), []byte(content), 0o644))
	}

	store := NewStore(root)
	_, err := store.Load("Token")
	assert.ErrorIs(t, err, ErrAmbiguousArtifact)

	a, err := store.Load("contracts/b/Token.sol:Token")
	require.NoError(t, err)
	assert.Equal(t, "contracts/b/Token.sol", a.SourceName)
}

func TestStore_LoadAll(t *testing.T) {
	store := NewStore(fixtureDir)

	got, err := store.LoadAll([]string{"Token", "Verifier", "LanSeller"})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	_, err = store.LoadAll([]string{"Token", "Nope", "AlsoNope"})
	require.ErrorIs(t, err, ErrArtifactNotFound)
	assert.Contains(t, err.Error(), "Nope")
	assert.Contains(t, err.Error(), "AlsoNope")
}

func TestStore_BuildInfo(t *testing.T) {
	store := NewStore(fixtureDir)

	a, err := store.Load("LanSeller")
	require.NoError(t, err)

	bi, err := store.BuildInfo(a)
	require.NoError(t, err)
	assert.Equal(t, "v0.8.24+commit.e11b9ed9", bi.CompilerVersion())

	var input struct {
		Language string                     `json:"language"`
		Sources  map[string]json.RawMessage `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(bi.Input, &input))
	assert.Equal(t, "Solidity", input.Language)
	assert.Contains(t, input.Sources, "contracts/LanSeller.sol")

	_, err = store.BuildInfo(&ContractArtifact{ContractName: "Detached"})
	assert.ErrorIs(t, err, ErrBuildInfoNotFound)
}
