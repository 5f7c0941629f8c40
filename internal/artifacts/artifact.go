// Package artifacts loads compiled Hardhat contract artifacts and build info.
package artifacts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrArtifactNotFound is returned when no artifact matches a contract name.
	ErrArtifactNotFound = errors.New("artifacts: contract artifact not found")
	// ErrAmbiguousArtifact is returned when a bare name matches several sources.
	ErrAmbiguousArtifact = errors.New("artifacts: contract name is ambiguous, use <source>:<name>")
	// ErrUnlinkedLibraries is returned when bytecode still has link placeholders.
	ErrUnlinkedLibraries = errors.New("artifacts: bytecode has unlinked libraries")
	// ErrEmptyBytecode is returned for abstract contracts and interfaces.
	ErrEmptyBytecode = errors.New("artifacts: bytecode is empty")
	// ErrBuildInfoNotFound is returned when the debug file or build info is missing.
	ErrBuildInfoNotFound = errors.New("artifacts: build info not found")
)

// ContractArtifact is a compiled Solidity contract in Hardhat's
// hh-sol-artifact-1 format.
type ContractArtifact struct {
	Format                 string                                 `json:"_format,omitempty"`
	ContractName           string                                 `json:"contractName"`
	SourceName             string                                 `json:"sourceName"`
	ABI                    json.RawMessage                        `json:"abi"`
	Bytecode               Bytecode                               `json:"bytecode"`
	DeployedBytecode       Bytecode                               `json:"deployedBytecode,omitempty"`
	LinkReferences         map[string]map[string][]LinkReference `json:"linkReferences,omitempty"`
	DeployedLinkReferences map[string]map[string][]LinkReference `json:"deployedLinkReferences,omitempty"`

	// path is the file the artifact was read from.
	path string
}

// LinkReference marks a library placeholder inside bytecode.
type LinkReference struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Bytecode accepts both a plain hex string ("0x6080...", Hardhat/Foundry)
// and an object with an "object" field (solc standard JSON output).
type Bytecode struct {
	hex string
}

// UnmarshalJSON handles both string and object bytecode formats.
func (b *Bytecode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		b.hex = s
		return nil
	}

	var obj struct {
		Object string `json:"object"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		b.hex = obj.Object
		return nil
	}

	return fmt.Errorf("bytecode must be a string or object with 'object' field")
}

// MarshalJSON marshals the bytecode as a string.
func (b Bytecode) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.hex)
}

// String returns the bytecode hex string.
func (b Bytecode) String() string {
	return b.hex
}

// FullyQualifiedName returns "<sourceName>:<contractName>", the form
// explorers expect for verification.
func (a *ContractArtifact) FullyQualifiedName() string {
	return a.SourceName + ":" + a.ContractName
}

// Path returns the file the artifact was loaded from, if any.
func (a *ContractArtifact) Path() string {
	return a.path
}

// HasUnlinkedLibraries reports whether deployment bytecode needs library linking.
func (a *ContractArtifact) HasUnlinkedLibraries() bool {
	if len(a.LinkReferences) > 0 {
		return true
	}
	// solc placeholders look like __$<34 hex chars>$__
	return strings.Contains(a.Bytecode.hex, "__$")
}

// BytecodeBytes decodes the creation bytecode.
func (a *ContractArtifact) BytecodeBytes() ([]byte, error) {
	if a.HasUnlinkedLibraries() {
		return nil, fmt.Errorf("%w: %s", ErrUnlinkedLibraries, a.ContractName)
	}
	h := a.Bytecode.hex
	if h == "" || h == "0x" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyBytecode, a.ContractName)
	}
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	code, err := hexutil.Decode(h)
	if err != nil {
		return nil, fmt.Errorf("decode bytecode for %s: %w", a.ContractName, err)
	}
	return code, nil
}

// ParsedABI parses the JSON ABI into go-ethereum's ABI type.
func (a *ContractArtifact) ParsedABI() (abi.ABI, error) {
	if len(a.ABI) == 0 {
		return abi.ABI{}, nil
	}
	parsed, err := abi.JSON(bytes.NewReader(a.ABI))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse ABI for %s: %w", a.ContractName, err)
	}
	return parsed, nil
}

// EncodeConstructorArgs ABI-encodes constructor arguments. Values are
// coerced to the Go types the ABI expects (see Coerce). Returns nil when
// the constructor takes no inputs and no args are given.
func (a *ContractArtifact) EncodeConstructorArgs(args ...any) ([]byte, error) {
	parsed, err := a.ParsedABI()
	if err != nil {
		return nil, err
	}

	inputs := parsed.Constructor.Inputs
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("%s constructor takes %d arguments, got %d", a.ContractName, len(inputs), len(args))
	}
	if len(args) == 0 {
		return nil, nil
	}

	coerced, err := Coerce(inputs, args)
	if err != nil {
		return nil, fmt.Errorf("%s constructor: %w", a.ContractName, err)
	}

	packed, err := inputs.Pack(coerced...)
	if err != nil {
		return nil, fmt.Errorf("pack constructor args for %s: %w", a.ContractName, err)
	}
	return packed, nil
}

// DeployData returns creation bytecode followed by encoded constructor args.
func (a *ContractArtifact) DeployData(args ...any) ([]byte, error) {
	code, err := a.BytecodeBytes()
	if err != nil {
		return nil, err
	}
	encoded, err := a.EncodeConstructorArgs(args...)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(code)+len(encoded))
	data = append(data, code...)
	return append(data, encoded...), nil
}
