package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// BuildInfo is the subset of Hardhat's hh-sol-build-info-1 file needed for
// explorer verification.
type BuildInfo struct {
	Format          string          `json:"_format,omitempty"`
	ID              string          `json:"id"`
	SolcVersion     string          `json:"solcVersion"`
	SolcLongVersion string          `json:"solcLongVersion"`
	Input           json.RawMessage `json:"input"`
}

// CompilerVersion returns the version string explorers expect, e.g.
// "v0.8.24+commit.e11b9ed9".
func (b *BuildInfo) CompilerVersion() string {
	v := b.SolcLongVersion
	if v == "" {
		v = b.SolcVersion
	}
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

type debugFile struct {
	BuildInfo string `json:"buildInfo"`
}

// Store loads artifacts from a Hardhat artifacts directory:
//
//	<root>/contracts/<path>/<Name>.sol/<Name>.json
//	<root>/contracts/<path>/<Name>.sol/<Name>.dbg.json
//	<root>/build-info/<id>.json
type Store struct {
	root string

	mu        sync.Mutex
	index     map[string][]string
	artifacts map[string]*ContractArtifact
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{
		root:      dir,
		artifacts: make(map[string]*ContractArtifact),
	}
}

// Root returns the artifacts directory.
func (s *Store) Root() string {
	return s.root
}

// Load returns the artifact for a contract. name is either a bare contract
// name ("Token") or a fully qualified name ("contracts/Token.sol:Token").
func (s *Store) Load(name string) (*ContractArtifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.artifacts[name]; ok {
		return a, nil
	}
	if err := s.buildIndexLocked(); err != nil {
		return nil, err
	}

	path, err := s.resolveLocked(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	var a ContractArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	a.path = path

	s.artifacts[name] = &a
	return &a, nil
}

// LoadAll loads every named artifact and reports all missing names at once.
func (s *Store) LoadAll(names []string) (map[string]*ContractArtifact, error) {
	out := make(map[string]*ContractArtifact, len(names))
	var missing []string
	for _, n := range names {
		if _, ok := out[n]; ok {
			continue
		}
		a, err := s.Load(n)
		if errors.Is(err, ErrArtifactNotFound) {
			missing = append(missing, n)
			continue
		}
		if err != nil {
			return nil, err
		}
		out[n] = a
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: missing %v in %s (run the compiler first)", ErrArtifactNotFound, missing, s.root)
	}
	return out, nil
}

// BuildInfo returns the build info that produced an artifact.
func (s *Store) BuildInfo(a *ContractArtifact) (*BuildInfo, error) {
	if a.path == "" {
		return nil, fmt.Errorf("%w: artifact %s was not loaded from disk", ErrBuildInfoNotFound, a.ContractName)
	}

	dbgPath := strings.TrimSuffix(a.path, ".json") + ".dbg.json"
	data, err := os.ReadFile(dbgPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildInfoNotFound, err)
	}
	var dbg debugFile
	if err := json.Unmarshal(data, &dbg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", dbgPath, err)
	}
	if dbg.BuildInfo == "" {
		return nil, fmt.Errorf("%w: %s has no buildInfo", ErrBuildInfoNotFound, dbgPath)
	}

	biPath := filepath.Join(filepath.Dir(dbgPath), filepath.FromSlash(dbg.BuildInfo))
	data, err = os.ReadFile(biPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBuildInfoNotFound, err)
	}
	var bi BuildInfo
	if err := json.Unmarshal(data, &bi); err != nil {
		return nil, fmt.Errorf("parse %s: %w", biPath, err)
	}
	return &bi, nil
}

// buildIndexLocked maps contract names and fully qualified names to files.
func (s *Store) buildIndexLocked() error {
	if s.index != nil {
		return nil
	}

	contractsDir := filepath.Join(s.root, "contracts")
	index := make(map[string][]string)
	err := filepath.WalkDir(contractsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".json" || strings.HasSuffix(path, ".dbg.json") {
			return nil
		}
		// Only <Name>.sol/<Name>.json files are artifacts.
		parent := filepath.Base(filepath.Dir(path))
		if filepath.Ext(parent) != ".sol" {
			return nil
		}
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		rel, err := filepath.Rel(s.root, filepath.Dir(path))
		if err != nil {
			return err
		}
		fqn := filepath.ToSlash(rel) + ":" + name

		index[name] = append(index[name], path)
		index[fqn] = append(index[fqn], path)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: no contracts directory in %s", ErrArtifactNotFound, s.root)
	}
	if err != nil {
		return fmt.Errorf("scan artifacts: %w", err)
	}

	for k := range index {
		sort.Strings(index[k])
	}
	s.index = index
	return nil
}

func (s *Store) resolveLocked(name string) (string, error) {
	paths := s.index[name]
	switch len(paths) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
	case 1:
		return paths[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %d artifacts", ErrAmbiguousArtifact, name, len(paths))
	}
}
