package repository

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// File names inside a deployment directory.
const (
	DeploymentFile        = "deployment.json"
	DeployedAddressesFile = "deployed_addresses.json"
	JournalFile           = "journal.jsonl"
)

// deploymentDocument is the on-disk form of deployment.json.
type deploymentDocument struct {
	Deployment
	Futures map[string]FutureResult `json:"futures"`
}

// FileRepository implements Repository on the local filesystem:
//
//	<root>/chain-<chainID>/<moduleID>/deployment.json
//	<root>/chain-<chainID>/<moduleID>/deployed_addresses.json
//	<root>/chain-<chainID>/<moduleID>/journal.jsonl
//
// deployed_addresses.json maps future IDs to addresses and is rewritten on
// every confirmed future.
type FileRepository struct {
	root string
	now  func() time.Time

	mu sync.Mutex
}

// NewFileRepository creates a repository rooted at dir. The directory is
// created on first write.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{root: dir, now: time.Now}
}

// Root returns the deployments directory.
func (r *FileRepository) Root() string {
	return r.root
}

// DeploymentDir returns the directory holding a module's deployment on a chain.
func (r *FileRepository) DeploymentDir(moduleID string, chainID int64) string {
	return filepath.Join(r.root, ChainDir(chainID), moduleID)
}

// validModuleID reports whether id names a single directory below the
// chain directory.
func validModuleID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

// ChainDir returns the directory name used for a chain.
func ChainDir(chainID int64) string {
	return fmt.Sprintf("chain-%d", chainID)
}

// CreateDeployment writes a new deployment record.
func (r *FileRepository) CreateDeployment(ctx context.Context, d *Deployment) error {
	if !validModuleID(d.ModuleID) {
		return fmt.Errorf("CreateDeployment: invalid module ID %q", d.ModuleID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := r.DeploymentDir(d.ModuleID, d.ChainID)
	if _, err := os.Stat(filepath.Join(dir, DeploymentFile)); err == nil {
		return fmt.Errorf("CreateDeployment: %s on chain %d: %w", d.ModuleID, d.ChainID, ErrAlreadyExists)
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	now := r.now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	doc := &deploymentDocument{Deployment: *d, Futures: map[string]FutureResult{}}
	if err := r.writeDocument(dir, doc); err != nil {
		return fmt.Errorf("CreateDeployment: %w", err)
	}
	return nil
}

// GetDeployment retrieves a deployment by its UUID.
func (r *FileRepository) GetDeployment(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, doc, err := r.locate(id)
	if err != nil {
		return nil, err
	}
	d := doc.Deployment
	return &d, nil
}

// FindDeployment retrieves the deployment of a module on a chain.
func (r *FileRepository) FindDeployment(ctx context.Context, moduleID string, chainID int64) (*Deployment, error) {
	if !validModuleID(moduleID) {
		return nil, fmt.Errorf("FindDeployment: invalid module ID %q: %w", moduleID, ErrNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := readDocument(r.DeploymentDir(moduleID, chainID))
	if err != nil {
		return nil, err
	}
	d := doc.Deployment
	return &d, nil
}

// UpdateDeploymentStatus updates the status of a deployment. Moving away
// from failed clears the stored error.
func (r *FileRepository) UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status Status) error {
	return r.update(id, "UpdateDeploymentStatus", func(doc *deploymentDocument) {
		doc.Status = status
		if status != StatusFailed {
			doc.ErrorMessage = nil
		}
	})
}

// SetDeploymentError sets the error message and marks the deployment as failed.
func (r *FileRepository) SetDeploymentError(ctx context.Context, id uuid.UUID, errMsg string) error {
	return r.update(id, "SetDeploymentError", func(doc *deploymentDocument) {
		doc.Status = StatusFailed
		doc.ErrorMessage = &errMsg
	})
}

// ListDeployments returns every deployment, newest first.
func (r *FileRepository) ListDeployments(ctx context.Context) ([]*Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	docs, err := r.scan()
	if err != nil {
		return nil, fmt.Errorf("ListDeployments: %w", err)
	}
	out := make([]*Deployment, 0, len(docs))
	for _, doc := range docs {
		d := doc.Deployment
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ModuleID < out[j].ModuleID
	})
	return out, nil
}

// SaveFutureResult records a confirmed future and rewrites deployed_addresses.json.
func (r *FileRepository) SaveFutureResult(ctx context.Context, res *FutureResult) error {
	if res.FutureID == "" {
		return errors.New("SaveFutureResult: future ID is required")
	}
	return r.update(res.DeploymentID, "SaveFutureResult", func(doc *deploymentDocument) {
		if res.CreatedAt.IsZero() {
			res.CreatedAt = r.now().UTC()
		}
		if doc.Futures == nil {
			doc.Futures = map[string]FutureResult{}
		}
		doc.Futures[res.FutureID] = *res
	})
}

// GetFutureResults returns the recorded futures of a deployment ordered by
// confirmation time.
func (r *FileRepository) GetFutureResults(ctx context.Context, deploymentID uuid.UUID) ([]FutureResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, doc, err := r.locate(deploymentID)
	if err != nil {
		return nil, err
	}
	return sortedFutures(doc.Futures), nil
}

// AppendJournal appends an entry to journal.jsonl.
func (r *FileRepository) AppendJournal(ctx context.Context, e *JournalEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir, _, err := r.locate(e.DeploymentID)
	if err != nil {
		return fmt.Errorf("AppendJournal: %w", err)
	}
	prepareEntry(e, r.now().UTC())

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("AppendJournal: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, JournalFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("AppendJournal: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("AppendJournal: %w", err)
	}
	return f.Close()
}

// GetJournal returns the journal of a deployment in append order.
func (r *FileRepository) GetJournal(ctx context.Context, deploymentID uuid.UUID) ([]JournalEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir, _, err := r.locate(deploymentID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(dir, JournalFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetJournal: %w", err)
	}
	defer f.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e JournalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("GetJournal: corrupt entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("GetJournal: %w", err)
	}
	return entries, nil
}

// DeployedAddresses reads deployed_addresses.json for a module on a chain.
func (r *FileRepository) DeployedAddresses(moduleID string, chainID int64) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(r.DeploymentDir(moduleID, chainID), DeployedAddressesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", DeployedAddressesFile, err)
	}
	return out, nil
}

func (r *FileRepository) update(id uuid.UUID, op string, fn func(doc *deploymentDocument)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir, doc, err := r.locate(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	fn(doc)
	doc.UpdatedAt = r.now().UTC()
	if err := r.writeDocument(dir, doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// locate finds the deployment directory for an ID.
func (r *FileRepository) locate(id uuid.UUID) (string, *deploymentDocument, error) {
	matches, err := filepath.Glob(filepath.Join(r.root, "chain-*", "*", DeploymentFile))
	if err != nil {
		return "", nil, err
	}
	for _, m := range matches {
		doc, err := readDocument(filepath.Dir(m))
		if err != nil {
			return "", nil, err
		}
		if doc.ID == id {
			return filepath.Dir(m), doc, nil
		}
	}
	return "", nil, ErrNotFound
}

func (r *FileRepository) scan() ([]*deploymentDocument, error) {
	matches, err := filepath.Glob(filepath.Join(r.root, "chain-*", "*", DeploymentFile))
	if err != nil {
		return nil, err
	}
	docs := make([]*deploymentDocument, 0, len(matches))
	for _, m := range matches {
		doc, err := readDocument(filepath.Dir(m))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func readDocument(dir string) (*deploymentDocument, error) {
	data, err := os.ReadFile(filepath.Join(dir, DeploymentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc deploymentDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Join(dir, DeploymentFile), err)
	}
	return &doc, nil
}

// writeDocument writes deployment.json and deployed_addresses.json.
func (r *FileRepository) writeDocument(dir string, doc *deploymentDocument) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, DeploymentFile), doc); err != nil {
		return err
	}

	addresses := make(map[string]string, len(doc.Futures))
	for id, f := range doc.Futures {
		addresses[id] = f.Address
	}
	return writeJSONAtomic(filepath.Join(dir, DeployedAddressesFile), addresses)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func sortedFutures(m map[string]FutureResult) []FutureResult {
	out := make([]FutureResult, 0, len(m))
	for _, f := range m {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].FutureID < out[j].FutureID
	})
	return out
}

var _ Repository = (*FileRepository)(nil)
