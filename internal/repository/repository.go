package repository

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a deployment for the same module and
	// chain is created twice.
	ErrAlreadyExists = errors.New("already exists")
)

// Repository defines the interface for deployment data operations.
type Repository interface {
	// Deployment operations
	CreateDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, id uuid.UUID) (*Deployment, error)
	FindDeployment(ctx context.Context, moduleID string, chainID int64) (*Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status Status) error
	SetDeploymentError(ctx context.Context, id uuid.UUID, errMsg string) error
	ListDeployments(ctx context.Context) ([]*Deployment, error)

	// Future results
	SaveFutureResult(ctx context.Context, r *FutureResult) error
	GetFutureResults(ctx context.Context, deploymentID uuid.UUID) ([]FutureResult, error)

	// Journal
	AppendJournal(ctx context.Context, e *JournalEntry) error
	GetJournal(ctx context.Context, deploymentID uuid.UUID) ([]JournalEntry, error)
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// newJournalID returns a monotonic ULID for t.
func newJournalID(t time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// prepareEntry fills in the ID and timestamp of a journal entry.
func prepareEntry(e *JournalEntry, now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.ID == "" {
		e.ID = newJournalID(e.CreatedAt)
	}
}
