package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const deploymentColumns = `id, module_id, chain_id, deployer, status, error_message, created_at, updated_at`

func scanDeployment(row pgx.Row) (*Deployment, error) {
	var d Deployment
	err := row.Scan(
		&d.ID, &d.ModuleID, &d.ChainID, &d.Deployer, &d.Status,
		&d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDeployment inserts a new deployment record.
func (r *PostgresRepository) CreateDeployment(ctx context.Context, d *Deployment) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}

	query := `
		INSERT INTO deployments (id, module_id, chain_id, deployer, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		d.ID, d.ModuleID, d.ChainID, d.Deployer, d.Status, d.ErrorMessage,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("CreateDeployment: %s on chain %d: %w", d.ModuleID, d.ChainID, ErrAlreadyExists)
		}
		return fmt.Errorf("CreateDeployment: %w", err)
	}
	return nil
}

// GetDeployment retrieves a deployment by its UUID.
func (r *PostgresRepository) GetDeployment(ctx context.Context, id uuid.UUID) (*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`

	d, err := scanDeployment(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetDeployment: %w", err)
	}
	return d, nil
}

// FindDeployment retrieves the deployment of a module on a chain.
func (r *PostgresRepository) FindDeployment(ctx context.Context, moduleID string, chainID int64) (*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE module_id = $1 AND chain_id = $2`

	d, err := scanDeployment(r.pool.QueryRow(ctx, query, moduleID, chainID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindDeployment: %w", err)
	}
	return d, nil
}

// UpdateDeploymentStatus updates the status of a deployment. Moving away
// from failed clears the stored error.
func (r *PostgresRepository) UpdateDeploymentStatus(ctx context.Context, id uuid.UUID, status Status) error {
	query := `
		UPDATE deployments
		SET status = $2,
		    error_message = CASE WHEN $2 = 'failed' THEN error_message ELSE NULL END,
		    updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("UpdateDeploymentStatus: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDeploymentError sets the error message and marks the deployment as failed.
func (r *PostgresRepository) SetDeploymentError(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE deployments
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, StatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("SetDeploymentError: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDeployments retrieves all deployments ordered by creation date.
func (r *PostgresRepository) ListDeployments(ctx context.Context) ([]*Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployments ORDER BY created_at DESC, module_id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ListDeployments: %w", err)
	}
	defer rows.Close()

	var deployments []*Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("ListDeployments scan: %w", err)
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// SaveFutureResult inserts or replaces the result of a future.
func (r *PostgresRepository) SaveFutureResult(ctx context.Context, res *FutureResult) error {
	query := `
		INSERT INTO future_results (deployment_id, future_id, contract_name, address, tx_hash, block_number, constructor_args)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (deployment_id, future_id)
		DO UPDATE SET contract_name = EXCLUDED.contract_name,
		              address = EXCLUDED.address,
		              tx_hash = EXCLUDED.tx_hash,
		              block_number = EXCLUDED.block_number,
		              constructor_args = EXCLUDED.constructor_args
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		res.DeploymentID, res.FutureID, res.ContractName, res.Address,
		res.TxHash, int64(res.BlockNumber), res.ConstructorArgs,
	).Scan(&res.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("SaveFutureResult: %w", err)
	}
	return nil
}

// GetFutureResults retrieves the recorded futures of a deployment.
func (r *PostgresRepository) GetFutureResults(ctx context.Context, deploymentID uuid.UUID) ([]FutureResult, error) {
	query := `
		SELECT deployment_id, future_id, contract_name, address, tx_hash, block_number, constructor_args, created_at
		FROM future_results
		WHERE deployment_id = $1
		ORDER BY created_at ASC, future_id ASC`

	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("GetFutureResults: %w", err)
	}
	defer rows.Close()

	var results []FutureResult
	for rows.Next() {
		var (
			res   FutureResult
			block int64
		)
		if err := rows.Scan(
			&res.DeploymentID, &res.FutureID, &res.ContractName, &res.Address,
			&res.TxHash, &block, &res.ConstructorArgs, &res.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("GetFutureResults scan: %w", err)
		}
		res.BlockNumber = uint64(block)
		results = append(results, res)
	}
	return results, rows.Err()
}

// AppendJournal inserts a journal entry.
func (r *PostgresRepository) AppendJournal(ctx context.Context, e *JournalEntry) error {
	prepareEntry(e, time.Now().UTC())

	var nonce *int64
	if e.Nonce != nil {
		n := int64(*e.Nonce)
		nonce = &n
	}

	query := `
		INSERT INTO journal_entries (id, deployment_id, type, future_id, tx_hash, address, nonce, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.DeploymentID, e.Type, e.FutureID, e.TxHash, e.Address, nonce, e.Message, e.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("AppendJournal: %w", err)
	}
	return nil
}

// GetJournal retrieves the journal of a deployment in ID order.
func (r *PostgresRepository) GetJournal(ctx context.Context, deploymentID uuid.UUID) ([]JournalEntry, error) {
	query := `
		SELECT id, deployment_id, type, future_id, tx_hash, address, nonce, message, created_at
		FROM journal_entries
		WHERE deployment_id = $1
		ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("GetJournal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			e     JournalEntry
			nonce *int64
		)
		if err := rows.Scan(
			&e.ID, &e.DeploymentID, &e.Type, &e.FutureID, &e.TxHash,
			&e.Address, &nonce, &e.Message, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("GetJournal scan: %w", err)
		}
		if nonce != nil {
			n := uint64(*nonce)
			e.Nonce = &n
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Compile-time check to ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
