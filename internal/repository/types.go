// Package repository persists deployment records, per-future results and the
// deployment journal.
package repository

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the deployment status.
type Status string

const (
	// StatusPending indicates the deployment record exists but nothing was sent.
	StatusPending Status = "pending"
	// StatusRunning indicates transactions are being submitted.
	StatusRunning Status = "running"
	// StatusCompleted indicates every future has an on-chain address.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the last run stopped with an error. Failed
	// deployments are resumed by running deploy again.
	StatusFailed Status = "failed"
)

// EventType identifies a journal entry.
type EventType string

const (
	EventDeploymentStart    EventType = "DEPLOYMENT_START"
	EventTxSent             EventType = "TX_SENT"
	EventTxConfirmed        EventType = "TX_CONFIRMED"
	EventFutureFailed       EventType = "FUTURE_FAILED"
	EventDeploymentComplete EventType = "DEPLOYMENT_COMPLETE"
)

// Deployment is one module deployed to one chain.
type Deployment struct {
	ID           uuid.UUID `json:"id"`
	ModuleID     string    `json:"moduleId"`
	ChainID      int64     `json:"chainId"`
	Deployer     string    `json:"deployer"`
	Status       Status    `json:"status"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FutureResult records a confirmed contract deployment. A future with a
// result is not deployed again.
type FutureResult struct {
	DeploymentID    uuid.UUID `json:"deploymentId"`
	FutureID        string    `json:"futureId"`
	ContractName    string    `json:"contractName"`
	Address         string    `json:"address"`
	TxHash          string    `json:"txHash"`
	BlockNumber     uint64    `json:"blockNumber"`
	ConstructorArgs string    `json:"constructorArgs,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// JournalEntry is an append-only deployment event. IDs are ULIDs, so
// lexical order is creation order.
type JournalEntry struct {
	ID           string    `json:"id"`
	DeploymentID uuid.UUID `json:"deploymentId"`
	Type         EventType `json:"type"`
	FutureID     string    `json:"futureId,omitempty"`
	TxHash       string    `json:"txHash,omitempty"`
	Address      string    `json:"address,omitempty"`
	Nonce        *uint64   `json:"nonce,omitempty"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
