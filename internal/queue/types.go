package queue

import (
	"time"

	"github.com/google/uuid"
)

// OperationStatus tracks an operation through the queue
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusProcessing OperationStatus = "processing"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
	StatusCancelled  OperationStatus = "cancelled"
)

// OperationType classifies the server-side effect of an operation
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
	OpCustom OperationType = "custom"
)

// Operation is a durable unit of pending server work
type Operation struct {
	ID            string          `json:"id"`
	OperationType OperationType   `json:"operation_type"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Payload       string          `json:"payload"`
	Status        OperationStatus `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	Priority      int             `json:"priority"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewOperation builds a pending operation with a fresh ID and correlation
// ID. Priority defaults to 100 (lower runs earlier); MaxAttempts of zero is
// filled from queue configuration at enqueue time.
func NewOperation(opType OperationType, entityType, entityID, payload string) *Operation {
	return &Operation{
		ID:            uuid.New().String(),
		OperationType: opType,
		EntityType:    entityType,
		EntityID:      entityID,
		Payload:       payload,
		Status:        StatusPending,
		Priority:      100,
		CorrelationID: uuid.New().String(),
	}
}

// IsTerminal reports whether the operation can never run again
func (o *Operation) IsTerminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusCancelled
}

// Exhausted reports whether a failed operation has used up its retry budget
func (o *Operation) Exhausted() bool {
	return o.Status == StatusFailed && o.Attempts >= o.MaxAttempts
}

// Handler processes one operation against the server. Returning false or an
// error marks the attempt failed and leaves the operation eligible for
// retry until MaxAttempts. Handlers must be idempotent at the entity level:
// a retried operation may have been partially applied before a crash.
type Handler func(op *Operation) (bool, error)
