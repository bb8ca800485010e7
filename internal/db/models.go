package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// Task statuses.
const (
	TaskStatusSubmitted = "submitted"
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusPaused    = "paused"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// TerminalTaskStatus reports whether a status admits no further transitions.
func TerminalTaskStatus(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is the unit of agent work. ExecutionID is the engine workflow id,
// set once at start and never changed.
type Task struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	WorkspaceID uuid.UUID  `db:"workspace_id" json:"workspace_id"`
	CreatedBy   uuid.UUID  `db:"created_by" json:"created_by"`
	AgentID     uuid.UUID  `db:"agent_id" json:"agent_id"`
	Description string     `db:"description" json:"description"`
	Parameters  JSONB      `db:"parameters" json:"parameters"`
	Status      string     `db:"status" json:"status"`
	Result      JSONB      `db:"result" json:"result,omitempty"`
	Error       *string    `db:"error" json:"error,omitempty"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ExecutionID *string    `db:"execution_id" json:"execution_id,omitempty"`
	Metadata    JSONB      `db:"metadata" json:"metadata"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// TaskEvent is an append-only record of the durable per-task event stream.
// Seq is a bigserial used only to break timestamp ties in replay order.
type TaskEvent struct {
	ID          uuid.UUID `db:"id" json:"event_id"`
	TaskID      uuid.UUID `db:"task_id" json:"task_id"`
	WorkspaceID uuid.UUID `db:"workspace_id" json:"workspace_id"`
	EventType   string    `db:"event_type" json:"event_type"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Data        JSONB     `db:"data" json:"data"`
	Metadata    JSONB     `db:"metadata" json:"metadata,omitempty"`
	Seq         int64     `db:"seq" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
