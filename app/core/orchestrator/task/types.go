package task

import (
	"errors"
	"fmt"
	"time"
)

// JobID derives the stable scheduler job key for a record id, e.g. "task_7".
func JobID(id int64) string {
	return fmt.Sprintf("task_%d", id)
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

var (
	ErrNotFound          = errors.New("task: record not found")
	ErrIllegalTransition = errors.New("task: illegal status transition")
	ErrStorage           = errors.New("task: storage failure")
)

// Terminal reports whether no further status transitions are permitted.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusError, StatusCancelled:
		return true
	}
	return false
}

// CanTransition encodes the record state machine:
// pending -> running -> {success, error}, or pending -> cancelled.
func CanTransition(from, to Status) bool {
	if !from.valid() || !to.valid() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusSuccess || to == StatusError
	default:
		return false
	}
}

// TaskRecord is one scheduled unit of work as persisted in task_history.
type TaskRecord struct {
	ID          int64     `json:"id"`
	Skill       string    `json:"skill"`
	Query       string    `json:"query"`
	Result      string    `json:"result,omitempty"`
	Status      Status    `json:"status"`
	FireAt      time.Time `json:"fire_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"` // zero until the record reaches a terminal status
}

// JobID renders the scheduler key derived from the record id.
func (r TaskRecord) JobID() string {
	return JobID(r.ID)
}

// AgentState is an opaque per-worker state blob.
type AgentState struct {
	AgentName string
	Blob      []byte
	UpdatedAt time.Time
}

// UpdateFields carries the mutable TaskRecord fields; nil means unchanged.
type UpdateFields struct {
	Result *string
	Status *Status
}
