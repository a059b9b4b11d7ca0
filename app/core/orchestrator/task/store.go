package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"superagent/app/core/orchestrator/db"
)

const recordColumns = `id, skill, query, COALESCE(result, ''), status, fire_at, created_at, updated_at, COALESCE(completed_at, 0)`

// Store is the durable source of truth for task records and agent state blobs.
type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create inserts a new pending record. The caller must not assume the record
// exists if an error is returned.
func (s *Store) Create(ctx context.Context, skill string, query string) (TaskRecord, error) {
	return s.CreateScheduled(ctx, skill, query, time.Time{})
}

// CreateScheduled inserts a new pending record with an explicit fire time.
// A zero fireAt means "fire immediately" and is stored as the creation time.
func (s *Store) CreateScheduled(ctx context.Context, skill string, query string, fireAt time.Time) (TaskRecord, error) {
	skill = strings.TrimSpace(skill)
	if skill == "" {
		return TaskRecord{}, fmt.Errorf("%w: skill is required", ErrStorage)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return TaskRecord{}, fmt.Errorf("%w: query is required", ErrStorage)
	}

	now := time.Now()
	if fireAt.IsZero() {
		fireAt = now
	}
	res, err := s.db.Conn().ExecContext(ctx, `
INSERT INTO task_history (skill, query, result, status, fire_at, created_at, updated_at, completed_at)
VALUES (?, ?, NULL, ?, ?, ?, ?, NULL)`,
		skill, query, string(StatusPending), fireAt.Unix(), now.Unix(), now.Unix())
	if err != nil {
		return TaskRecord{}, fmt.Errorf("%w: insert record: %v", ErrStorage, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return TaskRecord{}, fmt.Errorf("%w: read record id: %v", ErrStorage, err)
	}
	return TaskRecord{
		ID:        id,
		Skill:     skill,
		Query:     query,
		Status:    StatusPending,
		FireAt:    time.Unix(fireAt.Unix(), 0),
		CreatedAt: time.Unix(now.Unix(), 0),
		UpdatedAt: time.Unix(now.Unix(), 0),
	}, nil
}

// Update applies result/status changes to one record. Transitions are
// validated against the state machine; entering a terminal status sets
// completed_at in the same write. The read-validate-write runs inside a
// transaction so concurrent updates to the same id serialize.
func (s *Store) Update(ctx context.Context, id int64, fields UpdateFields) (TaskRecord, error) {
	if fields.Result == nil && fields.Status == nil {
		return s.Get(ctx, id)
	}

	tx, err := s.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return TaskRecord{}, fmt.Errorf("%w: begin update: %v", ErrStorage, err)
	}
	defer tx.Rollback()

	current, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM task_history WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TaskRecord{}, fmt.Errorf("%w: task %d", ErrNotFound, id)
		}
		return TaskRecord{}, fmt.Errorf("%w: read record %d: %v", ErrStorage, id, err)
	}

	next := current
	if fields.Status != nil {
		if !CanTransition(current.Status, *fields.Status) {
			return TaskRecord{}, fmt.Errorf("%w: %s -> %s (task %d)", ErrIllegalTransition, current.Status, *fields.Status, id)
		}
		next.Status = *fields.Status
	}
	if fields.Result != nil {
		// A result only accompanies a terminal success/error transition.
		if fields.Status == nil || (*fields.Status != StatusSuccess && *fields.Status != StatusError) {
			return TaskRecord{}, fmt.Errorf("%w: result requires a success or error transition (task %d)", ErrIllegalTransition, id)
		}
		next.Result = *fields.Result
	}

	now := time.Now()
	next.UpdatedAt = time.Unix(now.Unix(), 0)
	completedAt := sql.NullInt64{}
	if next.Status.Terminal() {
		next.CompletedAt = time.Unix(now.Unix(), 0)
		completedAt = sql.NullInt64{Int64: now.Unix(), Valid: true}
	}

	result := sql.NullString{}
	if next.Result != "" {
		result = sql.NullString{String: next.Result, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE task_history SET result = ?, status = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		result, string(next.Status), now.Unix(), completedAt, id); err != nil {
		return TaskRecord{}, fmt.Errorf("%w: write record %d: %v", ErrStorage, id, err)
	}
	if err := tx.Commit(); err != nil {
		return TaskRecord{}, fmt.Errorf("%w: commit record %d: %v", ErrStorage, id, err)
	}
	return next, nil
}

func (s *Store) Get(ctx context.Context, id int64) (TaskRecord, error) {
	record, err := scanRecord(s.db.Conn().QueryRowContext(ctx, `SELECT `+recordColumns+` FROM task_history WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TaskRecord{}, fmt.Errorf("%w: task %d", ErrNotFound, id)
		}
		return TaskRecord{}, fmt.Errorf("%w: read record %d: %v", ErrStorage, id, err)
	}
	return record, nil
}

// ListRecent returns up to limit records, newest first. Records created in
// the same second keep id order as the tiebreak.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Conn().QueryContext(ctx, `
SELECT `+recordColumns+` FROM task_history ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list recent: %v", ErrStorage, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListPending returns all pending records in scheduling order, for restart
// reconciliation.
func (s *Store) ListPending(ctx context.Context) ([]TaskRecord, error) {
	rows, err := s.db.Conn().QueryContext(ctx, `
SELECT `+recordColumns+` FROM task_history WHERE status = ? ORDER BY fire_at ASC, id ASC`, string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("%w: list pending: %v", ErrStorage, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListStuckRunning returns running records not touched since the cutoff.
// These are firings interrupted between the running transition and the
// terminal write.
func (s *Store) ListStuckRunning(ctx context.Context, olderThan time.Duration) ([]TaskRecord, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	rows, err := s.db.Conn().QueryContext(ctx, `
SELECT `+recordColumns+` FROM task_history WHERE status = ? AND updated_at <= ? ORDER BY id ASC`, string(StatusRunning), cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: list stuck running: %v", ErrStorage, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// SaveState upserts an opaque state blob for one agent name.
func (s *Store) SaveState(ctx context.Context, agentName string, blob []byte) error {
	agentName = strings.TrimSpace(agentName)
	if agentName == "" {
		return fmt.Errorf("%w: agent name is required", ErrStorage)
	}
	if _, err := s.db.Conn().ExecContext(ctx, `
INSERT INTO agent_state (agent_name, state_blob, updated_at) VALUES (?, ?, ?)
ON CONFLICT(agent_name) DO UPDATE SET state_blob = excluded.state_blob, updated_at = excluded.updated_at`,
		agentName, blob, time.Now().Unix()); err != nil {
		return fmt.Errorf("%w: save state for %s: %v", ErrStorage, agentName, err)
	}
	return nil
}

// LoadState returns the state blob stored for one agent name.
func (s *Store) LoadState(ctx context.Context, agentName string) (AgentState, error) {
	var (
		state     AgentState
		updatedAt int64
	)
	err := s.db.Conn().QueryRowContext(ctx, `
SELECT agent_name, state_blob, updated_at FROM agent_state WHERE agent_name = ?`, agentName).
		Scan(&state.AgentName, &state.Blob, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AgentState{}, fmt.Errorf("%w: agent state %s", ErrNotFound, agentName)
		}
		return AgentState{}, fmt.Errorf("%w: load state for %s: %v", ErrStorage, agentName, err)
	}
	state.UpdatedAt = time.Unix(updatedAt, 0)
	return state, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (TaskRecord, error) {
	var (
		r           TaskRecord
		status      string
		fireAt      int64
		createdAt   int64
		updatedAt   int64
		completedAt int64
	)
	if err := row.Scan(&r.ID, &r.Skill, &r.Query, &r.Result, &status, &fireAt, &createdAt, &updatedAt, &completedAt); err != nil {
		return TaskRecord{}, err
	}
	r.Status = Status(status)
	r.FireAt = time.Unix(fireAt, 0)
	r.CreatedAt = time.Unix(createdAt, 0)
	r.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt > 0 {
		r.CompletedAt = time.Unix(completedAt, 0)
	}
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]TaskRecord, error) {
	items := make([]TaskRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", ErrStorage, err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", ErrStorage, err)
	}
	return items, nil
}
