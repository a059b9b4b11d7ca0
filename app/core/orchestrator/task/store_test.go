package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"superagent/app/core/orchestrator/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database, err := db.NewSQLiteDB(t.TempDir())
	if err != nil {
		t.Fatalf("init sqlite failed: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return NewStore(database)
}

func statusPtr(s Status) *Status {
	return &s
}

func stringPtr(s string) *string {
	return &s
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.Create(ctx, "code", "write a sort function")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if record.ID <= 0 {
		t.Fatalf("expected positive id, got %d", record.ID)
	}
	if record.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", record.Status)
	}
	if record.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}

	got, err := store.Get(ctx, record.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Skill != "code" || got.Query != "write a sort function" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.JobID() != JobID(record.ID) {
		t.Fatalf("job id mismatch: %s vs %s", got.JobID(), JobID(record.ID))
	}
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), 9999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateScheduledKeepsFireAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fireAt := time.Now().Add(90 * time.Minute)
	record, err := store.CreateScheduled(ctx, "research", "quantum computing", fireAt)
	if err != nil {
		t.Fatalf("create scheduled failed: %v", err)
	}
	if record.FireAt.Unix() != fireAt.Unix() {
		t.Fatalf("fire_at mismatch: got %v want %v", record.FireAt, fireAt)
	}
}

func TestUpdateLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.Create(ctx, "code", "q")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	running, err := store.Update(ctx, record.ID, UpdateFields{Status: statusPtr(StatusRunning)})
	if err != nil {
		t.Fatalf("pending->running failed: %v", err)
	}
	if running.Status != StatusRunning {
		t.Fatalf("expected running, got %s", running.Status)
	}
	if !running.CompletedAt.IsZero() {
		t.Fatalf("running record must not have completed_at")
	}

	done, err := store.Update(ctx, record.ID, UpdateFields{
		Status: statusPtr(StatusSuccess),
		Result: stringPtr("func sort() {}"),
	})
	if err != nil {
		t.Fatalf("running->success failed: %v", err)
	}
	if done.Result != "func sort() {}" {
		t.Fatalf("result not stored: %q", done.Result)
	}
	if done.CompletedAt.IsZero() {
		t.Fatalf("terminal record must have completed_at")
	}
}

func TestUpdateIllegalTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.Create(ctx, "code", "q")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// pending cannot jump straight to a terminal result state.
	if _, err := store.Update(ctx, record.ID, UpdateFields{Status: statusPtr(StatusSuccess)}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for pending->success, got %v", err)
	}

	if _, err := store.Update(ctx, record.ID, UpdateFields{Status: statusPtr(StatusCancelled)}); err != nil {
		t.Fatalf("pending->cancelled failed: %v", err)
	}

	// cancelled is terminal.
	if _, err := store.Update(ctx, record.ID, UpdateFields{Status: statusPtr(StatusRunning)}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for cancelled->running, got %v", err)
	}
}

func TestUpdateResultRequiresTerminalTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.Create(ctx, "code", "q")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := store.Update(ctx, record.ID, UpdateFields{Result: stringPtr("early")}); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for result on pending record, got %v", err)
	}
}

func TestUpdateMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Update(context.Background(), 12345, UpdateFields{Status: statusPtr(StatusRunning)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRecentOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "code", "first")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	second, err := store.Create(ctx, "research", "second")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	records, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list recent failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Newest first; same-second creations fall back to id order.
	if records[0].ID != second.ID || records[1].ID != first.ID {
		t.Fatalf("unexpected order: %d then %d", records[0].ID, records[1].ID)
	}

	limited, err := store.ListRecent(ctx, 1)
	if err != nil {
		t.Fatalf("list recent with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != second.ID {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestListPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	later, err := store.CreateScheduled(ctx, "code", "later", time.Now().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	sooner, err := store.CreateScheduled(ctx, "code", "sooner", time.Now().Add(1*time.Hour))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	cancelledRec, err := store.Create(ctx, "code", "cancelled")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := store.Update(ctx, cancelledRec.ID, UpdateFields{Status: statusPtr(StatusCancelled)}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending records, got %d", len(pending))
	}
	if pending[0].ID != sooner.ID || pending[1].ID != later.ID {
		t.Fatalf("expected fire_at order, got %d then %d", pending[0].ID, pending[1].ID)
	}
}

func TestListStuckRunning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record, err := store.Create(ctx, "code", "q")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := store.Update(ctx, record.ID, UpdateFields{Status: statusPtr(StatusRunning)}); err != nil {
		t.Fatalf("pending->running failed: %v", err)
	}

	// Freshly updated records are not stuck yet.
	stuck, err := store.ListStuckRunning(ctx, time.Minute)
	if err != nil {
		t.Fatalf("list stuck failed: %v", err)
	}
	if len(stuck) != 0 {
		t.Fatalf("expected no stuck records, got %d", len(stuck))
	}

	stuck, err = store.ListStuckRunning(ctx, 0)
	if err != nil {
		t.Fatalf("list stuck failed: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != record.ID {
		t.Fatalf("expected the running record, got %+v", stuck)
	}
}

func TestAgentStateRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.LoadState(ctx, "assistant"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing state, got %v", err)
	}

	if err := store.SaveState(ctx, "assistant", []byte(`{"last_query":"hi"}`)); err != nil {
		t.Fatalf("save state failed: %v", err)
	}
	state, err := store.LoadState(ctx, "assistant")
	if err != nil {
		t.Fatalf("load state failed: %v", err)
	}
	if string(state.Blob) != `{"last_query":"hi"}` {
		t.Fatalf("unexpected blob: %s", state.Blob)
	}

	// Save again replaces the previous blob.
	if err := store.SaveState(ctx, "assistant", []byte(`{"last_query":"bye"}`)); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	state, err = store.LoadState(ctx, "assistant")
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if string(state.Blob) != `{"last_query":"bye"}` {
		t.Fatalf("blob not replaced: %s", state.Blob)
	}
}
