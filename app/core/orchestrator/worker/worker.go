package worker

import (
	"context"
	"errors"
	"fmt"

	"superagent/app/core/orchestrator/task"
)

// Skill identifies a request category mapped to exactly one worker type.
type Skill string

const (
	SkillCode      Skill = "code"
	SkillImage     Skill = "image"
	SkillResearch  Skill = "research"
	SkillAssistant Skill = "assistant"
)

var (
	ErrUnknownSkill = errors.New("worker: unknown skill")
	ErrInit         = errors.New("worker: initialization failed")
)

// Worker turns a query into a text result for one skill. Implementations are
// remote-call wrappers: slow, and allowed to fail.
type Worker interface {
	Name() string
	Process(ctx context.Context, query string) (string, error)
}

// WorkerError wraps a failure from a worker's remote call with the skill it
// came from, so callers can distinguish worker failures from routing failures.
type WorkerError struct {
	Skill Skill
	Err   error
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker %s failed: %v", e.Skill, e.Err)
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// StateStore lets workers persist opaque state blobs across restarts.
// *task.Store satisfies it.
type StateStore interface {
	SaveState(ctx context.Context, agentName string, blob []byte) error
	LoadState(ctx context.Context, agentName string) (task.AgentState, error)
}
