package router

import (
	"context"
	"strings"

	"superagent/app/core/orchestrator/worker"
)

// WorkerSource resolves a skill to its live worker. *worker.Registry
// satisfies it.
type WorkerSource interface {
	GetOrCreate(ctx context.Context, skill worker.Skill) (worker.Worker, error)
}

// Router dispatches a query to the worker owning its skill. It holds no state
// of its own and is safe to share across concurrent callers.
type Router struct {
	workers WorkerSource
}

func New(workers WorkerSource) *Router {
	return &Router{workers: workers}
}

// Dispatch resolves the worker for skill and returns its result unchanged.
// An unresolvable skill surfaces the registry error (worker.ErrUnknownSkill
// or worker.ErrInit); a failure from the worker itself comes back as a
// *worker.WorkerError carrying the skill and cause.
func (r *Router) Dispatch(ctx context.Context, skill worker.Skill, query string) (string, error) {
	w, err := r.workers.GetOrCreate(ctx, skill)
	if err != nil {
		return "", err
	}
	result, err := w.Process(ctx, strings.TrimSpace(query))
	if err != nil {
		return "", &worker.WorkerError{Skill: skill, Err: err}
	}
	return result, nil
}
