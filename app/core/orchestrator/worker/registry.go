package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	config "superagent/app/configs"
	"superagent/app/pkg/logger"
)

// Builder constructs a worker for one skill. Construction may block on
// credential validation and may fail; failures are not cached.
type Builder func(ctx context.Context) (Worker, error)

// Registry caches exactly one live worker per skill for the lifetime of the
// process. Workers are built lazily on first use; concurrent first calls for
// the same skill share a single in-flight construction.
type Registry struct {
	mu       sync.Mutex
	builders map[Skill]Builder
	workers  map[Skill]Worker
	inflight map[Skill]*construction
}

type construction struct {
	done chan struct{}
	w    Worker
	err  error
}

// NewRegistry creates a registry with the built-in skill workers registered.
func NewRegistry(cfg config.WorkerConfig, states StateStore) *Registry {
	r := &Registry{
		builders: make(map[Skill]Builder),
		workers:  make(map[Skill]Worker),
		inflight: make(map[Skill]*construction),
	}
	r.Register(SkillCode, func(context.Context) (Worker, error) {
		return newCodeWorker(cfg)
	})
	r.Register(SkillImage, func(context.Context) (Worker, error) {
		return newImageWorker(cfg)
	})
	r.Register(SkillResearch, func(context.Context) (Worker, error) {
		return newResearchWorker(cfg)
	})
	r.Register(SkillAssistant, func(ctx context.Context) (Worker, error) {
		return newAssistantWorker(ctx, cfg, states)
	})
	return r
}

// Register installs the builder for a skill. Existing cached workers keep
// serving; registration is meant to happen at assembly time.
func (r *Registry) Register(skill Skill, build Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[skill] = build
}

// GetOrCreate returns the cached worker for the skill, building it on first
// use. The construction routine runs at most once per skill at a time, and a
// successful build is cached forever.
func (r *Registry) GetOrCreate(ctx context.Context, skill Skill) (Worker, error) {
	r.mu.Lock()
	if w, ok := r.workers[skill]; ok {
		r.mu.Unlock()
		return w, nil
	}
	if c, ok := r.inflight[skill]; ok {
		r.mu.Unlock()
		select {
		case <-c.done:
			if c.err != nil {
				return nil, c.err
			}
			return c.w, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	build, ok := r.builders[skill]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownSkill, skill)
	}
	c := &construction{done: make(chan struct{})}
	r.inflight[skill] = c
	r.mu.Unlock()

	w, err := build(ctx)

	r.mu.Lock()
	delete(r.inflight, skill)
	if err != nil {
		c.err = fmt.Errorf("%w: %s: %v", ErrInit, skill, err)
	} else {
		c.w = w
		r.workers[skill] = w
	}
	r.mu.Unlock()
	close(c.done)

	if c.err != nil {
		return nil, c.err
	}
	logger.Info("Created %s worker", skill)
	return w, nil
}

// Skills lists the registered skill identifiers, sorted.
func (r *Registry) Skills() []Skill {
	r.mu.Lock()
	defer r.mu.Unlock()
	skills := make([]Skill, 0, len(r.builders))
	for skill := range r.builders {
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i] < skills[j] })
	return skills
}

// Has reports whether a builder is registered for the skill.
func (r *Registry) Has(skill Skill) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.builders[skill]
	return ok
}
