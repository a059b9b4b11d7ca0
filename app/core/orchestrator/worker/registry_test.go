package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	config "superagent/app/configs"
)

type stubWorker struct {
	name  string
	reply string
	err   error
}

func (w *stubWorker) Name() string {
	return w.name
}

func (w *stubWorker) Process(ctx context.Context, query string) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	return w.reply, nil
}

func TestGetOrCreateCachesWorker(t *testing.T) {
	r := NewRegistry(config.WorkerConfig{}, nil)
	var builds atomic.Int32
	r.Register("echo", func(context.Context) (Worker, error) {
		builds.Add(1)
		return &stubWorker{name: "echo", reply: "ok"}, nil
	})

	ctx := context.Background()
	first, err := r.GetOrCreate(ctx, "echo")
	if err != nil {
		t.Fatalf("first get failed: %v", err)
	}
	second, err := r.GetOrCreate(ctx, "echo")
	if err != nil {
		t.Fatalf("second get failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same cached worker instance")
	}
	if builds.Load() != 1 {
		t.Fatalf("expected one build, got %d", builds.Load())
	}
}

func TestGetOrCreateUnknownSkill(t *testing.T) {
	r := NewRegistry(config.WorkerConfig{}, nil)

	_, err := r.GetOrCreate(context.Background(), "juggling")
	if !errors.Is(err, ErrUnknownSkill) {
		t.Fatalf("expected ErrUnknownSkill, got %v", err)
	}
}

func TestGetOrCreateConcurrentBuildsOnce(t *testing.T) {
	r := NewRegistry(config.WorkerConfig{}, nil)
	var builds atomic.Int32
	r.Register("slow", func(context.Context) (Worker, error) {
		builds.Add(1)
		time.Sleep(50 * time.Millisecond)
		return &stubWorker{name: "slow", reply: "ok"}, nil
	})

	const callers = 16
	workers := make([]Worker, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := r.GetOrCreate(context.Background(), "slow")
			if err != nil {
				t.Errorf("caller %d failed: %v", i, err)
				return
			}
			workers[i] = w
		}(i)
	}
	wg.Wait()

	if builds.Load() != 1 {
		t.Fatalf("expected one build for concurrent callers, got %d", builds.Load())
	}
	for i := 1; i < callers; i++ {
		if workers[i] != workers[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
}

func TestGetOrCreateFailureNotCached(t *testing.T) {
	r := NewRegistry(config.WorkerConfig{}, nil)
	var builds atomic.Int32
	r.Register("flaky", func(context.Context) (Worker, error) {
		if builds.Add(1) == 1 {
			return nil, fmt.Errorf("credentials missing")
		}
		return &stubWorker{name: "flaky", reply: "ok"}, nil
	})

	ctx := context.Background()
	if _, err := r.GetOrCreate(ctx, "flaky"); !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit, got %v", err)
	}

	// A failed construction is retried on the next call.
	w, err := r.GetOrCreate(ctx, "flaky")
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if w.Name() != "flaky" {
		t.Fatalf("unexpected worker: %s", w.Name())
	}
	if builds.Load() != 2 {
		t.Fatalf("expected two builds, got %d", builds.Load())
	}
}

func TestBuiltInWorkerWithoutCredentials(t *testing.T) {
	r := NewRegistry(config.WorkerConfig{}, nil)

	_, err := r.GetOrCreate(context.Background(), SkillCode)
	if !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit without api key, got %v", err)
	}
}

func TestSkills(t *testing.T) {
	r := NewRegistry(config.WorkerConfig{}, nil)

	skills := r.Skills()
	want := []Skill{SkillAssistant, SkillCode, SkillImage, SkillResearch}
	if len(skills) != len(want) {
		t.Fatalf("expected %d skills, got %v", len(want), skills)
	}
	for i, s := range want {
		if skills[i] != s {
			t.Fatalf("expected %s at %d, got %s", s, i, skills[i])
		}
	}

	if !r.Has(SkillCode) {
		t.Fatalf("expected code skill to be registered")
	}
	if r.Has("juggling") {
		t.Fatalf("unexpected skill registered")
	}
}
