package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/openai/openai-go"

	config "superagent/app/configs"
	"superagent/app/core/orchestrator/task"
	"superagent/app/pkg/logger"
)

const assistantSystemPrompt = "You are a helpful personal assistant. Handle calendar " +
	"requests, email drafting, file search descriptions, and summaries. Respond " +
	"concisely and confirm what you did or propose a concrete next step."

const assistantStateKey = "assistant"

// assistantState is the resumable context the assistant persists between
// process restarts.
type assistantState struct {
	LastQuery   string    `json:"last_query"`
	LastReplyAt time.Time `json:"last_reply_at"`
}

// assistantWorker handles personal-assistant queries with the OpenAI API and
// keeps a small resumable context in the agent_state table.
type assistantWorker struct {
	client    *openai.Client
	model     string
	maxTokens int
	states    StateStore
	state     assistantState
}

func newAssistantWorker(ctx context.Context, cfg config.WorkerConfig, states StateStore) (Worker, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	w := &assistantWorker{
		client:    client,
		model:     cfg.OpenAIModel,
		maxTokens: cfg.MaxTokens,
		states:    states,
	}
	if states != nil {
		saved, err := states.LoadState(ctx, assistantStateKey)
		switch {
		case err == nil:
			if unmarshalErr := json.Unmarshal(saved.Blob, &w.state); unmarshalErr != nil {
				logger.Error("Discarding unreadable assistant state: %v", unmarshalErr)
				w.state = assistantState{}
			}
		case errors.Is(err, task.ErrNotFound):
			// First run, nothing to resume.
		default:
			return nil, err
		}
	}
	return w, nil
}

func (w *assistantWorker) Name() string {
	return string(SkillAssistant)
}

func (w *assistantWorker) Process(ctx context.Context, query string) (string, error) {
	reply, err := generateText(ctx, w.client, w.model, w.maxTokens, 0.7, assistantSystemPrompt, query)
	if err != nil {
		return "", err
	}

	w.state = assistantState{LastQuery: query, LastReplyAt: time.Now()}
	if w.states != nil {
		blob, marshalErr := json.Marshal(w.state)
		if marshalErr == nil {
			if saveErr := w.states.SaveState(ctx, assistantStateKey, blob); saveErr != nil {
				logger.Error("Failed to persist assistant state: %v", saveErr)
			}
		}
	}
	return reply, nil
}
