package worker

import (
	"context"

	"github.com/openai/openai-go"

	config "superagent/app/configs"
)

const researchSystemPrompt = "You are a thorough research assistant. Summarize what is " +
	"known about the user's topic, organized by theme, and note where the information " +
	"may be incomplete or contested. Keep the summary factual and cite the kind of " +
	"source each claim would come from."

// researchWorker answers research queries with the OpenAI API.
type researchWorker struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func newResearchWorker(cfg config.WorkerConfig) (Worker, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	return &researchWorker{
		client:    client,
		model:     cfg.OpenAIModel,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (w *researchWorker) Name() string {
	return string(SkillResearch)
}

func (w *researchWorker) Process(ctx context.Context, query string) (string, error) {
	return generateText(ctx, w.client, w.model, w.maxTokens, 0.5, researchSystemPrompt, query)
}
