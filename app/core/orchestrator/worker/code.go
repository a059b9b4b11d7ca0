package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	config "superagent/app/configs"
)

const codeSystemPrompt = "You are an expert programmer. Generate clean, efficient, " +
	"well-documented code based on the user's request. Include comments explaining " +
	"key parts of the code. Only respond with code, no explanations outside of code comments."

// codeWorker generates code with the Anthropic API.
type codeWorker struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

func newCodeWorker(cfg config.WorkerConfig) (Worker, error) {
	if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is not set")
	}
	client := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))
	return &codeWorker{
		client:    &client,
		model:     cfg.AnthropicModel,
		maxTokens: int64(cfg.MaxTokens),
	}, nil
}

func (w *codeWorker) Name() string {
	return string(SkillCode)
}

func (w *codeWorker) Process(ctx context.Context, query string) (string, error) {
	prompt := fmt.Sprintf("Generate code for the following request: %s\n\n"+
		"Requirements:\n"+
		"- Include proper error handling\n"+
		"- Follow the conventions of the target language\n"+
		"- Include doc comments for exported functions and types\n"+
		"- Make the code modular and reusable", query)

	msg, err := w.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(w.model),
		MaxTokens: w.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: codeSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.New("anthropic generate: empty response")
	}
	return content, nil
}
