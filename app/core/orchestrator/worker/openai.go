package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	config "superagent/app/configs"
)

func newOpenAIClient(cfg config.WorkerConfig) (*openai.Client, error) {
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	client := openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey))
	return &client, nil
}

// generateText runs one system+user turn against the OpenAI Responses API and
// returns the output text.
func generateText(ctx context.Context, client *openai.Client, model string, maxTokens int, temperature float64, system string, query string) (string, error) {
	result, err := client.Responses.New(ctx, responses.ResponseNewParams{
		Model: shared.ResponsesModel(model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: responses.ResponseInputParam{
				responses.ResponseInputItemParamOfMessage(system, responses.EasyInputMessageRoleSystem),
				responses.ResponseInputItemParamOfMessage(query, responses.EasyInputMessageRoleUser),
			},
		},
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Temperature:     openai.Float(temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	content := result.OutputText()
	if strings.TrimSpace(content) == "" {
		return "", errors.New("openai generate: empty response")
	}
	return content, nil
}
