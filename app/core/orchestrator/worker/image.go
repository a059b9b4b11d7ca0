package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	config "superagent/app/configs"
)

// imageWorker generates images with the OpenAI Images API and returns the
// hosted image URL as its text result.
type imageWorker struct {
	client *openai.Client
	model  string
	size   string
}

func newImageWorker(cfg config.WorkerConfig) (Worker, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	return &imageWorker{
		client: client,
		model:  cfg.ImageModel,
		size:   cfg.ImageSize,
	}, nil
}

func (w *imageWorker) Name() string {
	return string(SkillImage)
}

func (w *imageWorker) Process(ctx context.Context, query string) (string, error) {
	result, err := w.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: query,
		Model:  openai.ImageModel(w.model),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize(w.size),
	})
	if err != nil {
		return "", fmt.Errorf("openai image generate: %w", err)
	}
	if len(result.Data) == 0 {
		return "", errors.New("openai image generate: no image returned")
	}
	return result.Data[0].URL, nil
}
