package ai

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"
)

const openaiBackend = "openai"

// OpenAIChatModel targets any OpenAI-compatible chat completions API.
type OpenAIChatModel struct {
	client      *openai.Client
	model       string
	temperature *float64
	maxTokens   *int
}

var (
	_ model.BaseChatModel = (*OpenAIChatModel)(nil)
	_ ModelCatalog        = (*OpenAIChatModel)(nil)
)

func NewOpenAIChatModel(baseURL, apiKey, modelName string, timeout time.Duration, temperature *float64, maxTokens *int) *OpenAIChatModel {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAIChatModel{
		client:      openai.NewClientWithConfig(cfg),
		model:       modelName,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &m.model}, opts...)

	req := openai.ChatCompletionRequest{
		Model:    *options.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(input)),
	}
	for _, msg := range input {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	switch {
	case options.Temperature != nil:
		req.Temperature = *options.Temperature
	case m.temperature != nil:
		req.Temperature = float32(*m.temperature)
	}
	switch {
	case options.MaxTokens != nil:
		req.MaxTokens = *options.MaxTokens
	case m.maxTokens != nil:
		req.MaxTokens = *m.maxTokens
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Backend: openaiBackend, Err: errMissingContent}
	}
	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

func (m *OpenAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Ping lists models; OpenAI-compatible servers have no cheaper health probe.
func (m *OpenAIChatModel) Ping(ctx context.Context) error {
	_, err := m.client.ListModels(ctx)
	if err != nil {
		return wrapOpenAIError(err)
	}
	return nil
}

func (m *OpenAIChatModel) ListModels(ctx context.Context) ([]string, error) {
	list, err := m.client.ListModels(ctx)
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	names := make([]string, 0, len(list.Models))
	for _, entry := range list.Models {
		names = append(names, entry.ID)
	}
	return names, nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Backend: openaiBackend, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Backend: openaiBackend, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &ProviderError{Backend: openaiBackend, Err: err}
}
