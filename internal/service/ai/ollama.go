package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	ollamaBackend = "ollama"
	// maxErrorBody caps how much of a failed response is kept in the error.
	maxErrorBody = 2048
)

// OllamaChatModel talks to an Ollama server's /api/chat endpoint.
type OllamaChatModel struct {
	baseURL     string
	model       string
	temperature *float64
	httpClient  *http.Client
}

var (
	_ model.BaseChatModel = (*OllamaChatModel)(nil)
	_ ModelCatalog        = (*OllamaChatModel)(nil)
)

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message *struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// NewOllamaChatModel 创建 Ollama 聊天模型。
func NewOllamaChatModel(baseURL, modelName string, timeout time.Duration, temperature *float64) *OllamaChatModel {
	return &OllamaChatModel{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       modelName,
		temperature: temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Generate sends a single non-streaming chat request.
func (m *OllamaChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	options := model.GetCommonOptions(&model.Options{Model: &m.model}, opts...)

	req := ollamaChatRequest{
		Model:    *options.Model,
		Messages: make([]ollamaMessage, 0, len(input)),
		Stream:   false,
	}
	for _, msg := range input {
		req.Messages = append(req.Messages, ollamaMessage{Role: string(msg.Role), Content: msg.Content})
	}
	if options.Temperature != nil {
		req.Options = map[string]any{"temperature": *options.Temperature}
	} else if m.temperature != nil {
		req.Options = map[string]any{"temperature": *m.temperature}
	}

	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}

	raw, err := m.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return nil, err
	}

	var resp ollamaChatResponse
	if err := sonic.Unmarshal(raw, &resp); err != nil {
		return nil, &ProviderError{Backend: ollamaBackend, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.Message == nil || resp.Message.Content == nil {
		return nil, &ProviderError{Backend: ollamaBackend, Err: errMissingContent}
	}
	return schema.AssistantMessage(*resp.Message.Content, nil), nil
}

// Stream wraps Generate; Ollama is always called with stream=false.
func (m *OllamaChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Ping checks that the server answers on its root path.
func (m *OllamaChatModel) Ping(ctx context.Context) error {
	_, err := m.do(ctx, http.MethodGet, "/", nil)
	return err
}

// ListModels returns the names of the locally available models.
func (m *OllamaChatModel) ListModels(ctx context.Context) ([]string, error) {
	raw, err := m.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}

	var tags ollamaTagsResponse
	if err := sonic.Unmarshal(raw, &tags); err != nil {
		return nil, &ProviderError{Backend: ollamaBackend, Err: fmt.Errorf("decode model list: %w", err)}
	}

	names := make([]string, 0, len(tags.Models))
	for _, entry := range tags.Models {
		name := entry.Name
		if name == "" {
			name = entry.Model
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (m *OllamaChatModel) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return nil, &ProviderError{Backend: ollamaBackend, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Backend: ollamaBackend, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(detail))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &ProviderError{Backend: ollamaBackend, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Backend: ollamaBackend, Err: fmt.Errorf("read response: %w", err)}
	}
	return raw, nil
}
