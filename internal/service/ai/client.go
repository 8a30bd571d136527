package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/interview-sim/backend/internal/config"
	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	"github.com/zhouzirui/interview-sim/backend/internal/metrics"
	chatservice "github.com/zhouzirui/interview-sim/backend/internal/service/chat"
)

// ProviderError reports a failed chat provider call: the endpoint could not be
// reached, answered with a non-success status, or returned no message text.
type ProviderError struct {
	Backend    string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("error communicating with %s: status %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("error communicating with %s: %v", e.Backend, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// errMissingContent is wrapped when a response carries no message text.
var errMissingContent = errors.New("response missing message content")

// ModelCatalog is implemented by backends that can be probed before serving.
type ModelCatalog interface {
	Ping(ctx context.Context) error
	ListModels(ctx context.Context) ([]string, error)
}

// Client sends one non-streaming completion per exchange and commits the
// result to the conversation.
type Client struct {
	backend   string
	modelName string
	model     model.BaseChatModel
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option customizes a Client.
type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithTimeout bounds each provider call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient builds the backend selected by cfg.Kind.
func NewClient(ctx context.Context, cfg config.ProviderConfig, opts ...Option) (*Client, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch cfg.Kind {
	case config.ProviderOllama:
		chatModel = NewOllamaChatModel(cfg.BaseURL, cfg.Model, cfg.Timeout, cfg.Temperature)
	case config.ProviderOpenAI:
		chatModel = NewOpenAIChatModel(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout, cfg.Temperature, cfg.MaxTokens)
	case config.ProviderArk:
		chatModel, err = cfg.NewArkChatModel(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create ark chat model: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported chat provider %q", cfg.Kind)
	}

	opts = append([]Option{WithTimeout(cfg.Timeout)}, opts...)
	return NewClientWithModel(cfg.Kind, cfg.Model, chatModel, opts...), nil
}

// NewClientWithModel wraps an existing eino chat model.
func NewClientWithModel(backend, modelName string, chatModel model.BaseChatModel, opts ...Option) *Client {
	c := &Client{
		backend:   backend,
		modelName: modelName,
		model:     chatModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).With("component", "ai", "backend", backend)
	return c
}

// Backend names the configured provider kind.
func (c *Client) Backend() string {
	return c.backend
}

// ModelName is the model identifier sent with every request.
func (c *Client) ModelName() string {
	return c.modelName
}

// Catalog returns the backend's model catalog, or nil when it has none.
func (c *Client) Catalog() ModelCatalog {
	catalog, _ := c.model.(ModelCatalog)
	return catalog
}

// Chat runs one exchange on conv. History is only updated when the provider
// answers successfully.
func (c *Client) Chat(ctx context.Context, conv *chatservice.Conversation, userMessage string) (string, error) {
	reply, err := conv.Exchange(ctx, userMessage, c.Complete)
	if err != nil {
		c.logger.Error("chat exchange failed", "session_id", conv.ID(), "err", err)
		return "", err
	}
	c.logger.Debug("chat exchange completed", "session_id", conv.ID(), "reply_len", len(reply))
	return reply, nil
}

// Complete sends messages to the provider and returns the assistant text.
func (c *Client) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := c.generate(ctx, messages)
	c.metrics.ObserveProvider(c.backend, time.Since(start), err)
	return reply, err
}

func (c *Client) generate(ctx context.Context, messages []*schema.Message) (string, error) {
	msg, err := c.model.Generate(ctx, messages)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) {
			return "", err
		}
		return "", &ProviderError{Backend: c.backend, Err: err}
	}
	if msg == nil {
		return "", &ProviderError{Backend: c.backend, Err: errMissingContent}
	}
	return msg.Content, nil
}
