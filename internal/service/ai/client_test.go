package ai_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/interview-sim/backend/internal/config"
	"github.com/zhouzirui/interview-sim/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/interview-sim/backend/internal/service/chat"
)

type stubModel struct {
	calls [][]*schema.Message
	reply *schema.Message
	err   error
	wait  time.Duration
}

func (s *stubModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	s.calls = append(s.calls, input)
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.reply, s.err
}

func (s *stubModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := s.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func TestClientChatCommitsOnSuccess(t *testing.T) {
	stub := &stubModel{reply: schema.AssistantMessage("hello back", nil)}
	client := ai.NewClientWithModel("stub", "m", stub)
	conv := chatservice.NewRegistry().GetOrCreate("s1")
	conv.SetSystemPrompt("P1")

	reply, err := client.Chat(context.Background(), conv, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello back", reply)

	require.Len(t, stub.calls, 1)
	require.Len(t, stub.calls[0], 2)
	assert.Equal(t, schema.System, stub.calls[0][0].Role)
	assert.Len(t, conv.History(), 2)
	assert.False(t, conv.Fresh())
}

func TestClientChatWrapsFailures(t *testing.T) {
	stub := &stubModel{err: errors.New("connection refused")}
	client := ai.NewClientWithModel("stub", "m", stub)
	conv := chatservice.NewRegistry().GetOrCreate("s1")

	_, err := client.Chat(context.Background(), conv, "hi")

	var perr *ai.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "stub", perr.Backend)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, conv.History())
	assert.True(t, conv.Fresh())
}

func TestClientChatNilMessage(t *testing.T) {
	client := ai.NewClientWithModel("stub", "m", &stubModel{})
	conv := chatservice.NewRegistry().GetOrCreate("s1")

	_, err := client.Chat(context.Background(), conv, "hi")
	var perr *ai.ProviderError
	assert.ErrorAs(t, err, &perr)
	assert.Empty(t, conv.History())
}

func TestClientTimeout(t *testing.T) {
	stub := &stubModel{reply: schema.AssistantMessage("late", nil), wait: time.Second}
	client := ai.NewClientWithModel("stub", "m", stub, ai.WithTimeout(10*time.Millisecond))

	_, err := client.Complete(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientCatalog(t *testing.T) {
	assert.Nil(t, ai.NewClientWithModel("stub", "m", &stubModel{}).Catalog())

	ollama := ai.NewOllamaChatModel("http://localhost:11434", "gemma3:4b", time.Second, nil)
	assert.NotNil(t, ai.NewClientWithModel("ollama", "gemma3:4b", ollama).Catalog())
}

func TestNewClientFromConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"pong"}}`))
	}))
	defer srv.Close()

	client, err := ai.NewClient(context.Background(), config.ProviderConfig{
		Kind:    config.ProviderOllama,
		BaseURL: srv.URL,
		Model:   "gemma3:4b",
		Timeout: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "ollama", client.Backend())
	assert.Equal(t, "gemma3:4b", client.ModelName())

	conv := chatservice.NewRegistry().GetOrCreate("s1")
	reply, err := client.Chat(context.Background(), conv, "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
}

func TestNewClientRejectsUnknownKind(t *testing.T) {
	_, err := ai.NewClient(context.Background(), config.ProviderConfig{Kind: "mystery"})
	assert.Error(t, err)
}
