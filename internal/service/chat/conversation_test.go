package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/interview-sim/backend/internal/model/chat"
	chat "github.com/zhouzirui/interview-sim/backend/internal/service/chat"
)

type recorder struct {
	calls   [][]*schema.Message
	replies []string
	err     error
}

func (r *recorder) complete(_ context.Context, messages []*schema.Message) (string, error) {
	r.calls = append(r.calls, messages)
	if r.err != nil {
		return "", r.err
	}
	reply := "ok"
	if len(r.replies) > 0 {
		reply, r.replies = r.replies[0], r.replies[1:]
	}
	return reply, nil
}

func roles(messages []*schema.Message) []schema.RoleType {
	out := make([]schema.RoleType, len(messages))
	for i, m := range messages {
		out[i] = m.Role
	}
	return out
}

func TestBuildPromptFreshWithoutSystemPrompt(t *testing.T) {
	conv := chat.NewRegistry().GetOrCreate("s0")

	msgs := conv.BuildPrompt("hello")
	require.Len(t, msgs, 1)
	assert.Equal(t, schema.User, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestSystemPromptSentOnceThenHistoryReplayed(t *testing.T) {
	ctx := context.Background()
	conv := chat.NewRegistry().GetOrCreate("s1")
	rec := &recorder{replies: []string{"hi there", "fine"}}

	require.True(t, conv.SetSystemPrompt("You are P1"))

	_, err := conv.Exchange(ctx, "hello", rec.complete)
	require.NoError(t, err)
	_, err = conv.Exchange(ctx, "how are you", rec.complete)
	require.NoError(t, err)

	require.Len(t, rec.calls, 2)
	assert.Equal(t, []schema.RoleType{schema.System, schema.User}, roles(rec.calls[0]))
	assert.Equal(t, "You are P1", rec.calls[0][0].Content)

	assert.Equal(t, []schema.RoleType{schema.User, schema.Assistant, schema.User}, roles(rec.calls[1]))
	assert.Equal(t, "hello", rec.calls[1][0].Content)
	assert.Equal(t, "hi there", rec.calls[1][1].Content)
	assert.Equal(t, "how are you", rec.calls[1][2].Content)
	assert.False(t, conv.Fresh())
}

func TestPersonaSwitchResendsPromptAndKeepsHistory(t *testing.T) {
	ctx := context.Background()
	conv := chat.NewRegistry().GetOrCreate("s1")
	rec := &recorder{}

	conv.SetSystemPrompt("P1")
	_, err := conv.Exchange(ctx, "first", rec.complete)
	require.NoError(t, err)

	assert.False(t, conv.SetSystemPrompt("P1"), "same prompt must not reset")
	assert.False(t, conv.Fresh())

	assert.True(t, conv.SetSystemPrompt("P2"))
	assert.True(t, conv.Fresh())
	assert.Len(t, conv.History(), 2, "history survives a prompt change")

	_, err = conv.Exchange(ctx, "second", rec.complete)
	require.NoError(t, err)

	last := rec.calls[len(rec.calls)-1]
	require.Len(t, last, 2)
	assert.Equal(t, schema.System, last[0].Role)
	assert.Equal(t, "P2", last[0].Content)
	assert.Equal(t, "second", last[1].Content)
	assert.Len(t, conv.History(), 4)
}

func TestFailedExchangeLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	conv := chat.NewRegistry().GetOrCreate("s2")
	conv.SetSystemPrompt("P1")

	rec := &recorder{err: errors.New("provider down")}
	_, err := conv.Exchange(ctx, "hello", rec.complete)
	require.Error(t, err)

	assert.True(t, conv.Fresh())
	assert.Empty(t, conv.History())

	rec.err = nil
	_, err = conv.Exchange(ctx, "hello again", rec.complete)
	require.NoError(t, err)
	assert.Equal(t, schema.System, rec.calls[1][0].Role, "retry still carries the system prompt")
}

func TestHistoryAlternatesUserAssistant(t *testing.T) {
	ctx := context.Background()
	conv := chat.NewRegistry().GetOrCreate("s3")
	rec := &recorder{}

	for _, msg := range []string{"a", "b", "c"} {
		_, err := conv.Exchange(ctx, msg, rec.complete)
		require.NoError(t, err)
	}

	history := conv.History()
	require.Len(t, history, 6)
	for i, turn := range history {
		want := model.RoleUser
		if i%2 == 1 {
			want = model.RoleAssistant
		}
		assert.Equal(t, want, turn.Role, "turn %d", i)
	}
}

func TestBuildPromptDoesNotMutate(t *testing.T) {
	conv := chat.NewRegistry().GetOrCreate("s4")
	conv.SetSystemPrompt("P1")

	conv.BuildPrompt("one")
	conv.BuildPrompt("two")

	assert.True(t, conv.Fresh())
	assert.Empty(t, conv.History())
}

func TestConcurrentExchangesAreSerialized(t *testing.T) {
	ctx := context.Background()
	conv := chat.NewRegistry().GetOrCreate("s5")

	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	call := func(context.Context, []*schema.Message) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return "ok", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = conv.Exchange(ctx, "msg", call)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Len(t, conv.History(), 16)
}
