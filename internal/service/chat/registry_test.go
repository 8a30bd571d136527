package chat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chat "github.com/zhouzirui/interview-sim/backend/internal/service/chat"
)

func TestRegistryGetOrCreateReturnsSameConversation(t *testing.T) {
	reg := chat.NewRegistry()

	a := reg.GetOrCreate("default")
	b := reg.GetOrCreate("default")
	if a != b {
		t.Fatal("expected the same conversation for the same id")
	}
	if reg.Len() != 1 {
		t.Fatalf("unexpected registry size: %d", reg.Len())
	}
}

func TestRegistryGetMissing(t *testing.T) {
	reg := chat.NewRegistry()

	if _, err := reg.Get("missing"); err != chat.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRegistryDeleteIsIdempotent(t *testing.T) {
	reg := chat.NewRegistry()
	conv := reg.GetOrCreate("s1")
	conv.SetSystemPrompt("P1")

	assert.True(t, reg.Delete("s1"))
	assert.False(t, reg.Delete("s1"))
	assert.False(t, reg.Delete("never-existed"))

	fresh := reg.GetOrCreate("s1")
	assert.NotSame(t, conv, fresh)
	assert.True(t, fresh.Fresh())
	assert.Empty(t, fresh.SystemPrompt())
	assert.Empty(t, fresh.History())
}

func TestRegistryConcurrentGetOrCreate(t *testing.T) {
	reg := chat.NewRegistry()

	var wg sync.WaitGroup
	got := make([]*chat.Conversation, 32)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = reg.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()

	for _, conv := range got {
		require.Same(t, got[0], conv)
	}
	assert.Equal(t, 1, reg.Len())
}

func TestRegistrySweepEvictsIdle(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg := chat.NewRegistry(chat.WithIdleTTL(time.Hour), chat.WithClock(clock))

	reg.GetOrCreate("old")
	now = now.Add(30 * time.Minute)
	reg.GetOrCreate("recent")
	now = now.Add(45 * time.Minute)

	assert.Equal(t, 1, reg.Sweep())
	_, err := reg.Get("old")
	assert.ErrorIs(t, err, chat.ErrSessionNotFound)
	_, err = reg.Get("recent")
	assert.NoError(t, err)
}

func TestRegistrySweepDisabled(t *testing.T) {
	now := time.Now()
	reg := chat.NewRegistry(chat.WithClock(func() time.Time { return now }))
	reg.GetOrCreate("s1")
	now = now.Add(24 * time.Hour)

	assert.Zero(t, reg.Sweep())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistrySweepSkipsBusyConversation(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	reg := chat.NewRegistry(chat.WithIdleTTL(time.Minute), chat.WithClock(clock))
	conv := reg.GetOrCreate("busy")

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = conv.Exchange(context.Background(), "hello", func(context.Context, []*schema.Message) (string, error) {
			close(started)
			<-release
			return "ok", nil
		})
	}()
	<-started

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()

	assert.Zero(t, reg.Sweep())
	assert.Equal(t, 1, reg.Len())

	close(release)
	<-done
}

func TestRegistryRunStopsOnCancel(t *testing.T) {
	reg := chat.NewRegistry(chat.WithIdleTTL(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		reg.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewSessionIDUnique(t *testing.T) {
	a, b := chat.NewSessionID(), chat.NewSessionID()
	if a == "" || a == b {
		t.Fatalf("expected distinct non-empty ids, got %q and %q", a, b)
	}
}
