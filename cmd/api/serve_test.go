package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/interview-sim/backend/internal/service/readiness"
)

// unusedAddr returns a loopback address nothing is listening on.
func unusedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func setServeEnv(t *testing.T, providerURL, model, listenAddr string) {
	t.Helper()
	t.Setenv("PROVIDER", "ollama")
	t.Setenv("PROVIDER_BASE_URL", providerURL)
	t.Setenv("PROVIDER_MODEL", model)
	t.Setenv("PROVIDER_TIMEOUT", "2s")
	t.Setenv("PORT", listenAddr)
	t.Setenv("SPEECH_ENGINE", "none")
	t.Setenv("DATABASE_PATH", ":memory:")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "error")
}

func runServe(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- serve(ctx) }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return; it should abort before listening")
		return nil
	}
}

func assertNotListening(t *testing.T, addr string) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err == nil {
		conn.Close()
		t.Fatalf("something is listening on %s", addr)
	}
}

func TestServeAbortsWhenProviderUnreachable(t *testing.T) {
	listenAddr := unusedAddr(t)
	setServeEnv(t, "http://"+unusedAddr(t), "qwen2.5", listenAddr)

	err := runServe(t)

	var depErr *readiness.StartupDependencyError
	require.True(t, errors.As(err, &depErr), "expected StartupDependencyError, got %v", err)
	assert.Equal(t, readiness.CheckProviderReachable, depErr.Check)
	assertNotListening(t, listenAddr)
}

func TestServeAbortsWhenModelMissing(t *testing.T) {
	ollama := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Write([]byte("Ollama is running"))
		case "/api/tags":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"models":[{"name":"qwen2.5:1.5b","model":"qwen2.5:1.5b"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ollama.Close()

	listenAddr := unusedAddr(t)
	setServeEnv(t, ollama.URL, "qwen2.5", listenAddr)

	err := runServe(t)

	var depErr *readiness.StartupDependencyError
	require.True(t, errors.As(err, &depErr), "expected StartupDependencyError, got %v", err)
	assert.Equal(t, readiness.CheckModelPresent, depErr.Check)
	assert.Contains(t, err.Error(), "available models: qwen2.5:1.5b")
	assertNotListening(t, listenAddr)
}
