package generate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrompt(t *testing.T) {
	p := Prompt("Go memory model")

	assert.Contains(t, p, `"Go memory model"`)
	assert.NotContains(t, p, "%s")
	// Topics are data, never format verbs.
	assert.Contains(t, Prompt("100% coverage"), `"100% coverage"`)
}

func TestDeepSeekGenerate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"  # Raft\n\nBody  "}}]}`)
	}))
	defer srv.Close()

	d := NewDeepSeek("secret", srv.URL+"/", Options{})
	article, err := d.Generate(context.Background(), "Raft")
	require.NoError(t, err)
	assert.Equal(t, "# Raft\n\nBody", article)

	assert.Equal(t, DefaultDeepSeekModel, got.Model)
	assert.Equal(t, DefaultMaxTokens, got.MaxTokens)
	assert.InDelta(t, DefaultTemperature, got.Temperature, 0.0001)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, Prompt("Raft"), got.Messages[0].Content)
}

func TestZeroTemperatureIsSent(t *testing.T) {
	zero := 0.0

	t.Run("deepseek", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"# A"}}]}`)
		}))
		defer srv.Close()

		_, err := NewDeepSeek("k", srv.URL, Options{Temperature: &zero}).Generate(context.Background(), "t")
		require.NoError(t, err)
		require.Contains(t, got, "temperature")
		assert.EqualValues(t, 0, got["temperature"])
	})

	t.Run("claude", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5",
				"content":[{"type":"text","text":"# A"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)
		}))
		defer srv.Close()

		_, err := NewClaude("k", Options{Temperature: &zero}, option.WithBaseURL(srv.URL)).Generate(context.Background(), "t")
		require.NoError(t, err)
		require.Contains(t, got, "temperature")
		assert.EqualValues(t, 0, got["temperature"])
	})
}

func TestDeepSeekGenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "bad status", status: http.StatusServiceUnavailable, body: "overloaded", wantErr: "unexpected status 503 Service Unavailable: overloaded"},
		{name: "long error body", status: http.StatusBadGateway, body: strings.Repeat("x", 500), wantErr: strings.Repeat("x", 200) + "…"},
		{name: "malformed", status: http.StatusOK, body: "{", wantErr: "malformed response"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantErr: "empty response"},
		{name: "blank content", status: http.StatusOK, body: `{"choices":[{"message":{"content":"  "}}]}`, wantErr: "empty article"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewDeepSeek("k", srv.URL, Options{}).Generate(context.Background(), "t")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDeepSeekGenerateHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewDeepSeek("k", srv.URL, Options{}).Generate(ctx, "t")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClaudeGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [{"type": "text", "text": "# Paxos\n"}, {"type": "text", "text": "Body"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 20}
		}`)
	}))
	defer srv.Close()

	c := NewClaude("secret", Options{MaxTokens: 4000}, option.WithBaseURL(srv.URL))
	article, err := c.Generate(context.Background(), "Paxos")
	require.NoError(t, err)
	assert.Equal(t, "# Paxos\nBody", article)

	assert.Equal(t, DefaultClaudeModel, got["model"])
	assert.EqualValues(t, 4000, got["max_tokens"])
	assert.InDelta(t, DefaultTemperature, got["temperature"], 0.0001)
}

func TestClaudeGenerateRateLimited(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	_, err := NewClaude("k", Options{}, option.WithBaseURL(srv.URL)).Generate(context.Background(), "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, 1, calls)
}
