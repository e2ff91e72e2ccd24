package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider returns the queued responses/errors in order and records
// every request.
type scriptedProvider struct {
	name string

	mu       sync.Mutex
	requests []*ChatRequest
	replies  []string
	errs     []error
	calls    atomic.Int32
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Completion(_ context.Context, req *ChatRequest) (*ChatResponse, error) {
	i := int(p.calls.Add(1)) - 1
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	text := ""
	if i < len(p.replies) {
		text = p.replies[i]
	} else if len(p.replies) > 0 {
		text = p.replies[len(p.replies)-1]
	}
	return &ChatResponse{
		Provider: p.name,
		Model:    req.Model,
		Choices:  []ChatChoice{{Message: Message{Role: RoleAssistant, Content: text}}},
		Usage:    ChatUsage{TotalTokens: 7},
	}, nil
}

func TestParseModelRef(t *testing.T) {
	tests := []struct {
		in      string
		want    ModelRef
		wantErr bool
	}{
		{in: "openai:gpt-4o-mini", want: ModelRef{"openai", "gpt-4o-mini"}},
		{in: " ollama:llama3:8b ", want: ModelRef{"ollama", "llama3:8b"}},
		{in: "gpt-4o", wantErr: true},
		{in: ":gpt-4o", wantErr: true},
		{in: "openai:", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseModelRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "openai:gpt-4o", ModelRef{"openai", "gpt-4o"}.String())
}

func TestClient_ModelSelection(t *testing.T) {
	openai := &scriptedProvider{name: "openai", replies: []string{"default"}}
	deepseek := &scriptedProvider{name: "deepseek", replies: []string{"override"}}

	c, err := NewClient("openai:gpt-4o-mini", map[string]string{
		"translate_analysis": "deepseek:deepseek-chat",
		"extract_title":      "",
	}, nil)
	require.NoError(t, err)
	c.Register(openai).Register(deepseek)

	assert.Equal(t, []string{"deepseek", "openai"}, c.Providers())
	assert.Equal(t, ModelRef{"openai", "gpt-4o-mini"}, c.ModelFor("extract_title"))

	out, err := c.Complete(context.Background(), "extract_title", "title?")
	require.NoError(t, err)
	assert.Equal(t, "default", out)

	out, err = c.Complete(context.Background(), "translate_analysis", "translate")
	require.NoError(t, err)
	assert.Equal(t, "override", out)

	require.Len(t, deepseek.requests, 1)
	assert.Equal(t, "deepseek-chat", deepseek.requests[0].Model)
	assert.Equal(t, "translate_analysis", deepseek.requests[0].Metadata["node"])
}

func TestClient_InvalidModels(t *testing.T) {
	_, err := NewClient("gpt-4o", nil, nil)
	assert.Error(t, err)

	_, err = NewClient("openai:gpt-4o", map[string]string{"n": "bad"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node n")
}

func TestClient_UnregisteredProvider(t *testing.T) {
	c, err := NewClient("anthropic:claude", nil, nil)
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), "extract_title", "x")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrProviderUnavailable, e.Code)
}

func TestClient_CompleteJSON(t *testing.T) {
	p := &scriptedProvider{name: "openai", replies: []string{
		"Here you go:\n```json\n{\"keywords\": [\"SPH\", \"fluid\"]}\n```",
		"not json at all",
	}}
	c, err := NewClient("openai:gpt-4o", nil, nil)
	require.NoError(t, err)
	c.Register(p)

	var out struct {
		Keywords []string `json:"keywords"`
	}
	require.NoError(t, c.CompleteJSON(context.Background(), "extract_keywords", "kw", &out))
	assert.Equal(t, []string{"SPH", "fluid"}, out.Keywords)

	require.Len(t, p.requests, 1)
	assert.Equal(t, RoleSystem, p.requests[0].Messages[0].Role)
	require.NotNil(t, p.requests[0].ResponseFormat)

	err = c.CompleteJSON(context.Background(), "extract_keywords", "kw", &out)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrInvalidResponse, e.Code)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, ExtractJSON("sure! {\"a\":1} hope it helps"))
	assert.Equal(t, "nothing", ExtractJSON(" nothing "))
}

func TestRetryableProvider(t *testing.T) {
	retryable := &Error{Code: ErrRateLimited, Retryable: true, Message: "429"}
	fatal := &Error{Code: ErrUnauthorized, Message: "401"}
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	t.Run("recovers", func(t *testing.T) {
		inner := &scriptedProvider{name: "p", errs: []error{retryable, retryable}, replies: []string{"", "", "ok"}}
		resp, err := NewRetryableProvider(inner, cfg, nil).Completion(context.Background(), &ChatRequest{})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Text())
		assert.Equal(t, int32(3), inner.calls.Load())
	})

	t.Run("gives up", func(t *testing.T) {
		inner := &scriptedProvider{name: "p", errs: []error{retryable, retryable, retryable, retryable}}
		_, err := NewRetryableProvider(inner, cfg, nil).Completion(context.Background(), &ChatRequest{})
		require.Error(t, err)
		assert.ErrorIs(t, err, retryable)
		assert.Equal(t, int32(3), inner.calls.Load())
	})

	t.Run("non-retryable", func(t *testing.T) {
		inner := &scriptedProvider{name: "p", errs: []error{fatal}}
		_, err := NewRetryableProvider(inner, cfg, nil).Completion(context.Background(), &ChatRequest{})
		assert.Same(t, fatal, err)
		assert.Equal(t, int32(1), inner.calls.Load())
	})

	t.Run("plain errors are not retried", func(t *testing.T) {
		inner := &scriptedProvider{name: "p", errs: []error{errors.New("boom")}}
		_, err := NewRetryableProvider(inner, cfg, nil).Completion(context.Background(), &ChatRequest{})
		require.Error(t, err)
		assert.Equal(t, int32(1), inner.calls.Load())
	})
}

func TestRetryableProvider_Delay(t *testing.T) {
	p := NewRetryableProvider(&scriptedProvider{name: "p"}, RetryConfig{
		InitialDelay: time.Second, MaxDelay: 3 * time.Second, BackoffFactor: 2,
	}, nil)
	assert.Equal(t, time.Second, p.delay(1))
	assert.Equal(t, 2*time.Second, p.delay(2))
	assert.Equal(t, 3*time.Second, p.delay(3))
}

func TestRateLimitedProvider(t *testing.T) {
	inner := &scriptedProvider{name: "p", replies: []string{"ok"}}
	p := NewRateLimitedProvider(inner, 1000, 1)

	for i := 0; i < 3; i++ {
		_, err := p.Completion(context.Background(), &ChatRequest{})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), inner.calls.Load())

	slow := NewRateLimitedProvider(inner, 0.001, 1)
	_, err := slow.Completion(context.Background(), &ChatRequest{})
	require.NoError(t, err, "burst token available")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = slow.Completion(ctx, &ChatRequest{})
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ErrRateLimited, e.Code)
	assert.Equal(t, "p", slow.Name())
}
