package factory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/reviewflow/config"
)

func TestNewClient_RoutesToConfiguredProviders(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	t.Setenv("LOCAL_GATEWAY_API_KEY", "sk-env")
	cfg := config.DefaultLLMConfig()
	cfg.DefaultModel = "local-gateway:llama3"
	cfg.Providers["local-gateway"] = config.ProviderConfig{BaseURL: srv.URL}

	client, err := NewClient(cfg, nil, nil)
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), "extract_title", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "Bearer sk-env", auth)
}

func TestNewProvider_UnknownWithoutBaseURL(t *testing.T) {
	_, err := NewProvider("mystery", config.DefaultLLMConfig(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no base_url")
}

func TestNewProvider_KnownDefaults(t *testing.T) {
	cfg := config.DefaultLLMConfig()
	cfg.Providers["openai"] = config.ProviderConfig{APIKey: "sk-inline"}
	p, err := NewProvider("openai", cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}
