package factory

import (
	"fmt"
	"os"
	"strings"

	"github.com/BaSui01/reviewflow/config"
	"github.com/BaSui01/reviewflow/llm"
	"github.com/BaSui01/reviewflow/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// knownBaseURLs are used when a provider has no base_url configured.
var knownBaseURLs = map[string]string{
	"openai":     "https://api.openai.com",
	"deepseek":   "https://api.deepseek.com",
	"groq":       "https://api.groq.com/openai",
	"mistral":    "https://api.mistral.ai",
	"openrouter": "https://openrouter.ai/api",
	"together":   "https://api.together.xyz",
	"qwen":       "https://dashscope.aliyuncs.com/compatible-mode",
	"ollama":     "http://localhost:11434",
}

// NewProvider creates the wrapped provider for name.
func NewProvider(name string, cfg config.LLMConfig, metrics *llm.Metrics, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pc := cfg.Providers[name]

	baseURL := pc.BaseURL
	if baseURL == "" {
		baseURL = knownBaseURLs[name]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s: no base_url configured and no known default", name)
	}

	apiKey := pc.APIKey
	if apiKey == "" {
		env := pc.APIKeyEnv
		if env == "" {
			env = strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_API_KEY"
		}
		apiKey = os.Getenv(env)
	}

	base, err := openaicompat.New(openaicompat.Config{
		ProviderName:          name,
		APIKey:                apiKey,
		BaseURL:               baseURL,
		Timeout:               cfg.Timeout,
		EndpointPath:          pc.EndpointPath,
		DisableResponseFormat: pc.DisableResponseFormat,
		TLS:                   pc.TLS,
	}, logger)
	if err != nil {
		return nil, err
	}

	var p llm.Provider = base
	if metrics != nil {
		p = llm.NewInstrumentedProvider(p, metrics)
	}
	if cfg.MaxRetries > 0 {
		retry := llm.DefaultRetryConfig()
		retry.MaxRetries = cfg.MaxRetries
		if cfg.RetryDelay > 0 {
			retry.InitialDelay = cfg.RetryDelay
		}
		p = llm.NewRetryableProvider(p, retry, logger)
	}
	if cfg.RateLimitRPS > 0 {
		p = llm.NewRateLimitedProvider(p, cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return p, nil
}

// NewClient creates a Client with a provider registered for every provider
// referenced by the default model and the node overrides.
func NewClient(cfg config.LLMConfig, metrics *llm.Metrics, logger *zap.Logger) (*llm.Client, error) {
	client, err := llm.NewClient(cfg.DefaultModel, cfg.Nodes, logger)
	if err != nil {
		return nil, err
	}
	client.WithGeneration(cfg.MaxTokens, float32(cfg.Temperature))

	for _, name := range client.Providers() {
		p, err := NewProvider(name, cfg, metrics, logger)
		if err != nil {
			return nil, err
		}
		client.Register(p)
	}
	return client, nil
}
