package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Client routes node-level prompts to the provider and model configured for
// that node.
type Client struct {
	mu           sync.RWMutex
	providers    map[string]Provider
	defaultModel ModelRef
	nodes        map[string]ModelRef
	maxTokens    int
	temperature  float32
	logger       *zap.Logger
}

// NewClient parses the default model and per-node overrides, all written
// "provider:model".
func NewClient(defaultModel string, nodes map[string]string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def, err := ParseModelRef(defaultModel)
	if err != nil {
		return nil, fmt.Errorf("default model: %w", err)
	}
	c := &Client{
		providers:    make(map[string]Provider),
		defaultModel: def,
		nodes:        make(map[string]ModelRef, len(nodes)),
		logger:       logger.With(zap.String("component", "llm_client")),
	}
	for node, s := range nodes {
		if strings.TrimSpace(s) == "" {
			continue
		}
		ref, err := ParseModelRef(s)
		if err != nil {
			return nil, fmt.Errorf("model for node %s: %w", node, err)
		}
		c.nodes[node] = ref
	}
	return c, nil
}

// WithGeneration sets max tokens and temperature for every request.
func (c *Client) WithGeneration(maxTokens int, temperature float32) *Client {
	c.maxTokens = maxTokens
	c.temperature = temperature
	return c
}

// Register adds or replaces a provider under its Name.
func (c *Client) Register(p Provider) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.Name()] = p
	return c
}

// Providers returns the provider names referenced by the default model and
// every node override, sorted.
func (c *Client) Providers() []string {
	seen := map[string]bool{c.defaultModel.Provider: true}
	for _, ref := range c.nodes {
		seen[ref.Provider] = true
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ModelFor returns the model configured for node, or the default model.
func (c *Client) ModelFor(node string) ModelRef {
	if ref, ok := c.nodes[node]; ok {
		return ref
	}
	return c.defaultModel
}

// Complete sends prompt as a single user message and returns the trimmed
// text of the first choice.
func (c *Client) Complete(ctx context.Context, node, prompt string) (string, error) {
	resp, err := c.send(ctx, node, []Message{{Role: RoleUser, Content: prompt}}, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// CompleteJSON asks for a JSON object and decodes it into out.
func (c *Client) CompleteJSON(ctx context.Context, node, prompt string, out any) error {
	msgs := []Message{
		{Role: RoleSystem, Content: "Respond with a single JSON object only. Do not wrap it in markdown."},
		{Role: RoleUser, Content: prompt},
	}
	resp, err := c.send(ctx, node, msgs, &ResponseFormat{Type: "json_object"})
	if err != nil {
		return err
	}
	raw := ExtractJSON(resp.Text())
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &Error{
			Code:     ErrInvalidResponse,
			Message:  fmt.Sprintf("node %s: decode structured output: %v", node, err),
			Provider: resp.Provider,
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, node string, msgs []Message, format *ResponseFormat) (*ChatResponse, error) {
	ref := c.ModelFor(node)
	c.mu.RLock()
	p, ok := c.providers[ref.Provider]
	c.mu.RUnlock()
	if !ok {
		return nil, &Error{
			Code:     ErrProviderUnavailable,
			Message:  fmt.Sprintf("provider %q is not registered (node %s)", ref.Provider, node),
			Provider: ref.Provider,
		}
	}

	req := &ChatRequest{
		Model:          ref.Model,
		Messages:       msgs,
		MaxTokens:      c.maxTokens,
		Temperature:    c.temperature,
		ResponseFormat: format,
		Metadata:       map[string]string{"node": node},
	}
	c.logger.Debug("sending completion",
		zap.String("node", node),
		zap.String("model", ref.String()))

	resp, err := p.Completion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("node %s (%s): %w", node, ref, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{
			Code:     ErrInvalidResponse,
			Message:  fmt.Sprintf("node %s: empty response", node),
			Provider: ref.Provider,
		}
	}
	return resp, nil
}

// ExtractJSON strips markdown code fences and any prose around the outermost
// JSON object.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
