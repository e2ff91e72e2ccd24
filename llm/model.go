package llm

import (
	"fmt"
	"strings"
)

// ModelRef names a model on a provider, written "provider:model".
type ModelRef struct {
	Provider string
	Model    string
}

func (m ModelRef) String() string { return m.Provider + ":" + m.Model }

// ParseModelRef parses "provider:model". Both parts are required; the model
// part may itself contain colons (e.g. "ollama:llama3:8b").
func ParseModelRef(s string) (ModelRef, error) {
	provider, model, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ModelRef{}, fmt.Errorf("invalid model %q: expected provider:model", s)
	}
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if provider == "" || model == "" {
		return ModelRef{}, fmt.Errorf("invalid model %q: provider and model are both required", s)
	}
	return ModelRef{Provider: provider, Model: model}, nil
}
