package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/reviewflow/workflow"
)

// fakeModel answers by node name and records every prompt.
type fakeModel struct {
	mu      sync.Mutex
	text    map[string]func(prompt string) (string, error)
	json    map[string]func(prompt string) (any, error)
	prompts map[string][]string
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		text:    make(map[string]func(string) (string, error)),
		json:    make(map[string]func(string) (any, error)),
		prompts: make(map[string][]string),
	}
}

func (m *fakeModel) reply(node, text string) *fakeModel {
	m.text[node] = func(string) (string, error) { return text, nil }
	return m
}

func (m *fakeModel) replyJSON(node string, v any) *fakeModel {
	m.json[node] = func(string) (any, error) { return v, nil }
	return m
}

func (m *fakeModel) fail(node string, err error) *fakeModel {
	m.text[node] = func(string) (string, error) { return "", err }
	m.json[node] = func(string) (any, error) { return nil, err }
	return m
}

func (m *fakeModel) record(node, prompt string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts[node] = append(m.prompts[node], prompt)
}

func (m *fakeModel) calls(node string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts[node])
}

func (m *fakeModel) lastPrompt(node string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.prompts[node]
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

func (m *fakeModel) Complete(_ context.Context, node, prompt string) (string, error) {
	m.record(node, prompt)
	if fn, ok := m.text[node]; ok {
		return fn(prompt)
	}
	return "analysis from " + node, nil
}

func (m *fakeModel) CompleteJSON(_ context.Context, node, prompt string, out any) error {
	m.record(node, prompt)
	fn, ok := m.json[node]
	if !ok {
		return fmt.Errorf("no structured reply for %s", node)
	}
	v, err := fn(prompt)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// sectionNameOf reads the section name out of an analyze_dynamic_section prompt.
func sectionNameOf(prompt string) string {
	_, rest, ok := strings.Cut(prompt, "Section Name: ")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "\n")
	return name
}

// viewFor builds the view the executor would give spec.
func viewFor(s *workflow.State, spec workflow.StepSpec) workflow.View {
	return workflow.NewView(s, append(append([]string(nil), spec.Reads...), spec.Optional...)...)
}
