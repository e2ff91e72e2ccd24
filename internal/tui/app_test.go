package tui

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/reviewflow/config"
	"github.com/BaSui01/reviewflow/workflow"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(t *testing.T, app *App, keys ...string) tea.Cmd {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var model tea.Model
		model, cmd = app.Update(key(k))
		require.Same(t, app, model)
	}
	return cmd
}

// drain feeds the messages of cmd back into the app until the run finishes.
func drain(t *testing.T, app *App, cmd tea.Cmd) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for cmd != nil {
		msgs := make(chan tea.Msg, 1)
		go func(c tea.Cmd) { msgs <- c() }(cmd)
		select {
		case msg := <-msgs:
			if msg == nil {
				return
			}
			_, cmd = app.Update(msg)
		case <-deadline:
			t.Fatal("run did not finish")
		}
	}
}

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Review.InputPath = "paper.pdf"
	cfg.Review.OutputPath = t.TempDir()
	return cfg
}

func fieldIndex(t *testing.T, app *App, label string) int {
	t.Helper()
	for i, f := range app.fields {
		if f.label == label {
			return i
		}
	}
	t.Fatalf("no field %q", label)
	return -1
}

func TestApp_EditTextField(t *testing.T) {
	app := NewApp(Options{Config: validConfig(t)})

	press(t, app, "enter")
	require.True(t, app.editing)
	app.input.SetValue("papers/attention.pdf")
	press(t, app, "enter")

	assert.False(t, app.editing)
	assert.Equal(t, "papers/attention.pdf", app.Config().Review.InputPath)
	assert.True(t, app.dirty)
}

func TestApp_EditCanceled(t *testing.T) {
	app := NewApp(Options{Config: validConfig(t)})

	press(t, app, "enter")
	app.input.SetValue("other.pdf")
	press(t, app, "esc")

	assert.False(t, app.editing)
	assert.Equal(t, "paper.pdf", app.Config().Review.InputPath)
}

func TestApp_RejectsBadLength(t *testing.T) {
	app := NewApp(Options{Config: validConfig(t)})
	app.cursor = fieldIndex(t, app, "Max analysis length")

	press(t, app, "enter")
	app.input.SetValue("lots")
	press(t, app, "enter")

	assert.True(t, app.editing)
	assert.Contains(t, app.status, "positive number")
	assert.Equal(t, 500, app.Config().Review.MaxAnalysisLength)

	app.input.SetValue("800")
	press(t, app, "enter")
	assert.Equal(t, 800, app.Config().Review.MaxAnalysisLength)
}

func TestApp_CycleChoices(t *testing.T) {
	app := NewApp(Options{Config: validConfig(t)})

	app.cursor = fieldIndex(t, app, "Paper type")
	press(t, app, "right")
	assert.Equal(t, "review", app.Config().Review.PaperType)
	press(t, app, "left", "left")
	assert.Equal(t, "standard", app.Config().Review.PaperType)

	app.cursor = fieldIndex(t, app, "Default model")
	press(t, app, "enter")
	assert.Equal(t, "openai:gpt-4o", app.Config().LLM.DefaultModel)

	app.cursor = fieldIndex(t, app, "Rename input")
	press(t, app, "right")
	assert.False(t, app.Config().Review.RenameInput)
}

func TestApp_StepModelOverride(t *testing.T) {
	app := NewApp(Options{Config: validConfig(t)})
	app.cursor = fieldIndex(t, app, "  translate_analysis")

	press(t, app, "right")
	assert.Equal(t, "openai:gpt-4o-mini", app.Config().LLM.Nodes["translate_analysis"])

	press(t, app, "left")
	_, ok := app.Config().LLM.Nodes["translate_analysis"]
	assert.False(t, ok)
}

func TestApp_CursorBounds(t *testing.T) {
	app := NewApp(Options{Config: validConfig(t)})
	press(t, app, "up")
	assert.Equal(t, 0, app.cursor)
	for range app.fields {
		press(t, app, "down")
	}
	assert.Equal(t, len(app.fields)-1, app.cursor)
}

func TestApp_SaveWritesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewflow.yaml")
	app := NewApp(Options{Config: validConfig(t), ConfigPath: path})
	app.cursor = fieldIndex(t, app, "Target language")
	press(t, app, "right")
	press(t, app, "s")

	assert.False(t, app.dirty)
	assert.Contains(t, app.status, "saved")

	loaded, err := config.NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, app.Config().Review.TargetLanguage, loaded.Review.TargetLanguage)
	assert.Equal(t, "paper.pdf", loaded.Review.InputPath)
}

func TestApp_SaveWithoutPath(t *testing.T) {
	app := NewApp(Options{Config: validConfig(t)})
	press(t, app, "s")
	assert.Contains(t, app.status, "nothing saved")
}

func TestApp_PanesAndView(t *testing.T) {
	app := NewApp(Options{Config: validConfig(t)})
	app.Update(tea.WindowSizeMsg{Width: 160, Height: 40})

	view := app.View()
	assert.Contains(t, view, "Input path")
	assert.Contains(t, view, "Config preview")

	press(t, app, "tab")
	view = app.View()
	assert.Contains(t, view, "openai:gpt-4o-mini")
	assert.Contains(t, view, "■■■■□")
	assert.Contains(t, view, "default")

	press(t, app, "tab")
	assert.Contains(t, app.View(), "press r to review paper.pdf")

	press(t, app, "tab")
	assert.Equal(t, paneSettings, app.pane)
}

func TestApp_QuitCommand(t *testing.T) {
	app := NewApp(Options{Config: validConfig(t)})
	cmd := press(t, app, "q")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestApp_RunStreamsEvents(t *testing.T) {
	var got *config.Config
	run := func(ctx context.Context, cfg *config.Config, emit workflow.EventEmitter) (*workflow.Result, error) {
		got = cfg
		emit(workflow.Event{Type: workflow.EventNodeStart, Node: "extract_title", Timestamp: time.Now()})
		emit(workflow.Event{Type: workflow.EventFanOut, Node: "analyze_dynamic_section", Width: 3, Timestamp: time.Now()})
		emit(workflow.Event{Type: workflow.EventMerge, Node: "length_guard", Failed: []string{"s2"}, Timestamp: time.Now()})
		return &workflow.Result{RunID: "run-1", Status: workflow.ExecutionStatusPartial, Units: 7, Warnings: []workflow.Warning{{Message: "keyword file missing"}}}, nil
	}
	app := NewApp(Options{Config: validConfig(t), Run: run})

	cmd := press(t, app, "r")
	require.NotNil(t, cmd)
	assert.True(t, app.running)
	assert.Equal(t, paneRun, app.pane)

	drain(t, app, cmd)

	assert.False(t, app.running)
	assert.Same(t, app.Config(), got)
	require.NotNil(t, app.LastRun())
	assert.Equal(t, "run-1", app.LastRun().RunID)

	logText := app.View()
	assert.Contains(t, logText, "node_start extract_title")
	assert.Contains(t, logText, "fan_out analyze_dynamic_section width=3")
	assert.Contains(t, logText, "failed=s2")
	assert.Contains(t, logText, "warning: keyword file missing")
	assert.Equal(t, "run partial", app.status)
}

func TestApp_RunCanceled(t *testing.T) {
	started := make(chan struct{})
	run := func(ctx context.Context, cfg *config.Config, emit workflow.EventEmitter) (*workflow.Result, error) {
		close(started)
		<-ctx.Done()
		return &workflow.Result{RunID: "run-2", Status: workflow.ExecutionStatusFailed}, workflow.ErrorCanceled
	}
	app := NewApp(Options{Config: validConfig(t), Run: run})

	cmd := press(t, app, "r")
	<-started

	assert.Nil(t, press(t, app, "r"))
	assert.Contains(t, app.status, "already in progress")

	app.cursor = fieldIndex(t, app, "Paper type")
	app.pane = paneSettings
	press(t, app, "right")
	assert.Equal(t, "auto", app.Config().Review.PaperType)
	assert.Contains(t, app.status, "locked")

	press(t, app, "x")
	drain(t, app, cmd)
	assert.False(t, app.running)
	assert.Equal(t, "run canceled", app.status)
}

func TestApp_RunFailure(t *testing.T) {
	run := func(context.Context, *config.Config, workflow.EventEmitter) (*workflow.Result, error) {
		return nil, errors.New("llm client: no base_url")
	}
	app := NewApp(Options{Config: validConfig(t), Run: run})
	drain(t, app, press(t, app, "r"))

	assert.Equal(t, "run failed", app.status)
	assert.Contains(t, app.View(), "error: llm client: no base_url")
}

func TestApp_RunNeedsValidConfig(t *testing.T) {
	called := false
	run := func(context.Context, *config.Config, workflow.EventEmitter) (*workflow.Result, error) {
		called = true
		return nil, nil
	}
	app := NewApp(Options{Config: config.DefaultConfig(), Run: run})

	assert.Nil(t, press(t, app, "r"))
	assert.False(t, called)
	assert.Contains(t, app.status, "review.input_path")
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	line := formatEvent(workflow.Event{
		Type:      workflow.EventRepair,
		Node:      "length_guard",
		Attempt:   2,
		Fields:    []string{"results"},
		Error:     errors.New("too long"),
		Timestamp: ts,
	})
	assert.Equal(t, `15:04:05 repair length_guard attempt=2 fields=results error="too long"`, line)
}
