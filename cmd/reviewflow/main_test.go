package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/reviewflow/config"
	"github.com/BaSui01/reviewflow/review"
	"github.com/BaSui01/reviewflow/workflow"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ReviewFlow dev")
	assert.Contains(t, out, "Git Commit")
}

func TestConvertCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.txt")
	require.NoError(t, os.WriteFile(path, []byte("Title page\n1\n\fSecond page\n"), 0o644))

	out, err := execute(t, "convert", path, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "# Page 1")
	assert.Contains(t, out, "Title page")
	assert.Contains(t, out, "# Page 2")

	out, err = execute(t, "convert", path, "--pages", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Title page")
	assert.NotContains(t, out, "Second page")
}

func TestConvertCommand_RequiresFile(t *testing.T) {
	_, err := execute(t, "convert")
	assert.Error(t, err)
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	// no input or output path configured
	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "review.input_path")
}

func TestRunsCommand_MemoryStoreIsEmpty(t *testing.T) {
	out, err := execute(t, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "RUN ID")

	_, err = execute(t, "runs", "show", "missing")
	assert.Error(t, err)
}

func TestReviewSettings(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Review.TargetLanguage = "en"
	cfg.Review.MaxAnalysisLength = 300
	cfg.Review.PaperType = "review"
	cfg.Review.KeywordFilePath = "/tmp/keywords.json"
	cfg.Review.ConvertCommand = "pdftotext {input} -"
	cfg.Review.RenameInput = true
	cfg.Workflow.Steps[review.GuardLength] = workflow.StepParams{MaxRepairAttempts: 3}

	s := reviewSettings(cfg)
	assert.Equal(t, "en", s.TargetLanguage)
	assert.Equal(t, 300, s.MaxAnalysisLength)
	assert.Equal(t, "review", s.PaperType)
	assert.Equal(t, "/tmp/keywords.json", s.KeywordFilePath)
	assert.Equal(t, "pdftotext {input} -", s.ConvertCommand)
	assert.Equal(t, cfg.Review.ConvertTimeout, s.ConvertTimeout)
	assert.True(t, s.RenameInput)
	assert.Equal(t, 3, s.LengthRepairs)

	delete(cfg.Workflow.Steps, review.GuardLength)
	assert.Equal(t, review.DefaultSettings().LengthRepairs, reviewSettings(cfg).LengthRepairs)
}

func TestStatusErrorAndExitCode(t *testing.T) {
	assert.NoError(t, statusError(&workflow.Result{Status: workflow.ExecutionStatusCompleted}, nil))

	err := statusError(&workflow.Result{
		RunID:    "r1",
		Status:   workflow.ExecutionStatusPartial,
		Partials: []*workflow.PartialFailure{{Step: "s"}},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, exitPartial, exitCode(err))
	assert.Contains(t, err.Error(), "r1")

	fatal := errors.New("boom")
	assert.Equal(t, fatal, statusError(&workflow.Result{Status: workflow.ExecutionStatusFailed}, fatal))
	assert.Equal(t, exitFailure, exitCode(fatal))
}

func TestJSONEventEmitter(t *testing.T) {
	var buf bytes.Buffer
	emit := jsonEventEmitter(&buf)
	emit(workflow.Event{Type: workflow.EventNodeStart, RunID: "r", Node: "convert_md"})
	emit(workflow.Event{Type: workflow.EventNodeError, RunID: "r", Node: "extract_title", Error: errors.New("timeout")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ev map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "node_error", ev["type"])
	assert.Equal(t, "extract_title", ev["node"])
	assert.Equal(t, "timeout", ev["error"])
}

func TestInitLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := initLogger(config.LogConfig{Level: "debug", Format: format})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(-1))
	}

	logger, err := initLogger(config.LogConfig{Level: "bogus"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
}

func TestModelsCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviewflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  default_model: openai:gpt-4o-mini
  nodes:
    translate_analysis: deepseek:deepseek-chat
    final_summarize: openai:gpt-4o
`), 0o644))

	out, err := execute(t, "models", "--config", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "SPEED")
	assert.Contains(t, lines[1], "openai:gpt-4o-mini")
	assert.Contains(t, lines[1], "■■■■□")
	assert.Contains(t, lines[1], "default")
	assert.Contains(t, lines[2], "■■□□□")
	assert.Contains(t, lines[2], "final_summarize")
	assert.Contains(t, lines[3], "deepseek:deepseek-chat")
	assert.Contains(t, lines[3], "translate_analysis")
}

func TestUIRunner_SetupFailure(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Review.InputPath = "paper.txt"
	cfg.Review.OutputPath = t.TempDir()
	cfg.LLM.DefaultModel = "mystery:model"

	var events int
	run := uiRunner(config.LogConfig{Level: "error", OutputPaths: []string{"stderr"}})
	res, err := run(t.Context(), cfg, func(workflow.Event) { events++ })
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "no base_url")
	assert.Zero(t, events)
}

func TestFileOutputs(t *testing.T) {
	assert.Equal(t, []string{"/tmp/reviewflow.log"}, fileOutputs([]string{"stderr", "/tmp/reviewflow.log", "stdout"}))
	assert.Empty(t, fileOutputs([]string{"stderr"}))
}
