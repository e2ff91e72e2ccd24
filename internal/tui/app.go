// Package tui is the interactive front end of reviewflow: it edits the YAML
// config, shows the model catalog and streams the events of a review run.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BaSui01/reviewflow/config"
	"github.com/BaSui01/reviewflow/llm/factory"
	"github.com/BaSui01/reviewflow/review"
	"github.com/BaSui01/reviewflow/workflow"
)

// RunFunc executes one review with cfg. Events are passed to emit as they
// happen; emit never blocks.
type RunFunc func(ctx context.Context, cfg *config.Config, emit workflow.EventEmitter) (*workflow.Result, error)

// Options configure an App.
type Options struct {
	Config *config.Config
	// ConfigPath is where "s" writes the config. Empty disables saving.
	ConfigPath string
	Run        RunFunc
}

type pane int

const (
	paneSettings pane = iota
	paneModels
	paneRun
)

var paneTitles = []string{"Settings", "Models", "Run"}

// maxLogLines bounds the run log kept in memory.
const maxLogLines = 500

// eventBuffer is the number of run events held while the UI catches up.
// Events beyond it are counted and dropped.
const eventBuffer = 1024

type (
	runEventMsg    workflow.Event
	runFinishedMsg struct {
		result  *workflow.Result
		err     error
		dropped int64
	}
)

// App is the root bubbletea model.
type App struct {
	opts   Options
	cfg    *config.Config
	models []factory.ModelInfo
	fields []field

	pane    pane
	cursor  int
	editing bool
	input   textinput.Model

	log      viewport.Model
	logLines []string
	running  bool
	cancel   context.CancelFunc
	runs     chan tea.Msg
	lastRun  *workflow.Result

	status string
	dirty  bool
	width  int
	height int
}

// NewApp returns the UI for opts. A nil config starts from the defaults.
func NewApp(opts Options) *App {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if cfg.LLM.Nodes == nil {
		cfg.LLM.Nodes = map[string]string{}
	}
	models := factory.CatalogFor(cfg.LLM)
	input := textinput.New()
	input.Prompt = "> "
	input.CharLimit = 512

	a := &App{
		opts:   opts,
		cfg:    cfg,
		models: models,
		fields: settingsFields(models),
		input:  input,
		log:    viewport.New(80, 12),
		width:  100,
		height: 30,
		status: "tab switch pane · enter edit · s save · r run · q quit",
	}
	return a
}

// Config returns the config being edited.
func (a *App) Config() *config.Config { return a.cfg }

// LastRun returns the result of the latest finished run, if any.
func (a *App) LastRun() *workflow.Result { return a.lastRun }

func (a *App) Init() tea.Cmd { return nil }

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.log.Width = max(20, msg.Width-6)
		a.log.Height = max(5, msg.Height-10)
		return a, nil

	case runEventMsg:
		a.appendLog(formatEvent(workflow.Event(msg)))
		return a, waitForRun(a.runs)

	case runFinishedMsg:
		a.finishRun(msg)
		return a, nil

	case tea.KeyMsg:
		if a.editing {
			return a.updateEditing(msg)
		}
		return a.updateKeys(msg)
	}

	if a.editing {
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if a.cancel != nil {
			a.cancel()
		}
		return a, tea.Quit
	case "tab":
		a.pane = (a.pane + 1) % pane(len(paneTitles))
		return a, nil
	case "shift+tab":
		a.pane = (a.pane + pane(len(paneTitles)) - 1) % pane(len(paneTitles))
		return a, nil
	case "s":
		a.save()
		return a, nil
	case "r":
		return a, a.startRun()
	case "x":
		if a.running && a.cancel != nil {
			a.cancel()
			a.status = "canceling run..."
		}
		return a, nil
	}

	switch a.pane {
	case paneSettings:
		return a.updateSettings(msg)
	case paneRun:
		var cmd tea.Cmd
		a.log, cmd = a.log.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) updateSettings(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}
	case "down", "j":
		if a.cursor < len(a.fields)-1 {
			a.cursor++
		}
	case "left", "h":
		a.cycle(-1)
	case "right", "l":
		a.cycle(1)
	case "enter":
		f := a.fields[a.cursor]
		if f.choices != nil {
			a.cycle(1)
			return a, nil
		}
		if a.running {
			a.status = "settings are locked while a run is in progress"
			return a, nil
		}
		a.editing = true
		a.input.SetValue(f.get(a.cfg))
		a.input.CursorEnd()
		return a, a.input.Focus()
	}
	return a, nil
}

func (a *App) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		a.input.Blur()
		a.editing = false
		return a.updateKeys(msg)
	case "esc":
		a.input.Blur()
		a.editing = false
		a.status = "edit canceled"
		return a, nil
	case "enter":
		f := a.fields[a.cursor]
		if err := f.set(a.cfg, strings.TrimSpace(a.input.Value())); err != nil {
			a.status = fmt.Sprintf("%s: %v", f.label, err)
			return a, nil
		}
		a.input.Blur()
		a.editing = false
		a.dirty = true
		a.status = fmt.Sprintf("%s updated", f.label)
		return a, nil
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

// cycle steps the selected choice field by delta.
func (a *App) cycle(delta int) {
	f := a.fields[a.cursor]
	if f.choices == nil {
		return
	}
	if a.running {
		a.status = "settings are locked while a run is in progress"
		return
	}
	current := f.get(a.cfg)
	idx := 0
	for i, c := range f.choices {
		if c == current {
			idx = i
			break
		}
	}
	n := len(f.choices)
	next := f.choices[((idx+delta)%n+n)%n]
	if err := f.set(a.cfg, next); err != nil {
		a.status = fmt.Sprintf("%s: %v", f.label, err)
		return
	}
	a.dirty = true
	a.status = fmt.Sprintf("%s = %s", f.label, displayChoice(next))
}

func (a *App) save() {
	if a.opts.ConfigPath == "" {
		a.status = "no --config path given, nothing saved"
		return
	}
	if err := a.cfg.Save(a.opts.ConfigPath); err != nil {
		a.status = fmt.Sprintf("save failed: %v", err)
		return
	}
	a.dirty = false
	a.status = fmt.Sprintf("saved %s", a.opts.ConfigPath)
}

// =============================================================================
// Run
// =============================================================================

func (a *App) startRun() tea.Cmd {
	if a.running {
		a.status = "a run is already in progress"
		return nil
	}
	if a.opts.Run == nil {
		a.status = "running is not available"
		return nil
	}
	if err := a.cfg.Validate(); err != nil {
		a.status = "invalid config: " + strings.ReplaceAll(err.Error(), "\n", "; ")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	runs := make(chan tea.Msg, eventBuffer)
	var dropped atomic.Int64
	emit := func(ev workflow.Event) {
		select {
		case runs <- runEventMsg(ev):
		default:
			dropped.Add(1)
		}
	}

	cfg := a.cfg
	run := a.opts.Run
	go func() {
		defer close(runs)
		res, err := run(ctx, cfg, emit)
		runs <- runFinishedMsg{result: res, err: err, dropped: dropped.Load()}
	}()

	a.running = true
	a.cancel = cancel
	a.runs = runs
	a.pane = paneRun
	a.logLines = nil
	a.appendLog(fmt.Sprintf("reviewing %s", cfg.Review.InputPath))
	a.status = "run started · x cancel"
	return waitForRun(runs)
}

// waitForRun delivers the next message of a run.
func waitForRun(runs <-chan tea.Msg) tea.Cmd {
	if runs == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-runs
		if !ok {
			return nil
		}
		return msg
	}
}

func (a *App) finishRun(msg runFinishedMsg) {
	a.running = false
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.runs = nil
	a.lastRun = msg.result

	if msg.dropped > 0 {
		a.appendLog(fmt.Sprintf("%d events dropped", msg.dropped))
	}
	res := msg.result
	if res != nil {
		a.appendLog(fmt.Sprintf("run %s: %s (%d units)", res.RunID, res.Status, res.Units))
		if res.State != nil {
			if path := workflow.LookupOr(res.State, review.FieldReportPath, ""); path != "" {
				a.appendLog("report: " + path)
			}
		}
		for _, w := range res.Warnings {
			a.appendLog("warning: " + w.String())
		}
		for _, p := range res.Partials {
			a.appendLog("partial: " + p.Error())
		}
	}
	switch {
	case errors.Is(msg.err, workflow.ErrorCanceled):
		a.status = "run canceled"
	case msg.err != nil:
		a.appendLog("error: " + msg.err.Error())
		a.status = "run failed"
	case res != nil:
		a.status = fmt.Sprintf("run %s", res.Status)
	default:
		a.status = "run finished"
	}
}

func (a *App) appendLog(line string) {
	a.logLines = append(a.logLines, line)
	if len(a.logLines) > maxLogLines {
		a.logLines = a.logLines[len(a.logLines)-maxLogLines:]
	}
	a.log.SetContent(strings.Join(a.logLines, "\n"))
	a.log.GotoBottom()
}

func formatEvent(ev workflow.Event) string {
	var b strings.Builder
	b.WriteString(ev.Timestamp.Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(string(ev.Type))
	if ev.Node != "" {
		b.WriteString(" " + ev.Node)
	}
	if ev.Width > 0 {
		fmt.Fprintf(&b, " width=%d", ev.Width)
	}
	if len(ev.Failed) > 0 {
		fmt.Fprintf(&b, " failed=%s", strings.Join(ev.Failed, ","))
	}
	if ev.Attempt > 0 {
		fmt.Fprintf(&b, " attempt=%d", ev.Attempt)
	}
	if len(ev.Fields) > 0 {
		fmt.Fprintf(&b, " fields=%s", strings.Join(ev.Fields, ","))
	}
	if ev.Error != nil {
		fmt.Fprintf(&b, " error=%q", ev.Error.Error())
	}
	return b.String()
}

// =============================================================================
// Settings fields
// =============================================================================

type field struct {
	label   string
	choices []string // nil for free text
	get     func(*config.Config) string
	set     func(*config.Config, string) error
}

func settingsFields(models []factory.ModelInfo) []field {
	refs := make([]string, len(models))
	for i, m := range models {
		refs[i] = m.Ref
	}
	fields := []field{
		{
			label: "Input path",
			get:   func(c *config.Config) string { return c.Review.InputPath },
			set:   func(c *config.Config, v string) error { c.Review.InputPath = v; return nil },
		},
		{
			label: "Output path",
			get:   func(c *config.Config) string { return c.Review.OutputPath },
			set:   func(c *config.Config, v string) error { c.Review.OutputPath = v; return nil },
		},
		{
			label:   "Target language",
			choices: append([]string{""}, config.Languages()...),
			get:     func(c *config.Config) string { return c.Review.TargetLanguage },
			set:     func(c *config.Config, v string) error { c.Review.TargetLanguage = v; return nil },
		},
		{
			label:   "Paper type",
			choices: config.PaperTypes(),
			get:     func(c *config.Config) string { return c.Review.PaperType },
			set:     func(c *config.Config, v string) error { c.Review.PaperType = v; return nil },
		},
		{
			label: "Max analysis length",
			get:   func(c *config.Config) string { return strconv.Itoa(c.Review.MaxAnalysisLength) },
			set: func(c *config.Config, v string) error {
				n, err := strconv.Atoi(v)
				if err != nil || n <= 0 {
					return fmt.Errorf("expected a positive number, got %q", v)
				}
				c.Review.MaxAnalysisLength = n
				return nil
			},
		},
		{
			label:   "Rename input",
			choices: []string{"true", "false"},
			get:     func(c *config.Config) string { return strconv.FormatBool(c.Review.RenameInput) },
			set: func(c *config.Config, v string) error {
				c.Review.RenameInput = v == "true"
				return nil
			},
		},
		{
			label:   "Default model",
			choices: refs,
			get:     func(c *config.Config) string { return c.LLM.DefaultModel },
			set:     func(c *config.Config, v string) error { c.LLM.DefaultModel = v; return nil },
		},
	}
	nodeChoices := append([]string{""}, refs...)
	for _, step := range review.ModelSteps {
		fields = append(fields, field{
			label:   "  " + step,
			choices: nodeChoices,
			get:     func(c *config.Config) string { return c.LLM.Nodes[step] },
			set: func(c *config.Config, v string) error {
				if v == "" {
					delete(c.LLM.Nodes, step)
					return nil
				}
				c.LLM.Nodes[step] = v
				return nil
			},
		})
	}
	return fields
}

func displayChoice(v string) string {
	if v == "" {
		return "(default)"
	}
	return v
}

// =============================================================================
// View
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))
	headStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#5B8DEF")).
			Padding(0, 1)
	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA")).
			Padding(0, 1)
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD166"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

func (a *App) View() string {
	header := titleStyle.Render("◆ REVIEWFLOW")
	if a.dirty {
		header += dimStyle.Render("  (unsaved)")
	}
	if a.running {
		header += dimStyle.Render("  running")
	}

	var tabs []string
	for i, t := range paneTitles {
		if pane(i) == a.pane {
			tabs = append(tabs, activeTabStyle.Render(t))
		} else {
			tabs = append(tabs, tabStyle.Render(t))
		}
	}

	var body string
	switch a.pane {
	case paneSettings:
		body = a.renderSettings()
	case paneModels:
		body = boxStyle.Width(max(20, a.width-2)).Render(a.renderModels())
	case paneRun:
		body = boxStyle.Width(max(20, a.width-2)).Render(a.renderRun())
	}

	footer := dimStyle.MarginTop(1).Render(a.status)
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.JoinHorizontal(lipgloss.Top, tabs...),
		body,
		footer,
	)
}

func (a *App) renderSettings() string {
	leftWidth := max(40, a.width/2)
	rightWidth := a.width - leftWidth - 4

	rows := []string{headStyle.Render("Review settings")}
	for i, f := range a.fields {
		if f.label == "  "+review.ModelSteps[0] {
			rows = append(rows, headStyle.Render("Step models"))
		}
		value := displayChoice(f.get(a.cfg))
		if f.label == "Target language" && value == "(default)" {
			value = "(no translation)"
		}
		if a.editing && i == a.cursor {
			value = a.input.View()
		}
		line := fmt.Sprintf("%-24s %s", f.label, value)
		if i == a.cursor {
			line = selectedStyle.Render("› " + line)
		} else {
			line = "  " + line
		}
		rows = append(rows, line)
	}
	left := boxStyle.Width(leftWidth).Render(strings.Join(rows, "\n"))
	if rightWidth < 20 {
		return left
	}

	preview, err := a.cfg.YAML()
	text := string(preview)
	if err != nil {
		text = err.Error()
	}
	lines := strings.Split(text, "\n")
	if limit := max(5, a.height-8); len(lines) > limit {
		lines = append(lines[:limit], "...")
	}
	right := boxStyle.Width(rightWidth).Render(
		headStyle.Render("Config preview") + "\n" + dimStyle.Render(strings.Join(lines, "\n")))
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func (a *App) renderModels() string {
	used := factory.UsedBy(a.cfg.LLM)
	rows := []string{
		headStyle.Render("Models"),
		fmt.Sprintf("%-28s %-7s %-7s %s", "MODEL", "SPEED", "PRICE", "USED BY"),
	}
	for _, m := range a.models {
		speed, price := "-", "-"
		if m.Rated() {
			speed, price = factory.RatingBar(m.Speed), factory.RatingBar(m.Price)
		}
		rows = append(rows, fmt.Sprintf("%-28s %-7s %-7s %s",
			m.Ref, speed, price, strings.Join(used[m.Ref], ", ")))
	}
	rows = append(rows, "", dimStyle.Render(fmt.Sprintf("speed and price out of %d, higher is faster or cheaper", factory.RatingMax)))
	return strings.Join(rows, "\n")
}

func (a *App) renderRun() string {
	title := headStyle.Render("Run log")
	if len(a.logLines) == 0 {
		return title + "\n" + dimStyle.Render("press r to review "+displayPath(a.cfg.Review.InputPath))
	}
	return title + "\n" + a.log.View()
}

func displayPath(p string) string {
	if p == "" {
		return "(no input path set)"
	}
	return p
}
