package review

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BaSui01/reviewflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const paperText = "A Study of Things\nJane Q. Doe\nAbstract\nWe study things.\n1\nIntroduction\nThings matter." +
	"\fMethods\nWe measured.\nResults\nIt worked." +
	"\fConclusion\nThings are good."

func writePaper(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "paper.md")
	require.NoError(t, os.WriteFile(path, []byte(paperText), 0o644))
	return path
}

func intPtr(n int) *int { return &n }

func standardModel() *fakeModel {
	return newFakeModel().
		replyJSON(StepDetectPaperType, map[string]any{"paper_type": "Standard", "reasoning": "has methods"}).
		replyJSON(StepExtractSections, sectionRanges{
			Introduction: lineRange{StartLine: intPtr(5), EndLine: intPtr(6)},
			Methods:      lineRange{StartLine: intPtr(8), EndLine: intPtr(9)},
			Discussion:   lineRange{StartLine: intPtr(13), EndLine: intPtr(20)},
		}).
		reply(StepExtractTitle, "  A Study of Things \n").
		reply(StepExtractAbstract, "We study things.").
		reply(StepExtractConclusion, "Things are good.").
		replyJSON(StepExtractBasicInfo, map[string]any{
			"authors":      []string{"Jane Q. Doe", "John Roe"},
			"year":         2023,
			"affiliations": []string{},
			"journal":      "J. Stuff",
		}).
		replyJSON(StepExtractKeywords, keywordsAnswer{Keywords: []string{"SPH", "fluid (CFD)"}}).
		replyJSON(StepReExtractKeywords, keywordsAnswer{Keywords: []string{"SPH", "meshless"}})
}

func runPipeline(t *testing.T, p *Pipeline, input, output string) *workflow.Result {
	t.Helper()
	g, err := p.Graph()
	require.NoError(t, err)
	res, err := workflow.NewExecutor(g, workflow.DefaultOptions(), nil).
		Execute(context.Background(), Input(input, output), "")
	require.NoError(t, err)
	return res
}

func TestGraph_Builds(t *testing.T) {
	g, err := New(newFakeModel(), DefaultSettings(), nil).Graph()
	require.NoError(t, err)
	assert.Equal(t, GraphName, g.Name())
	assert.Equal(t, StepConvert, g.Entry())
}

func TestModelSteps_AreRegistered(t *testing.T) {
	g, err := New(newFakeModel(), DefaultSettings(), nil).Graph()
	require.NoError(t, err)
	for _, name := range ModelSteps {
		_, ok := g.Step(name)
		assert.True(t, ok, name)
	}
}

func TestRun_StandardPaper(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "notes")
	require.NoError(t, os.Mkdir(outDir, 0o755))
	kwFile := filepath.Join(dir, "keywords.json")
	require.NoError(t, os.WriteFile(kwFile, []byte(`{"SPH": ["Smoothed Particle Hydrodynamics"]}`), 0o644))

	model := standardModel().
		reply(StepAnalyzeKeypoints, strings.Repeat("k", 150)).
		reply(StepTruncateField, "short keypoints")
	p := New(model, Settings{
		MaxAnalysisLength: 100,
		PaperType:         "auto",
		KeywordFilePath:   kwFile,
		LengthRepairs:     2,
	}, nil)

	res := runPipeline(t, p, writePaper(t, dir), outDir)
	assert.Equal(t, workflow.ExecutionStatusCompleted, res.Status)
	assert.Empty(t, res.Warnings)

	st := res.State
	assert.Equal(t, PaperStandard, workflow.LookupOr(st, FieldPaperType, ""))
	assert.Equal(t, 3, workflow.LookupOr(st, FieldPageCount, 0))
	assert.Equal(t, "A Study of Things", workflow.LookupOr(st, FieldTitle, ""))
	assert.Equal(t,
		[]string{"SPH", "fluid (CFD)", "meshless", "Smoothed Particle Hydrodynamics"},
		workflow.LookupOr(st, FieldKeywords, []string(nil)))
	assert.Equal(t, "short keypoints", workflow.LookupOr(st, FieldKeypoints, ""))
	assert.Equal(t, StepAnalyzeKeypoints, st.Writer(FieldKeypoints))

	sections := workflow.LookupOr(st, FieldExtractedSections, map[string]string(nil))
	assert.Equal(t, "Introduction\nThings matter.", sections[SectionIntroduction])
	assert.Equal(t, "", sections[SectionResults])
	assert.Equal(t, "Conclusion\nThings are good.", sections[SectionDiscussion])
	assert.Contains(t, model.lastPrompt(StepAnalyzeMethodologies), "Paper Content:\nMethods\nWe measured.")
	assert.Contains(t, model.lastPrompt(StepAnalyzeResults), "A Study of Things\nJane Q. Doe")
	assert.Equal(t, 1, model.calls(StepTruncateField))

	reportPath := filepath.Join(outDir, "Jane_Q_Doe2023.md")
	assert.Equal(t, reportPath, workflow.LookupOr(st, FieldReportPath, ""))
	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	report := string(data)
	assert.True(t, strings.HasPrefix(report, "---\ntitle: \"A Study of Things\"\nfirst_author: Jane Q. Doe\nyear: 2023\njournal: \"J. Stuff\"\n"))
	assert.Contains(t, report, "paper_link: \"[[Jane_Q_Doe2023.pdf]]\"")
	assert.Contains(t, report, "tags:\n  - SPH\n  - fluid\n  - meshless\n  - Smoothed_Particle_Hydrodynamics\n---")
	assert.Contains(t, report, "### Key Contributions\nshort keypoints\n\n### Conclusion\nThings are good.\n\n---\n## Link\n- ")

	kw, err := os.ReadFile(kwFile)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"SPH\": [\n    \"Smoothed Particle Hydrodynamics\"\n  ],\n  \"fluid\": [],\n  \"meshless\": [],\n  \"Smoothed Particle Hydrodynamics\": []\n}", string(kw))
}

func TestRun_ReviewPaper(t *testing.T) {
	dir := t.TempDir()
	model := newFakeModel().
		replyJSON(StepExtractDynamicSections, dynamicSectionRanges{Sections: []dynamicSectionRange{
			{Name: "Background", StartLine: 5, EndLine: 6},
			{Name: "Taxonomy", StartLine: 8, EndLine: 11},
			{Name: "Empty", StartLine: 50, EndLine: 60},
		}}).
		reply(StepExtractTitle, "A Survey of Things").
		reply(StepExtractAbstract, "We survey things.").
		reply(StepExtractConclusion, "Things vary.").
		replyJSON(StepExtractBasicInfo, map[string]any{"authors": []string{}, "year": nil}).
		replyJSON(StepExtractKeywords, keywordsAnswer{Keywords: []string{"survey"}})
	model.text[StepAnalyzeSection] = func(prompt string) (string, error) {
		return "summary of " + sectionNameOf(prompt), nil
	}

	p := New(model, Settings{PaperType: PaperReview}, nil)
	report := filepath.Join(dir, "out", "note.md")
	res := runPipeline(t, p, writePaper(t, dir), report)

	assert.Equal(t, workflow.ExecutionStatusCompleted, res.Status)
	assert.Zero(t, model.calls(StepDetectPaperType))
	assert.Zero(t, model.calls(StepReExtractKeywords))
	assert.Equal(t, 2, model.calls(StepAnalyzeSection))
	for _, step := range analyzerSteps() {
		assert.Zero(t, model.calls(step))
	}

	analyses := workflow.LookupOr(res.State, FieldSectionAnalyses, map[string]string(nil))
	assert.Equal(t, map[string]string{
		"Background": "summary of Background",
		"Taxonomy":   "summary of Taxonomy",
	}, analyses)

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), "## Summary\n### Background\nsummary of Background\n\n### Taxonomy\nsummary of Taxonomy\n\n### Conclusion\nThings vary.")
	assert.Contains(t, string(data), "paper_link: \"[[UnknownUnknown.pdf]]\"")
}

func TestRun_ReviewPaperWithoutSections(t *testing.T) {
	dir := t.TempDir()
	model := newFakeModel().
		replyJSON(StepExtractDynamicSections, dynamicSectionRanges{}).
		replyJSON(StepExtractBasicInfo, map[string]any{"authors": []string{"Kim"}, "year": "2020"}).
		replyJSON(StepExtractKeywords, keywordsAnswer{})

	res := runPipeline(t, New(model, Settings{PaperType: PaperReview}, nil), writePaper(t, dir), "")
	assert.Equal(t, workflow.ExecutionStatusCompleted, res.Status)
	assert.Zero(t, model.calls(StepAnalyzeSection))
	assert.Equal(t, []string{}, workflow.LookupOr(res.State, FieldExceededFields, []string(nil)))
	assert.Contains(t, workflow.LookupOr(res.State, FieldFinalReport, ""), "## Summary\n### Conclusion\n")
	assert.False(t, res.State.Has(FieldReportPath))
}

func TestRun_AnalyzerFailureIsPartial(t *testing.T) {
	dir := t.TempDir()
	core, logs := observer.New(zap.WarnLevel)
	model := standardModel().fail(StepAnalyzeResults, errors.New("upstream down"))

	p := New(model, Settings{PaperType: PaperStandard}, zap.New(core))
	g, err := p.Graph()
	require.NoError(t, err)
	res, err := workflow.NewExecutor(g, workflow.DefaultOptions(), zap.New(core)).
		Execute(context.Background(), Input(writePaper(t, dir), ""), "")
	require.NoError(t, err)

	assert.Equal(t, workflow.ExecutionStatusPartial, res.Status)
	require.Len(t, res.Partials, 1)
	assert.Equal(t, []string{StepAnalyzeResults}, res.Partials[0].Failed)
	assert.False(t, res.State.Has(FieldResults))
	assert.Contains(t, workflow.LookupOr(res.State, FieldFinalReport, ""), "### Results\n\n\n### Key Contributions")
	assert.NotZero(t, logs.Len())
}

func TestRun_ConfiguredTypeSkipsDetection(t *testing.T) {
	model := standardModel()
	p := New(model, Settings{PaperType: " Standard "}, nil)
	res := runPipeline(t, p, writePaper(t, t.TempDir()), "")
	assert.Equal(t, PaperStandard, workflow.LookupOr(res.State, FieldPaperType, ""))
	assert.Zero(t, model.calls(StepDetectPaperType))
}

func TestRun_PDFWithoutCommandFails(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "paper.pdf")
	require.NoError(t, os.WriteFile(input, []byte("%PDF-1.4"), 0o644))

	g, err := New(newFakeModel(), DefaultSettings(), nil).Graph()
	require.NoError(t, err)
	res, err := workflow.NewExecutor(g, workflow.DefaultOptions(), nil).
		Execute(context.Background(), Input(input, ""), "")
	require.Error(t, err)
	assert.Equal(t, workflow.ExecutionStatusFailed, res.Status)
	assert.Equal(t, workflow.ErrStepFailure, workflow.GetErrorCode(err))
}

func TestNormalizePaperType(t *testing.T) {
	assert.Equal(t, PaperReview, normalizePaperType(" Review "))
	assert.Equal(t, PaperStandard, normalizePaperType("standard"))
	assert.Equal(t, PaperStandard, normalizePaperType("survey"))
	assert.Equal(t, PaperStandard, normalizePaperType(""))
}
