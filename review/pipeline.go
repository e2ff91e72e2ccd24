package review

import (
	"context"
	"strings"
	"time"

	"github.com/BaSui01/reviewflow/convert"
	"github.com/BaSui01/reviewflow/workflow"
	"go.uber.org/zap"
)

// Model is the language model surface the review steps use. node names the
// calling step and selects the configured model.
type Model interface {
	Complete(ctx context.Context, node, prompt string) (string, error)
	CompleteJSON(ctx context.Context, node, prompt string, out any) error
}

// Step and node names.
const (
	StepConvert                = "convert_md"
	StepDetectPaperType        = "detect_paper_type"
	StepExtractSections        = "extract_sections"
	StepExtractDynamicSections = "extract_dynamic_sections"
	StepExtractTitle           = "extract_title"
	StepExtractAbstract        = "extract_abstract"
	StepExtractConclusion      = "extract_conclusion"
	StepExtractBasicInfo       = "extract_basic_info"
	StepExtractKeywords        = "extract_keywords"
	StepLoadKeywordFile        = "load_keyword_file"
	StepReExtractKeywords      = "re_extract_keywords"
	StepAddSynonyms            = "add_synonyms_to_keywords"
	StepAddNewKeywords         = "add_new_keywords_to_file"
	StepSyncExtraction         = "sync_extraction"
	StepAnalyzeBackground      = "analyze_background"
	StepAnalyzePurpose         = "analyze_research_purpose"
	StepAnalyzeMethodologies   = "analyze_methodologies"
	StepAnalyzeResults         = "analyze_results"
	StepAnalyzeKeypoints       = "analyze_keypoints"
	StepAnalyzeSection         = "analyze_dynamic_section"
	StepCheckLength            = "check_analysis_length"
	StepTruncateField          = "truncate_field"
	GuardLength                = "length_guard"
	StepTranslate              = "translate_analysis"
	StepFinalSummarize         = "final_summarize"
)

// ModelSteps lists the steps that call the language model, in graph order.
// These are the names llm.nodes overrides apply to.
var ModelSteps = []string{
	StepDetectPaperType,
	StepExtractSections,
	StepExtractDynamicSections,
	StepExtractTitle,
	StepExtractAbstract,
	StepExtractConclusion,
	StepExtractBasicInfo,
	StepExtractKeywords,
	StepReExtractKeywords,
	StepAnalyzeBackground,
	StepAnalyzePurpose,
	StepAnalyzeMethodologies,
	StepAnalyzeResults,
	StepAnalyzeKeypoints,
	StepAnalyzeSection,
	StepTruncateField,
	StepTranslate,
}

// GraphName is the name of the review graph.
const GraphName = "paper_review"

// Settings are the review options that do not travel in the state.
type Settings struct {
	TargetLanguage    string
	MaxAnalysisLength int
	PaperType         string
	KeywordFilePath   string
	ConvertCommand    string
	ConvertTimeout    time.Duration
	RenameInput       bool
	// LengthRepairs bounds condense rounds of the length guard.
	LengthRepairs int
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		TargetLanguage:    "ko",
		MaxAnalysisLength: 500,
		PaperType:         PaperAuto,
		RenameInput:       true,
		LengthRepairs:     1,
	}
}

// Pipeline wires the review steps to a model, a converter and a keyword file.
type Pipeline struct {
	model     Model
	converter convert.Converter
	settings  Settings
	keywords  *KeywordStore
	logger    *zap.Logger
}

// New creates a pipeline. A zero MaxAnalysisLength or empty PaperType takes
// the default.
func New(model Model, settings Settings, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSettings()
	if settings.MaxAnalysisLength <= 0 {
		settings.MaxAnalysisLength = def.MaxAnalysisLength
	}
	settings.PaperType = strings.ToLower(strings.TrimSpace(settings.PaperType))
	if settings.PaperType == "" {
		settings.PaperType = def.PaperType
	}
	settings.TargetLanguage = strings.ToLower(strings.TrimSpace(settings.TargetLanguage))
	logger = logger.With(zap.String("component", "review"))
	return &Pipeline{
		model:    model,
		settings: settings,
		keywords: NewKeywordStore(settings.KeywordFilePath, logger),
		logger:   logger,
	}
}

// WithConverter fixes the converter instead of choosing one per input path.
func (p *Pipeline) WithConverter(c convert.Converter) *Pipeline {
	p.converter = c
	return p
}

// Settings returns the effective settings.
func (p *Pipeline) Settings() Settings {
	return p.settings
}

// Input builds the initial state of a run.
func Input(inputPath, outputPath string) *workflow.State {
	fields := map[string]any{FieldInputPath: inputPath}
	if outputPath != "" {
		fields[FieldOutputPath] = outputPath
	}
	return workflow.NewState(fields)
}

var extractionGroup = []string{
	StepExtractTitle,
	StepExtractAbstract,
	StepExtractConclusion,
	StepExtractBasicInfo,
}

// Graph builds and validates the review graph.
func (p *Pipeline) Graph() (*workflow.Graph, error) {
	b := workflow.NewBuilder(GraphName).
		WithLogger(p.logger).
		WithSchema(Schema())

	b.AddSteps(p.preprocessSteps()...)
	b.AddSteps(p.extractionSteps()...)
	b.AddSteps(p.keywordSteps()...)
	b.AddSteps(p.analysisSteps()...)
	b.AddSteps(p.lengthSteps()...)
	b.AddStep(p.translateStep())
	b.AddStep(p.summarizeStep())
	b.AddGuard(workflow.GuardSpec{
		Name:        GuardLength,
		Check:       StepCheckLength,
		Violations:  FieldExceededFields,
		Repair:      StepTruncateField,
		MaxAttempts: p.settings.LengthRepairs,
	})

	b.AddEdge(StepConvert, StepDetectPaperType)
	b.AddRouter(StepDetectPaperType, workflow.Switch("paper_type_router", FieldPaperType,
		map[string]string{PaperReview: StepExtractDynamicSections}, StepExtractSections))
	b.AddParallel(StepExtractSections, StepExtractKeywords, extractionGroup...)
	b.AddParallel(StepExtractDynamicSections, StepExtractKeywords, extractionGroup...)

	b.AddEdge(StepExtractKeywords, StepLoadKeywordFile)
	b.AddEdge(StepLoadKeywordFile, StepReExtractKeywords)
	b.AddEdge(StepReExtractKeywords, StepAddSynonyms)
	b.AddEdge(StepAddSynonyms, StepAddNewKeywords)
	b.AddEdge(StepAddNewKeywords, StepSyncExtraction)
	b.AddRouter(StepSyncExtraction, analysisRouter())

	b.AddEdge(GuardLength, StepTranslate)
	b.AddEdge(StepTranslate, StepFinalSummarize)
	b.AddEdge(StepFinalSummarize, workflow.End)

	return b.SetEntry(StepConvert).Build()
}

func (p *Pipeline) stepLogger(step string) *zap.Logger {
	return p.logger.With(zap.String("step", step))
}
