package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/reviewflow/workflow"
	"go.uber.org/zap"
)

type analyzer struct {
	step    string
	field   string
	section string
}

var analyzers = []analyzer{
	{step: StepAnalyzeBackground, field: FieldBackground, section: SectionIntroduction},
	{step: StepAnalyzePurpose, field: FieldResearchPurpose, section: SectionIntroduction},
	{step: StepAnalyzeMethodologies, field: FieldMethodologies, section: SectionMethods},
	{step: StepAnalyzeResults, field: FieldResults, section: SectionResults},
	{step: StepAnalyzeKeypoints, field: FieldKeypoints, section: SectionDiscussion},
}

func analyzerSteps() []string {
	steps := make([]string, len(analyzers))
	for i, a := range analyzers {
		steps[i] = a.step
	}
	return steps
}

func (p *Pipeline) analysisSteps() []workflow.StepSpec {
	specs := []workflow.StepSpec{
		workflow.Func(StepSyncExtraction, p.syncExtraction).
			WithReads(FieldPages, FieldPaperType).
			WithOptional(FieldTitle, FieldAbstract, FieldConclusion, FieldBasicInfo, FieldKeywords),
		workflow.Func(StepAnalyzeSection, p.analyzeSection).
			WithOptional(FieldTitle, FieldAbstract).
			WithWrites(FieldSectionAnalyses).
			AsFanOut(),
	}
	for _, a := range analyzers {
		specs = append(specs, workflow.Func(a.step, p.analyze(a)).
			WithReads(FieldPages).
			WithOptional(FieldTitle, FieldAbstract, FieldExtractedSections).
			WithWrites(a.field))
	}
	return specs
}

// syncExtraction joins the extraction chain and reports what is missing
// before analysis starts.
func (p *Pipeline) syncExtraction(_ context.Context, v workflow.View) (workflow.Delta, error) {
	var missing []string
	for _, f := range []string{FieldTitle, FieldAbstract, FieldConclusion, FieldBasicInfo, FieldKeywords} {
		if !v.Has(f) {
			missing = append(missing, f)
		}
	}
	log := p.stepLogger(StepSyncExtraction)
	if len(missing) > 0 {
		log.Warn("extraction incomplete, analysis continues without", zap.Strings("fields", missing))
	} else {
		log.Info("extraction complete")
	}
	return nil, nil
}

// sectionOrFullText returns the named section when it was found and the full
// text otherwise.
func sectionOrFullText(v workflow.View, section string) string {
	sections := workflow.LookupOr(v, FieldExtractedSections, map[string]string{})
	if s := sections[section]; s != "" {
		return s
	}
	return fullText(pagesOf(v))
}

func (p *Pipeline) analyze(a analyzer) workflow.StepFunc {
	tmpl := analyzerPrompts[a.field]
	return func(ctx context.Context, v workflow.View) (workflow.Delta, error) {
		prompt := tmpl.render(p.settings.MaxAnalysisLength,
			stringOf(v, FieldTitle), stringOf(v, FieldAbstract), sectionOrFullText(v, a.section))
		text, err := p.model.Complete(ctx, a.step, prompt)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		p.stepLogger(a.step).Info("analysis done", zap.Int("chars", charCount(text)))
		return workflow.Delta{a.field: text}, nil
	}
}

func (p *Pipeline) analyzeSection(ctx context.Context, v workflow.View) (workflow.Delta, error) {
	name := v.ItemString(ItemSectionName)
	content := v.ItemString(ItemSectionContent)
	if name == "" || content == "" {
		return nil, nil
	}
	prompt := analyzeSectionPrompt(p.settings.MaxAnalysisLength, name,
		stringOf(v, FieldTitle), stringOf(v, FieldAbstract), content)
	text, err := p.model.Complete(ctx, StepAnalyzeSection, prompt)
	if err != nil {
		return nil, fmt.Errorf("section %q: %w", name, err)
	}
	text = strings.TrimSpace(text)
	p.stepLogger(StepAnalyzeSection).Info("section analyzed",
		zap.String("section", name),
		zap.Int("chars", charCount(text)))
	return workflow.Delta{FieldSectionAnalyses: map[string]string{name: text}}, nil
}

// analysisRouter runs the five analyzers for standard papers and one branch
// per discovered section for review papers. Both converge on the length guard.
func analysisRouter() workflow.Router {
	targets := append(analyzerSteps(), StepAnalyzeSection, GuardLength)
	return workflow.Router{
		Name:     "analysis_router",
		Reads:    []string{FieldPaperType},
		Optional: []string{FieldDynamicSections},
		Targets:  targets,
		Route: func(v workflow.View) (workflow.RouteDecision, error) {
			if stringOf(v, FieldPaperType) != PaperReview {
				return workflow.Parallel(GuardLength, analyzerSteps()...), nil
			}
			sections := workflow.LookupOr(v, FieldDynamicSections, []Section(nil))
			return workflow.FanOut(StepAnalyzeSection, GuardLength, SectionItems(sections), ItemSectionName), nil
		},
	}
}

// SectionItems turns sections into fan-out items.
func SectionItems(sections []Section) []map[string]any {
	items := make([]map[string]any, len(sections))
	for i, s := range sections {
		items[i] = map[string]any{
			ItemSectionName:    s.Name,
			ItemSectionContent: s.Content,
		}
	}
	return items
}
