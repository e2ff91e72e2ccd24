package review

import (
	"context"
	"sort"
	"strings"

	"github.com/BaSui01/reviewflow/workflow"
	"go.uber.org/zap"
)

func (p *Pipeline) lengthSteps() []workflow.StepSpec {
	analysisInputs := append([]string{FieldSectionAnalyses, FieldDynamicSections}, AnalysisFields...)
	return []workflow.StepSpec{
		workflow.Func(StepCheckLength, p.checkAnalysisLength).
			WithReads(FieldPaperType).
			WithOptional(analysisInputs...).
			WithWrites(FieldExceededFields),
		workflow.Func(StepTruncateField, p.truncateField).
			WithOptional(analysisInputs...).
			WithWrites(append([]string{FieldSectionAnalyses}, AnalysisFields...)...).
			WithRepairs(AnalysisFields...).
			AsFanOut(),
	}
}

// sectionOrder lists analyzed sections in document order followed by any
// other analyzed section, sorted.
func sectionOrder(g workflow.Getter) []string {
	analyses := workflow.LookupOr(g, FieldSectionAnalyses, map[string]string{})
	sections := workflow.LookupOr(g, FieldDynamicSections, []Section(nil))
	order := make([]string, 0, len(analyses))
	seen := make(map[string]bool, len(analyses))
	for _, s := range sections {
		if _, ok := analyses[s.Name]; ok && !seen[s.Name] {
			seen[s.Name] = true
			order = append(order, s.Name)
		}
	}
	var rest []string
	for name := range analyses {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

func (p *Pipeline) checkAnalysisLength(_ context.Context, v workflow.View) (workflow.Delta, error) {
	log := p.stepLogger(StepCheckLength)
	limit := p.settings.MaxAnalysisLength
	exceeded := []string{}

	if stringOf(v, FieldPaperType) == PaperReview {
		analyses := workflow.LookupOr(v, FieldSectionAnalyses, map[string]string{})
		for _, name := range sectionOrder(v) {
			if n := charCount(analyses[name]); n > limit {
				exceeded = append(exceeded, sectionKeyPrefix+name)
				log.Warn("section analysis too long", zap.String("section", name), zap.Int("chars", n), zap.Int("limit", limit))
			}
		}
	} else {
		for _, f := range AnalysisFields {
			if n := charCount(stringOf(v, f)); n > limit {
				exceeded = append(exceeded, f)
				log.Warn("analysis too long", zap.String("field", f), zap.Int("chars", n), zap.Int("limit", limit))
			}
		}
	}
	log.Info("analysis length checked", zap.Strings("exceeded", exceeded))
	return workflow.Delta{FieldExceededFields: exceeded}, nil
}

func (p *Pipeline) truncateField(ctx context.Context, v workflow.View) (workflow.Delta, error) {
	log := p.stepLogger(StepTruncateField)
	field := v.ItemString(workflow.ItemViolation)

	section, isSection := strings.CutPrefix(field, sectionKeyPrefix)
	var content string
	if isSection {
		content = workflow.LookupOr(v, FieldSectionAnalyses, map[string]string{})[section]
	} else {
		content = stringOf(v, field)
	}
	if field == "" || content == "" {
		log.Warn("nothing to condense", zap.String("field", field))
		return nil, nil
	}

	shortened, err := p.model.Complete(ctx, StepTruncateField, condensePrompt(p.settings.MaxAnalysisLength, content))
	if err != nil {
		return nil, err
	}
	shortened = strings.TrimSpace(shortened)
	log.Info("analysis condensed",
		zap.String("field", field),
		zap.Int("before", charCount(content)),
		zap.Int("after", charCount(shortened)))

	if isSection {
		return workflow.Delta{FieldSectionAnalyses: map[string]string{section: shortened}}, nil
	}
	return workflow.Delta{field: shortened}, nil
}
