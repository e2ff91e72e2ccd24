package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/reviewflow/convert"
	"github.com/BaSui01/reviewflow/workflow"
	"go.uber.org/zap"
)

type lineRange struct {
	StartLine *int `json:"start_line"`
	EndLine   *int `json:"end_line"`
}

type sectionRanges struct {
	Introduction lineRange `json:"introduction"`
	Methods      lineRange `json:"methods"`
	Results      lineRange `json:"results"`
	Discussion   lineRange `json:"discussion"`
}

type dynamicSectionRange struct {
	Name      string `json:"name"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

type dynamicSectionRanges struct {
	Sections []dynamicSectionRange `json:"sections"`
}

type paperTypeAnswer struct {
	PaperType string `json:"paper_type"`
	Reasoning string `json:"reasoning"`
}

func (p *Pipeline) preprocessSteps() []workflow.StepSpec {
	return []workflow.StepSpec{
		workflow.Func(StepConvert, p.convertDocument).
			WithReads(FieldInputPath).
			WithWrites(FieldPages, FieldPageCount),
		workflow.Func(StepDetectPaperType, p.detectPaperType).
			WithReads(FieldPages).
			WithWrites(FieldPaperType),
		workflow.Func(StepExtractSections, p.extractSections).
			WithReads(FieldPages).
			WithWrites(FieldExtractedSections),
		workflow.Func(StepExtractDynamicSections, p.extractDynamicSections).
			WithReads(FieldPages).
			WithWrites(FieldDynamicSections),
	}
}

func (p *Pipeline) convertDocument(ctx context.Context, v workflow.View) (workflow.Delta, error) {
	path := stringOf(v, FieldInputPath)
	if path == "" {
		return nil, fmt.Errorf("input path is empty")
	}
	conv := p.converter
	if conv == nil {
		var err error
		conv, err = convert.ForPath(path, p.settings.ConvertCommand, p.settings.ConvertTimeout, p.logger)
		if err != nil {
			return nil, err
		}
	}
	doc, err := conv.Convert(ctx, path)
	if err != nil {
		return nil, err
	}
	p.stepLogger(StepConvert).Info("document converted",
		zap.String("path", path),
		zap.Int("pages", doc.PageCount()))
	return workflow.Delta{
		FieldPages:     doc.Pages,
		FieldPageCount: doc.PageCount(),
	}, nil
}

func (p *Pipeline) detectPaperType(ctx context.Context, v workflow.View) (workflow.Delta, error) {
	log := p.stepLogger(StepDetectPaperType)
	if p.settings.PaperType != PaperAuto {
		log.Info("using configured paper type", zap.String("paper_type", p.settings.PaperType))
		return workflow.Delta{FieldPaperType: p.settings.PaperType}, nil
	}

	var answer paperTypeAnswer
	prompt := detectPaperTypePrompt(firstPages(pagesOf(v), 5))
	if err := p.model.CompleteJSON(ctx, StepDetectPaperType, prompt, &answer); err != nil {
		return nil, err
	}
	paperType := normalizePaperType(answer.PaperType)
	log.Info("paper type detected",
		zap.String("paper_type", paperType),
		zap.String("reasoning", truncateRunes(answer.Reasoning, 100)))
	return workflow.Delta{FieldPaperType: paperType}, nil
}

// normalizePaperType maps anything but "review" to "standard".
func normalizePaperType(s string) string {
	if strings.ToLower(strings.TrimSpace(s)) == PaperReview {
		return PaperReview
	}
	return PaperStandard
}

func (p *Pipeline) extractSections(ctx context.Context, v workflow.View) (workflow.Delta, error) {
	lines := strings.Split(fullText(pagesOf(v)), "\n")
	var ranges sectionRanges
	if err := p.model.CompleteJSON(ctx, StepExtractSections, extractSectionsPrompt(numberLines(lines)), &ranges); err != nil {
		return nil, err
	}

	sections := map[string]string{
		SectionIntroduction: rangeText(lines, ranges.Introduction),
		SectionMethods:      rangeText(lines, ranges.Methods),
		SectionResults:      rangeText(lines, ranges.Results),
		SectionDiscussion:   rangeText(lines, ranges.Discussion),
	}
	var found []string
	for _, name := range []string{SectionIntroduction, SectionMethods, SectionResults, SectionDiscussion} {
		if sections[name] != "" {
			found = append(found, name)
		}
	}
	p.stepLogger(StepExtractSections).Info("sections extracted", zap.Strings("found", found))
	return workflow.Delta{FieldExtractedSections: sections}, nil
}

func rangeText(lines []string, r lineRange) string {
	if r.StartLine == nil || r.EndLine == nil {
		return ""
	}
	return sliceLines(lines, *r.StartLine, *r.EndLine)
}

func (p *Pipeline) extractDynamicSections(ctx context.Context, v workflow.View) (workflow.Delta, error) {
	lines := strings.Split(fullText(pagesOf(v)), "\n")
	var ranges dynamicSectionRanges
	if err := p.model.CompleteJSON(ctx, StepExtractDynamicSections, extractDynamicSectionsPrompt(numberLines(lines)), &ranges); err != nil {
		return nil, err
	}

	var sections []Section
	index := make(map[string]int)
	for _, r := range ranges.Sections {
		name := strings.TrimSpace(r.Name)
		text := sliceLines(lines, r.StartLine, r.EndLine)
		if name == "" || text == "" {
			continue
		}
		// a repeated name replaces the earlier content in place
		if i, ok := index[name]; ok {
			sections[i].Content = text
			continue
		}
		index[name] = len(sections)
		sections = append(sections, Section{Name: name, Content: text})
	}
	p.stepLogger(StepExtractDynamicSections).Info("dynamic sections extracted", zap.Int("sections", len(sections)))
	return workflow.Delta{FieldDynamicSections: sections}, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
