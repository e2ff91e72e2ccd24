package review

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/BaSui01/reviewflow/workflow"
	"go.uber.org/zap"
)

func (p *Pipeline) extractionSteps() []workflow.StepSpec {
	return []workflow.StepSpec{
		workflow.Func(StepExtractTitle, p.textExtractor(StepExtractTitle, FieldTitle, func(pages []string) string {
			return extractTitlePrompt(firstPages(pages, 2))
		})).WithReads(FieldPages).WithWrites(FieldTitle),
		workflow.Func(StepExtractAbstract, p.textExtractor(StepExtractAbstract, FieldAbstract, func(pages []string) string {
			return extractAbstractPrompt(firstPages(pages, 3))
		})).WithReads(FieldPages).WithWrites(FieldAbstract),
		workflow.Func(StepExtractConclusion, p.textExtractor(StepExtractConclusion, FieldConclusion, func(pages []string) string {
			return extractConclusionPrompt(fullText(pages))
		})).WithReads(FieldPages).WithWrites(FieldConclusion),
		workflow.Func(StepExtractBasicInfo, p.extractBasicInfo).
			WithReads(FieldPages).
			WithWrites(FieldBasicInfo),
	}
}

// textExtractor builds a step that asks for one plain-text field.
func (p *Pipeline) textExtractor(step, field string, prompt func(pages []string) string) workflow.StepFunc {
	return func(ctx context.Context, v workflow.View) (workflow.Delta, error) {
		text, err := p.model.Complete(ctx, step, prompt(pagesOf(v)))
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		p.stepLogger(step).Info("extracted", zap.String("field", field), zap.Int("chars", charCount(text)))
		return workflow.Delta{field: text}, nil
	}
}

type basicInfoAnswer struct {
	Authors      []string   `json:"authors"`
	Year         flexString `json:"year"`
	Affiliations []string   `json:"affiliations"`
	Journal      flexString `json:"journal"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*f = ""
	case string:
		*f = flexString(x)
	case float64:
		*f = flexString(strconv.FormatFloat(x, 'f', -1, 64))
	default:
		return fmt.Errorf("expected string or number, got %T", v)
	}
	return nil
}

func (p *Pipeline) extractBasicInfo(ctx context.Context, v workflow.View) (workflow.Delta, error) {
	var answer basicInfoAnswer
	if err := p.model.CompleteJSON(ctx, StepExtractBasicInfo, extractBasicInfoPrompt(firstPages(pagesOf(v), 2)), &answer); err != nil {
		return nil, err
	}
	info := BasicInfo{
		Authors:      answer.Authors,
		Year:         strings.TrimSpace(string(answer.Year)),
		Affiliations: answer.Affiliations,
		Journal:      strings.TrimSpace(string(answer.Journal)),
	}
	first := info.FirstAuthor()
	if first == "" {
		first = "Unknown"
	}
	p.stepLogger(StepExtractBasicInfo).Info("basic info extracted",
		zap.String("first_author", first),
		zap.String("year", info.Year))
	return workflow.Delta{FieldBasicInfo: info}, nil
}
