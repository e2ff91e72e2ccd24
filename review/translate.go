package review

import (
	"context"
	"strings"

	"github.com/BaSui01/reviewflow/workflow"
	"github.com/abadojack/whatlanggo"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/text/unicode/norm"
)

const (
	translateBatchSize = 3
	conclusionKey      = "__conclusion__"
	minDetectChars     = 20
)

// SupportedLanguages are the accepted translation targets.
var SupportedLanguages = []string{"ko", "en", "ja", "zh", "de", "fr", "es", "pt", "ru"}

// LanguageName returns the English name of a language code, or the code
// itself when it is unknown.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// DetectLanguage returns the ISO 639-1 code of text, or "" when the text is
// too short or the language is unknown. Chinese variants all map to "zh".
func DetectLanguage(text string) string {
	text = strings.TrimSpace(text)
	if charCount(text) < minDetectChars {
		return ""
	}
	code := whatlanggo.Detect(text).Lang.Iso6391()
	if strings.HasPrefix(code, "zh") {
		return "zh"
	}
	return code
}

func inLanguage(text, target string) bool {
	detected := DetectLanguage(text)
	return detected != "" && detected == target
}

func normalizeKey(s string) string {
	return norm.NFKC.String(s)
}

type translationItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type translationList struct {
	Items []translationItem `json:"items"`
}

func (p *Pipeline) translateStep() workflow.StepSpec {
	writes := append([]string{FieldConclusion, FieldSectionAnalyses}, AnalysisFields...)
	return workflow.Func(StepTranslate, p.translateAnalysis).
		WithReads(FieldPaperType).
		WithOptional(append([]string{FieldDynamicSections}, writes...)...).
		WithWrites(writes...).
		WithRepairs(append([]string{FieldConclusion}, AnalysisFields...)...)
}

func (p *Pipeline) translateAnalysis(ctx context.Context, v workflow.View) (workflow.Delta, error) {
	log := p.stepLogger(StepTranslate)
	target := p.settings.TargetLanguage
	if target == "" {
		log.Info("no target language, skipping")
		return nil, nil
	}
	review := stringOf(v, FieldPaperType) == PaperReview

	var keys []string
	texts := make(map[string]string)
	var already []string
	add := func(key, text string) {
		if text == "" {
			return
		}
		if inLanguage(text, target) {
			already = append(already, key)
			return
		}
		keys = append(keys, key)
		texts[key] = text
	}
	if review {
		analyses := workflow.LookupOr(v, FieldSectionAnalyses, map[string]string{})
		for _, name := range sectionOrder(v) {
			add(name, analyses[name])
		}
		add(conclusionKey, stringOf(v, FieldConclusion))
	} else {
		for _, f := range append(append([]string(nil), AnalysisFields...), FieldConclusion) {
			add(f, stringOf(v, f))
		}
	}
	if len(already) > 0 {
		log.Info("already in target language", zap.Strings("keys", already))
	}
	if len(keys) == 0 {
		return nil, nil
	}

	name := LanguageName(target)
	translated := make(map[string]string, len(keys))
	for start := 0; start < len(keys); start += translateBatchSize {
		end := min(start+translateBatchSize, len(keys))
		batch := keys[start:end]
		out, err := p.translateBatch(ctx, name, batch, texts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			log.Error("translation batch failed", zap.Int("batch", start/translateBatchSize+1), zap.Error(err))
			continue
		}
		for k, val := range out {
			translated[k] = val
		}
	}
	log.Info("translation done",
		zap.String("language", name),
		zap.Int("requested", len(keys)),
		zap.Int("translated", len(translated)))

	delta := workflow.Delta{}
	if review {
		sections := make(map[string]string)
		for k, val := range translated {
			if k == conclusionKey {
				delta[FieldConclusion] = val
			} else {
				sections[k] = val
			}
		}
		if len(sections) > 0 {
			delta[FieldSectionAnalyses] = sections
		}
	} else {
		for k, val := range translated {
			delta[k] = val
		}
	}
	return delta, nil
}

// translateBatch translates one batch and maps the returned keys back to the
// requested ones after NFKC normalization. Unknown keys are dropped.
func (p *Pipeline) translateBatch(ctx context.Context, languageName string, keys []string, texts map[string]string) (map[string]string, error) {
	byNorm := make(map[string]string, len(keys))
	for _, k := range keys {
		byNorm[normalizeKey(k)] = k
	}
	var list translationList
	if err := p.model.CompleteJSON(ctx, StepTranslate, translatePrompt(languageName, keys, texts), &list); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list.Items))
	for _, it := range list.Items {
		key, ok := byNorm[normalizeKey(it.Key)]
		if !ok {
			p.stepLogger(StepTranslate).Warn("translation returned an unknown key", zap.String("key", it.Key))
			continue
		}
		if val := strings.TrimSpace(it.Value); val != "" {
			out[key] = val
		}
	}
	return out, nil
}
