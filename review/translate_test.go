package review

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BaSui01/reviewflow/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	englishText = "The proposed method considerably improves the accuracy of particle simulations in complex fluid flows."
	koreanText  = "제안된 방법은 복잡한 유체 흐름에서 입자 시뮬레이션의 정확도를 크게 향상시킨다."
)

func TestLanguageName(t *testing.T) {
	assert.Equal(t, "Korean", LanguageName("ko"))
	assert.Equal(t, "Japanese", LanguageName("ja"))
	assert.Equal(t, "Chinese", LanguageName("zh"))
	assert.Equal(t, "German", LanguageName("de"))
	assert.Equal(t, "%%", LanguageName("%%"))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "en", DetectLanguage(englishText))
	assert.Equal(t, "ko", DetectLanguage(koreanText))
	assert.Equal(t, "", DetectLanguage("too short"))
}

// translationReply echoes every requested key with a marker prefix.
func translationReply(prompt string) (any, error) {
	var items []translationItem
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			key := strings.Trim(line, "[]")
			items = append(items, translationItem{Key: key, Value: "KO " + key})
		}
	}
	return translationList{Items: items}, nil
}

func invokeTranslate(t *testing.T, p *Pipeline, fields map[string]any) workflow.Delta {
	t.Helper()
	state := workflow.NewState(fields)
	spec := p.translateStep()
	delta, err := spec.Step.Invoke(context.Background(), viewFor(state, spec))
	require.NoError(t, err)
	return delta
}

func TestTranslate_StandardSkipsTargetLanguage(t *testing.T) {
	model := newFakeModel()
	model.json[StepTranslate] = translationReply
	p := New(model, Settings{TargetLanguage: "ko"}, nil)

	delta := invokeTranslate(t, p, map[string]any{
		FieldPaperType:       PaperStandard,
		FieldBackground:      englishText,
		FieldResearchPurpose: koreanText,
		FieldMethodologies:   englishText,
		FieldResults:         englishText,
		FieldKeypoints:       englishText,
		FieldConclusion:      englishText,
	})

	assert.Equal(t, 2, model.calls(StepTranslate))
	assert.NotContains(t, delta, FieldResearchPurpose)
	assert.Equal(t, "KO background", delta[FieldBackground])
	assert.Equal(t, "KO conclusion", delta[FieldConclusion])
	assert.Len(t, delta, 5)
	assert.Contains(t, model.prompts[StepTranslate][0], "into Korean.")
}

func TestTranslate_ReviewBatchesAndNormalizesKeys(t *testing.T) {
	model := newFakeModel()
	model.json[StepTranslate] = func(prompt string) (any, error) {
		if strings.Contains(prompt, "[S4]") {
			return nil, errors.New("batch failed")
		}
		reply, _ := translationReply(prompt)
		list := reply.(translationList)
		for i, it := range list.Items {
			if it.Key == "Deﬁnitions" {
				list.Items[i].Key = "Definitions"
			}
		}
		list.Items = append(list.Items, translationItem{Key: "unknown", Value: "x"})
		return list, nil
	}
	p := New(model, Settings{TargetLanguage: "ko"}, nil)

	delta := invokeTranslate(t, p, map[string]any{
		FieldPaperType: PaperReview,
		FieldDynamicSections: []Section{
			{Name: "Deﬁnitions"}, {Name: "S2"}, {Name: "S3"}, {Name: "S4"},
		},
		FieldSectionAnalyses: map[string]string{
			"Deﬁnitions": englishText,
			"S2":         englishText,
			"S3":         englishText,
			"S4":         englishText,
		},
		FieldConclusion: englishText,
	})

	assert.Equal(t, 2, model.calls(StepTranslate))
	assert.Equal(t, map[string]string{
		"Deﬁnitions": "KO Deﬁnitions",
		"S2":         "KO S2",
		"S3":         "KO S3",
	}, delta[FieldSectionAnalyses])
	assert.NotContains(t, delta, FieldConclusion)
}

func TestTranslate_NoTarget(t *testing.T) {
	model := newFakeModel()
	p := New(model, Settings{}, nil)
	delta := invokeTranslate(t, p, map[string]any{FieldPaperType: PaperStandard, FieldBackground: englishText})
	assert.Empty(t, delta)
	assert.Zero(t, model.calls(StepTranslate))
}
