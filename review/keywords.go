package review

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/BaSui01/reviewflow/workflow"
	"go.uber.org/zap"
)

var (
	bracketed  = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]|\{[^}]*\}`)
	whitespace = regexp.MustCompile(`\s+`)
)

var errNotObject = errors.New("keyword file is not a JSON object")

// KeywordStore reads and extends a JSON keyword file mapping each keyword to
// its synonyms. Synonyms may be a list or a single string. Key order is kept
// when the file is rewritten.
type KeywordStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewKeywordStore creates a store for path. An empty path disables the store.
func NewKeywordStore(path string, logger *zap.Logger) *KeywordStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordStore{path: path, logger: logger.With(zap.String("keyword_file", path))}
}

// Path returns the keyword file path.
func (s *KeywordStore) Path() string {
	return s.path
}

// Load returns the keywords in file order and their synonyms. A missing or
// malformed file yields empty results and is only logged.
func (s *KeywordStore) Load() ([]string, map[string][]string) {
	keywords := []string{}
	synonyms := map[string][]string{}
	if s.path == "" {
		return keywords, synonyms
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("keyword file does not exist")
		} else {
			s.logger.Error("cannot load keyword file", zap.Error(err))
		}
		return keywords, synonyms
	}
	for _, e := range entries {
		keywords = append(keywords, e.key)
		syn, ok := decodeSynonyms(e.value)
		if !ok {
			s.logger.Warn("synonyms are neither a list nor a string", zap.String("keyword", e.key))
		}
		synonyms[e.key] = syn
	}
	return keywords, synonyms
}

// Add appends the cleaned keywords that are not in the file yet, each with an
// empty synonym list, and returns how many were added.
func (s *KeywordStore) Add(keywords []string) (int, error) {
	if s.path == "" {
		return 0, fmt.Errorf("keyword file path is not set")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.read()
	if err != nil {
		return 0, err
	}
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.key] = true
	}
	added := 0
	for _, kw := range keywords {
		kw = CleanKeyword(kw)
		if kw == "" || present[kw] {
			continue
		}
		present[kw] = true
		entries = append(entries, keywordEntry{key: kw, value: json.RawMessage("[]")})
		added++
	}
	if added == 0 {
		return 0, nil
	}
	data, err := encodeEntries(entries)
	if err != nil {
		return 0, err
	}
	return added, writeFileAtomic(s.path, data)
}

// CleanKeyword removes bracketed parts and collapses whitespace.
func CleanKeyword(kw string) string {
	kw = bracketed.ReplaceAllString(kw, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(kw, " "))
}

type keywordEntry struct {
	key   string
	value json.RawMessage
}

func (s *KeywordStore) read() ([]keywordEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	return decodeEntries(data)
}

// decodeEntries reads a JSON object keeping key order. A repeated key keeps
// its first position and its last value.
func decodeEntries(data []byte) ([]keywordEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("parse keyword file: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errNotObject
	}
	var entries []keywordEntry
	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse keyword file: %w", err)
		}
		key, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse keyword file: %w", err)
		}
		if i, ok := index[key]; ok {
			entries[i].value = raw
			continue
		}
		index[key] = len(entries)
		entries = append(entries, keywordEntry{key: key, value: raw})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("parse keyword file: %w", err)
	}
	return entries, nil
}

// encodeEntries writes the object with two-space indentation.
func encodeEntries(entries []keywordEntry) ([]byte, error) {
	if len(entries) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, e := range entries {
		key, err := marshalNoEscape(e.key)
		if err != nil {
			return nil, err
		}
		buf.WriteString("  ")
		buf.Write(key)
		buf.WriteString(": ")
		if err := json.Indent(&buf, e.value, "  ", "  "); err != nil {
			return nil, err
		}
		if i < len(entries)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func decodeSynonyms(raw json.RawMessage) ([]string, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return []string{}, false
	}
	switch x := v.(type) {
	case string:
		return []string{x}, true
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return []string{}, false
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".keywords-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type keywordsAnswer struct {
	Keywords []string `json:"keywords"`
}

func (p *Pipeline) keywordSteps() []workflow.StepSpec {
	return []workflow.StepSpec{
		workflow.Func(StepExtractKeywords, p.extractKeywords).
			WithReads(FieldPages).
			WithOptional(FieldAbstract).
			WithWrites(FieldKeywords),
		workflow.Func(StepLoadKeywordFile, p.loadKeywordFile).
			WithWrites(FieldOriginalKeywords, FieldKeywordSynonyms),
		workflow.Func(StepReExtractKeywords, p.reExtractKeywords).
			WithReads(FieldKeywords, FieldOriginalKeywords).
			WithOptional(FieldTitle, FieldAbstract).
			WithWrites(FieldKeywords).
			WithRepairs(FieldKeywords),
		workflow.Func(StepAddSynonyms, p.addSynonyms).
			WithReads(FieldKeywords, FieldKeywordSynonyms).
			WithWrites(FieldKeywords).
			WithRepairs(FieldKeywords),
		workflow.Func(StepAddNewKeywords, p.addNewKeywords).
			WithReads(FieldKeywords, FieldOriginalKeywords),
	}
}

func (p *Pipeline) extractKeywords(ctx context.Context, v workflow.View) (workflow.Delta, error) {
	var answer keywordsAnswer
	prompt := extractKeywordsPrompt(stringOf(v, FieldAbstract), firstPages(pagesOf(v), 3))
	if err := p.model.CompleteJSON(ctx, StepExtractKeywords, prompt, &answer); err != nil {
		return nil, err
	}
	keywords := nonEmpty(answer.Keywords)
	p.stepLogger(StepExtractKeywords).Info("keywords extracted", zap.Int("count", len(keywords)))
	return workflow.Delta{FieldKeywords: keywords}, nil
}

func (p *Pipeline) loadKeywordFile(context.Context, workflow.View) (workflow.Delta, error) {
	keywords, synonyms := p.keywords.Load()
	p.stepLogger(StepLoadKeywordFile).Info("keyword file loaded",
		zap.Int("keywords", len(keywords)),
		zap.Int("synonym_sets", len(synonyms)))
	return workflow.Delta{
		FieldOriginalKeywords: keywords,
		FieldKeywordSynonyms:  synonyms,
	}, nil
}

func (p *Pipeline) reExtractKeywords(ctx context.Context, v workflow.View) (workflow.Delta, error) {
	log := p.stepLogger(StepReExtractKeywords)
	existing := workflow.LookupOr(v, FieldKeywords, []string{})
	reference := workflow.LookupOr(v, FieldOriginalKeywords, []string{})
	if len(reference) == 0 {
		log.Info("no reference keywords, skipping")
		return nil, nil
	}

	var answer keywordsAnswer
	prompt := reExtractKeywordsPrompt(existing, reference, stringOf(v, FieldTitle), stringOf(v, FieldAbstract))
	if err := p.model.CompleteJSON(ctx, StepReExtractKeywords, prompt, &answer); err != nil {
		return nil, err
	}
	merged, added := appendMissing(append([]string(nil), existing...), nonEmpty(answer.Keywords))
	log.Info("keywords re-extracted",
		zap.Int("existing", len(existing)),
		zap.Int("added", added))
	if added == 0 {
		return nil, nil
	}
	return workflow.Delta{FieldKeywords: merged}, nil
}

func (p *Pipeline) addSynonyms(_ context.Context, v workflow.View) (workflow.Delta, error) {
	keywords := workflow.LookupOr(v, FieldKeywords, []string{})
	synonyms := workflow.LookupOr(v, FieldKeywordSynonyms, map[string][]string{})

	merged := append([]string(nil), keywords...)
	added := 0
	for _, kw := range keywords {
		var n int
		merged, n = appendMissing(merged, synonyms[kw])
		added += n
	}
	p.stepLogger(StepAddSynonyms).Info("synonyms added", zap.Int("added", added), zap.Int("total", len(merged)))
	if added == 0 {
		return nil, nil
	}
	return workflow.Delta{FieldKeywords: merged}, nil
}

func (p *Pipeline) addNewKeywords(_ context.Context, v workflow.View) (workflow.Delta, error) {
	log := p.stepLogger(StepAddNewKeywords)
	keywords := workflow.LookupOr(v, FieldKeywords, []string{})
	original := toSet(workflow.LookupOr(v, FieldOriginalKeywords, []string{}))

	var fresh []string
	for _, kw := range keywords {
		if !original[kw] {
			fresh = append(fresh, kw)
		}
	}
	switch {
	case len(fresh) == 0:
		log.Info("no new keywords")
		return nil, nil
	case p.keywords.Path() == "":
		log.Warn("keyword file path is not set, new keywords are not stored", zap.Int("new", len(fresh)))
		return nil, nil
	}

	added, err := p.keywords.Add(fresh)
	if err != nil {
		log.Error("cannot add keywords to file", zap.Error(err))
		return nil, nil
	}
	log.Info("keyword file updated", zap.Int("added", added))
	return nil, nil
}

// appendMissing appends the items not yet in list and reports how many were added.
func appendMissing(list, items []string) ([]string, int) {
	seen := toSet(list)
	added := 0
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		list = append(list, it)
		added++
	}
	return list, added
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}
