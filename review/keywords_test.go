package review

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keywordFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keywords.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestKeywordStore_Load(t *testing.T) {
	path := keywordFile(t, `{"zeta": ["z"], "SPH": "Smoothed Particle Hydrodynamics", "odd": 3, "zeta": ["z2"]}`)
	keywords, synonyms := NewKeywordStore(path, nil).Load()

	assert.Equal(t, []string{"zeta", "SPH", "odd"}, keywords)
	assert.Equal(t, map[string][]string{
		"zeta": {"z2"},
		"SPH":  {"Smoothed Particle Hydrodynamics"},
		"odd":  {},
	}, synonyms)
}

func TestKeywordStore_LoadInvalid(t *testing.T) {
	cases := map[string]string{
		"array":     `["a", "b"]`,
		"malformed": `{"a": [`,
		"empty":     ``,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			keywords, synonyms := NewKeywordStore(keywordFile(t, content), nil).Load()
			assert.Empty(t, keywords)
			assert.Empty(t, synonyms)
		})
	}

	keywords, synonyms := NewKeywordStore(filepath.Join(t.TempDir(), "missing.json"), nil).Load()
	assert.Empty(t, keywords)
	assert.Empty(t, synonyms)

	keywords, _ = NewKeywordStore("", nil).Load()
	assert.NotNil(t, keywords)
}

func TestKeywordStore_Add(t *testing.T) {
	path := keywordFile(t, `{"b": ["x"], "a": []}`)
	store := NewKeywordStore(path, nil)

	added, err := store.Add([]string{"a", "new  term (NT)", "[ignored]", "ünïcode & <tag>", "new term"})
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"b\": [\n    \"x\"\n  ],\n  \"a\": [],\n  \"new term\": [],\n  \"ünïcode & <tag>\": []\n}", string(data))

	added, err = store.Add([]string{"a", "b"})
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestKeywordStore_AddErrors(t *testing.T) {
	_, err := NewKeywordStore("", nil).Add([]string{"a"})
	assert.Error(t, err)

	_, err = NewKeywordStore(filepath.Join(t.TempDir(), "missing.json"), nil).Add([]string{"a"})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = NewKeywordStore(keywordFile(t, `[1]`), nil).Add([]string{"a"})
	assert.ErrorIs(t, err, errNotObject)
}

func TestCleanKeyword(t *testing.T) {
	assert.Equal(t, "fluid dynamics", CleanKeyword("fluid  (CFD)  dynamics [x] {y}"))
	assert.Equal(t, "", CleanKeyword("(only)"))
}

func TestAppendMissing(t *testing.T) {
	list, added := appendMissing([]string{"a", "b"}, []string{"b", "c", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, list)
	assert.Equal(t, 1, added)
}
