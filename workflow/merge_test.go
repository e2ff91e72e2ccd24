package workflow

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func succeeded(key string, d Delta) BranchResult {
	return BranchResult{Key: key, Step: "analyze", Delta: d}
}

func TestMerge_ListsAppendInBranchOrder(t *testing.T) {
	m := NewMerger(NewSchema())
	res, err := m.Merge([]BranchResult{
		succeeded("a", Delta{"analyses": []string{"A"}}),
		succeeded("b", Delta{"analyses": []string{"B1", "B2"}}),
		{Key: "c", Step: "analyze", Err: errors.New("failed")},
		succeeded("d", Delta{"analyses": []string{"D"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B1", "B2", "D"}, res.Delta["analyses"])
	assert.Equal(t, []string{"a", "b", "d"}, res.Contributors["analyses"])
	assert.Equal(t, "analyze", res.Writers["analyses"])
}

func TestMerge_MixedListTypes(t *testing.T) {
	m := NewMerger(NewSchema())
	res, err := m.Merge([]BranchResult{
		succeeded("a", Delta{"items": []string{"x"}}),
		succeeded("b", Delta{"items": []any{1}}),
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", 1}, res.Delta["items"])
}

func TestMerge_MapsUnion(t *testing.T) {
	m := NewMerger(NewSchema())
	res, err := m.Merge([]BranchResult{
		succeeded("intro", Delta{"section_analyses": map[string]string{"intro": "short"}}),
		succeeded("method", Delta{"section_analyses": map[string]string{"method": "detailed"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"intro": "short", "method": "detailed"}, res.Delta["section_analyses"])

	_, err = m.Merge([]BranchResult{
		succeeded("a", Delta{"section_analyses": map[string]string{"intro": "x"}}),
		succeeded("b", Delta{"section_analyses": map[string]string{"intro": "y"}}),
	})
	assert.Equal(t, ErrFieldConflict, GetErrorCode(err))
}

func TestMerge_UnionSkipsNilContributions(t *testing.T) {
	m := NewMerger(NewSchema())
	var res MergeResult
	var err error
	require.NotPanics(t, func() {
		res, err = m.Merge([]BranchResult{
			succeeded("a", Delta{"analyses": map[string]string{"a": "x"}}),
			succeeded("b", Delta{"analyses": nil}),
		})
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "x"}, res.Delta["analyses"])

	declared := NewMerger(NewSchema(FieldSpec{Name: "analyses", Kind: FieldMap, Merge: MergeUnion}))
	res, err = declared.Merge([]BranchResult{
		succeeded("a", Delta{"analyses": nil}),
		succeeded("b", Delta{"analyses": map[string]string{"b": "y"}}),
		succeeded("c", Delta{"analyses": nil}),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"b": "y"}, res.Delta["analyses"])

	res, err = declared.Merge([]BranchResult{
		succeeded("a", Delta{"analyses": nil}),
		succeeded("b", Delta{"analyses": nil}),
	})
	require.NoError(t, err)
	assert.Nil(t, res.Delta["analyses"])
}

func TestMerge_Scalars(t *testing.T) {
	t.Run("single writer passes through", func(t *testing.T) {
		res, err := NewMerger(NewSchema()).Merge([]BranchResult{
			{Key: "title", Step: "extract_title", Delta: Delta{"title": "T"}},
			{Key: "abstract", Step: "extract_abstract", Delta: Delta{"abstract": "A"}},
		})
		require.NoError(t, err)
		assert.Equal(t, Delta{"title": "T", "abstract": "A"}, res.Delta)
		assert.Equal(t, "extract_abstract", res.Writers["abstract"])
	})

	t.Run("identical values collapse", func(t *testing.T) {
		res, err := NewMerger(NewSchema()).Merge([]BranchResult{
			succeeded("a", Delta{"lang": "en"}),
			succeeded("b", Delta{"lang": "en"}),
		})
		require.NoError(t, err)
		assert.Equal(t, "en", res.Delta["lang"])
	})

	t.Run("different values conflict", func(t *testing.T) {
		_, err := NewMerger(NewSchema()).Merge([]BranchResult{
			succeeded("a", Delta{"verdict": "accept"}),
			succeeded("b", Delta{"verdict": "reject"}),
		})
		require.Error(t, err)
		var wfErr *Error
		require.True(t, errors.As(err, &wfErr))
		assert.Equal(t, "verdict", wfErr.Field)
	})

	t.Run("primary branch wins", func(t *testing.T) {
		schema := NewSchema(FieldSpec{Name: "verdict", Merge: MergePrimary, Primary: "b"})
		res, err := NewMerger(schema).Merge([]BranchResult{
			succeeded("a", Delta{"verdict": "accept"}),
			succeeded("b", Delta{"verdict": "reject"}),
		})
		require.NoError(t, err)
		assert.Equal(t, "reject", res.Delta["verdict"])
	})

	t.Run("strict policy rejects lists", func(t *testing.T) {
		schema := NewSchema(FieldSpec{Name: "tags", Merge: MergeStrict})
		_, err := NewMerger(schema).Merge([]BranchResult{
			succeeded("a", Delta{"tags": []string{"x"}}),
			succeeded("b", Delta{"tags": []string{"y"}}),
		})
		assert.Equal(t, ErrFieldConflict, GetErrorCode(err))
	})
}

func TestMerge_AppliesToState(t *testing.T) {
	schema := NewSchema(FieldSpec{Name: "analyses", Kind: FieldList, Reduce: ReduceWith(AppendReducer[string]())})
	s := NewState(nil).bind(schema)

	res, err := NewMerger(schema).Merge([]BranchResult{
		succeeded("a", Delta{"analyses": []string{"A"}}),
		succeeded("b", Delta{"analyses": []string{"B"}}),
	})
	require.NoError(t, err)

	next, err := s.applyMerge(res)
	require.NoError(t, err)
	got, _ := Lookup[[]string](next, "analyses")
	assert.Equal(t, []string{"A", "B"}, got)
	assert.Equal(t, uint64(1), next.Version())
}

// Branches writing disjoint fields merge to the same delta whatever order
// they finish in.
func TestProperty_MergeCommutative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("merge of disjoint branches is order independent", prop.ForAll(
		func(values []string, seed int64) bool {
			results := make([]BranchResult, len(values))
			for i, v := range values {
				key := fmt.Sprintf("b%d", i)
				results[i] = BranchResult{
					Key:   key,
					Step:  "step_" + key,
					Delta: Delta{"field_" + key: v, "shared": map[string]string{key: v}},
				}
			}
			shuffled := append([]BranchResult(nil), results...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			m := NewMerger(NewSchema())
			a, errA := m.Merge(results)
			b, errB := m.Merge(shuffled)
			if errA != nil || errB != nil {
				return false
			}
			return assert.ObjectsAreEqual(a.Delta, b.Delta)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
