package workflow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type guardFixture struct {
	limit   int
	fixes   bool
	fail    bool
	checks  atomic.Int32
	repairs atomic.Int32
}

func (f *guardFixture) graph(t require.TestingT, maxAttempts int) *Graph {
	g, err := NewBuilder("guarded").
		AddStep(Func("produce", func(context.Context, View) (Delta, error) {
			return Delta{"summary": "a summary that is far too long", "notes": "short"}, nil
		}).WithWrites("summary", "notes")).
		AddStep(Func("check_length", func(_ context.Context, v View) (Delta, error) {
			f.checks.Add(1)
			violations := []string{}
			for _, field := range []string{"summary", "notes"} {
				if len(LookupOr(v, field, "")) > f.limit {
					violations = append(violations, field)
				}
			}
			return Delta{"violations": violations}, nil
		}).WithReads("summary", "notes").WithWrites("violations")).
		AddStep(Func("truncate", func(_ context.Context, v View) (Delta, error) {
			f.repairs.Add(1)
			if f.fail {
				return nil, errors.New("repair model unavailable")
			}
			field := v.ItemString(ItemViolation)
			text := LookupOr(v, field, "")
			if f.fixes && len(text) > f.limit {
				text = text[:f.limit]
			}
			return Delta{field: text}, nil
		}).WithReads("summary", "notes").WithWrites("summary", "notes").WithRepairs("summary", "notes").AsFanOut()).
		AddGuard(GuardSpec{
			Name:        "length_guard",
			Check:       "check_length",
			Violations:  "violations",
			Repair:      "truncate",
			MaxAttempts: maxAttempts,
		}).
		AddEdge("produce", "length_guard").
		AddEdge("length_guard", End).
		SetEntry("produce").
		Build()
	require.NoError(t, err)
	return g
}

func TestGuard_RepairFixesOnFirstAttempt(t *testing.T) {
	f := &guardFixture{limit: 10, fixes: true}
	g := f.graph(t, 3)

	res, err := NewExecutor(g, DefaultOptions(), nil).Execute(context.Background(), nil, "")
	require.NoError(t, err)

	assert.Equal(t, "a summary ", LookupOr(res.State, "summary", ""))
	assert.Equal(t, "short", LookupOr(res.State, "notes", ""))
	assert.Equal(t, int32(1), f.repairs.Load(), "one violating field, one repair")
	assert.Equal(t, int32(2), f.checks.Load())
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "produce", res.State.Writer("summary"), "repairs keep ownership")
}

func TestGuard_NoViolation(t *testing.T) {
	f := &guardFixture{limit: 100}
	res, err := NewExecutor(f.graph(t, 1), DefaultOptions(), nil).Execute(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, int32(0), f.repairs.Load())
	assert.Equal(t, int32(1), f.checks.Load())
	assert.Empty(t, res.Warnings)
}

func TestGuard_RepairFailureBecomesWarning(t *testing.T) {
	f := &guardFixture{limit: 10, fail: true}
	res, err := NewExecutor(f.graph(t, 1), DefaultOptions(), nil).Execute(context.Background(), nil, "")
	require.NoError(t, err)

	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "truncate", res.Warnings[0].Step)
	assert.Contains(t, res.Warnings[0].Message, "repair failed")
	assert.Equal(t, "length_guard", res.Warnings[1].Step)
	assert.Equal(t, ErrValidationWarning, res.Warnings[1].Code)
}

func TestGuard_AttemptsOverriddenByStepParams(t *testing.T) {
	f := &guardFixture{limit: 10}
	opts := DefaultOptions()
	opts.Steps = map[string]StepParams{"length_guard": {MaxRepairAttempts: 4}}

	res, err := NewExecutor(f.graph(t, 1), opts, nil).Execute(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.repairs.Load())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, 4, res.Warnings[0].Attempts)
}

// A repair that never fixes anything runs exactly maxAttempts times, the run
// completes and a ValidationWarning is recorded.
func TestProperty_GuardBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxAttempts := rapid.IntRange(1, 6).Draw(rt, "maxAttempts")
		f := &guardFixture{limit: 10}
		g := f.graph(rt, maxAttempts)

		res, err := NewExecutor(g, DefaultOptions(), nil).Execute(context.Background(), nil, "")
		require.NoError(rt, err)

		assert.Equal(rt, int32(maxAttempts), f.repairs.Load())
		assert.Equal(rt, int32(maxAttempts+1), f.checks.Load())
		require.Len(rt, res.Warnings, 1)
		w := res.Warnings[0]
		assert.Equal(rt, ErrValidationWarning, w.Code)
		assert.Equal(rt, []string{"summary"}, w.Fields)
		assert.Equal(rt, maxAttempts, w.Attempts)
		assert.Equal(rt, ExecutionStatusCompleted, res.Status)
	})
}

func TestViolations(t *testing.T) {
	s := NewState(map[string]any{
		"strings": []string{"a"},
		"anys":    []any{"b", 3},
		"other":   42,
	})
	assert.Equal(t, []string{"a"}, Violations(s, "strings"))
	assert.Equal(t, []string{"b"}, Violations(s, "anys"))
	assert.Nil(t, Violations(s, "other"))
	assert.Nil(t, Violations(s, "missing"))
}
