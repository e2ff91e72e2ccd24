package workflow

import "fmt"

// ItemViolation is the item key carrying the violating field name to a repair branch.
const ItemViolation = "violation"

// GuardSpec declares a bounded check/repair/re-check loop.
//
// The check step writes the list of violating fields ([]string) to Violations.
// When the list is non-empty the repair step runs once per violating field as a
// fan-out branch with the item {"violation": field}, the merged repairs are
// applied and the check runs again. After MaxAttempts repair rounds a
// ValidationWarning is recorded and the run continues.
type GuardSpec struct {
	Name        string
	Check       string
	Violations  string
	Repair      string
	MaxAttempts int
}

func (g *GuardSpec) attempts(opts Options) int {
	if p := opts.params(g.Name); p.MaxRepairAttempts > 0 {
		return p.MaxRepairAttempts
	}
	if g.MaxAttempts > 0 {
		return g.MaxAttempts
	}
	return 1
}

func (g *GuardSpec) validate(reg *Registry) error {
	if g.Name == "" {
		return fmt.Errorf("guard name is empty")
	}
	if g.Violations == "" {
		return fmt.Errorf("guard %s has no violations field", g.Name)
	}
	if g.MaxAttempts < 0 {
		return fmt.Errorf("guard %s: max attempts must be non-negative", g.Name)
	}
	check, ok := reg.Get(g.Check)
	if !ok {
		return fmt.Errorf("guard %s: check step %q is not registered", g.Name, g.Check)
	}
	if !toSet(check.Writes)[g.Violations] {
		return fmt.Errorf("guard %s: check step %s does not write %s", g.Name, g.Check, g.Violations)
	}
	repair, ok := reg.Get(g.Repair)
	if !ok {
		return fmt.Errorf("guard %s: repair step %q is not registered", g.Name, g.Repair)
	}
	if repair.Kind != InvokeFanOut {
		return fmt.Errorf("guard %s: repair step %s is not fan-out capable", g.Name, g.Repair)
	}
	return nil
}

// violationBranches builds one repair branch per violating field.
func (g *GuardSpec) violationBranches(violations []string) []BranchSpec {
	branches := make([]BranchSpec, 0, len(violations))
	seen := make(map[string]bool, len(violations))
	for _, v := range violations {
		if seen[v] {
			continue
		}
		seen[v] = true
		branches = append(branches, BranchSpec{
			Step: g.Repair,
			Key:  v,
			Item: map[string]any{ItemViolation: v},
		})
	}
	return branches
}

// Violations reads a violation list written by a check step. Both []string and
// []any of strings are accepted.
func Violations(g Getter, field string) []string {
	v, ok := g.Get(field)
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, it := range list {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
