package authz

import (
	"sort"
	"time"
)

// aggregate resolves a candidate policy set into a single outcome. Policies
// are ordered by priority descending with ascending ID as the tie-break, and
// the first policy whose condition holds decides; evaluation stops there.
// Priority is authoritative over effect: a low-priority deny never overrides
// a higher-priority allow.
//
// The boolean reports whether any policy matched at all. When it is false the
// caller must fall back to the permission closure; no-match is indeterminate,
// not a denial.
func aggregate(policies []Policy, reqCtx map[string]any, now time.Time) (Decision, bool) {
	ordered := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p.Active {
			ordered = append(ordered, p)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority > ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, p := range ordered {
		if !Evaluate(p.Condition, reqCtx, now) {
			continue
		}
		return Decision{
			Allowed: p.Effect == EffectAllow,
			Reason:  p.Name,
			Source:  SourcePolicy,
		}, true
	}
	return Decision{}, false
}
