package authz

import (
	"math/rand"
	"testing"
	"time"
)

func policy(t *testing.T, id, name string, effect Effect, priority int, doc map[string]any) Policy {
	t.Helper()
	cond, err := ParseCondition(doc)
	if err != nil {
		t.Fatalf("parse condition for %s: %v", id, err)
	}
	return Policy{
		ID:        id,
		Name:      name,
		Resource:  "documents",
		Action:    "edit",
		Effect:    effect,
		Priority:  priority,
		Active:    true,
		Condition: cond,
	}
}

func TestAggregateNoMatchIsIndeterminate(t *testing.T) {
	policies := []Policy{
		policy(t, "p1", "finance only", EffectAllow, 10, map[string]any{"dept": "finance"}),
	}
	_, matched := aggregate(policies, map[string]any{"dept": "ops"}, time.Now())
	if matched {
		t.Fatal("non-matching policies must leave the decision indeterminate, not denied")
	}
}

func TestAggregateFirstMatchWins(t *testing.T) {
	policies := []Policy{
		policy(t, "p-low", "low allow", EffectAllow, 1, nil),
		policy(t, "p-high", "high deny", EffectDeny, 10, nil),
	}
	decision, matched := aggregate(policies, map[string]any{"k": "v"}, time.Now())
	if !matched {
		t.Fatal("expected a match")
	}
	if decision.Allowed {
		t.Fatal("higher priority deny must decide")
	}
	if decision.Reason != "high deny" {
		t.Fatalf("expected winning policy name as reason, got %q", decision.Reason)
	}
}

func TestAggregatePriorityBeatsEffect(t *testing.T) {
	// A high-priority allow shadows a lower-priority deny. There is no
	// deny-overrides rule; ordering alone decides.
	policies := []Policy{
		policy(t, "p-deny", "deny at 50", EffectDeny, 50, nil),
		policy(t, "p-allow", "allow at 100", EffectAllow, 100, nil),
	}
	decision, matched := aggregate(policies, map[string]any{"k": "v"}, time.Now())
	if !matched || !decision.Allowed {
		t.Fatalf("expected the priority-100 allow to win, got %+v", decision)
	}
}

func TestAggregateTieBreaksOnID(t *testing.T) {
	policies := []Policy{
		policy(t, "p2", "second", EffectDeny, 5, nil),
		policy(t, "p1", "first", EffectAllow, 5, nil),
	}
	decision, matched := aggregate(policies, map[string]any{"k": "v"}, time.Now())
	if !matched {
		t.Fatal("expected a match")
	}
	if !decision.Allowed || decision.Reason != "first" {
		t.Fatalf("expected lexicographically smaller id to win the tie, got %+v", decision)
	}
}

func TestAggregateIgnoresInactivePolicies(t *testing.T) {
	inactive := policy(t, "p1", "inactive deny", EffectDeny, 100, nil)
	inactive.Active = false
	policies := []Policy{
		inactive,
		policy(t, "p2", "active allow", EffectAllow, 1, nil),
	}
	decision, matched := aggregate(policies, map[string]any{"k": "v"}, time.Now())
	if !matched || !decision.Allowed {
		t.Fatalf("inactive policy must not participate, got %+v", decision)
	}
}

func TestAggregateOrderInvariant(t *testing.T) {
	base := []Policy{
		policy(t, "a", "allow finance", EffectAllow, 30, map[string]any{"dept": "finance"}),
		policy(t, "b", "deny low level", EffectDeny, 20, map[string]any{"level.lt": 3}),
		policy(t, "c", "allow all", EffectAllow, 10, nil),
		policy(t, "d", "deny ops", EffectDeny, 30, map[string]any{"dept": "ops"}),
	}
	reqCtx := map[string]any{"dept": "ops", "level": 1}
	want, matched := aggregate(base, reqCtx, time.Now())
	if !matched {
		t.Fatal("expected a match")
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]Policy(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got, matched := aggregate(shuffled, reqCtx, time.Now())
		if !matched || got != want {
			t.Fatalf("iteration %d: input order changed the outcome: %+v vs %+v", i, got, want)
		}
	}
}
