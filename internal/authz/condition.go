package authz

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Condition is a parsed policy predicate. Conditions are parsed once when the
// policy is loaded and evaluated many times; evaluation is pure and never
// touches storage.
type Condition interface {
	eval(env evalEnv) bool
}

type evalEnv struct {
	ctx map[string]any
	now time.Time
}

// Leaf comparison operators accepted as key suffixes ("field.gt", "field.in", ...).
const (
	opEq       = "eq"
	opNe       = "ne"
	opGt       = "gt"
	opGte      = "gte"
	opLt       = "lt"
	opLte      = "lte"
	opIn       = "in"
	opContains = "contains"
)

const (
	keyAnd       = "$and"
	keyOr        = "$or"
	keyTimeRange = "$timeRange"
)

type equalsCond struct {
	field    string
	expected any
	negate   bool
}

type compareCond struct {
	field    string
	op       string
	expected float64
}

type membershipCond struct {
	field    string
	op       string
	expected any
}

type andCond struct{ children []Condition }

type orCond struct{ children []Condition }

type timeRangeCond struct {
	startMin int // minutes since midnight, inclusive
	endMin   int // exclusive
	location *time.Location
}

// ParseCondition converts the stored condition document into its evaluable
// form. A nil or empty document parses to a condition that is always true.
func ParseCondition(doc map[string]any) (Condition, error) {
	if len(doc) == 0 {
		return andCond{}, nil
	}
	children := make([]Condition, 0, len(doc))
	for key, raw := range doc {
		cond, err := parseEntry(key, raw)
		if err != nil {
			return nil, err
		}
		children = append(children, cond)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return andCond{children: children}, nil
}

func parseEntry(key string, raw any) (Condition, error) {
	switch key {
	case keyAnd:
		children, err := parseChildList(key, raw)
		if err != nil {
			return nil, err
		}
		return andCond{children: children}, nil
	case keyOr:
		children, err := parseChildList(key, raw)
		if err != nil {
			return nil, err
		}
		return orCond{children: children}, nil
	case keyTimeRange:
		return parseTimeRange(raw)
	}
	return parseLeaf(key, raw)
}

func parseChildList(key string, raw any) ([]Condition, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an array of conditions", ErrInvalidCondition, key)
	}
	children := make([]Condition, 0, len(list))
	for i, item := range list {
		doc, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s[%d] is not a condition object", ErrInvalidCondition, key, i)
		}
		cond, err := ParseCondition(doc)
		if err != nil {
			return nil, err
		}
		children = append(children, cond)
	}
	return children, nil
}

func parseLeaf(key string, expected any) (Condition, error) {
	field := key
	op := opEq
	if idx := strings.LastIndex(key, "."); idx > 0 {
		if suffix := key[idx+1:]; isOperator(suffix) {
			field = key[:idx]
			op = suffix
		}
	}
	if strings.TrimSpace(field) == "" {
		return nil, fmt.Errorf("%w: empty field name in %q", ErrInvalidCondition, key)
	}
	switch op {
	case opEq:
		return equalsCond{field: field, expected: expected}, nil
	case opNe:
		return equalsCond{field: field, expected: expected, negate: true}, nil
	case opGt, opGte, opLt, opLte:
		num, ok := toFloat(expected)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s requires a numeric operand", ErrInvalidCondition, field, op)
		}
		return compareCond{field: field, op: op, expected: num}, nil
	case opIn, opContains:
		return membershipCond{field: field, op: op, expected: expected}, nil
	}
	return nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidCondition, op)
}

func isOperator(s string) bool {
	switch s {
	case opNe, opGt, opGte, opLt, opLte, opIn, opContains:
		return true
	}
	return false
}

func parseTimeRange(raw any) (Condition, error) {
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s expects an object", ErrInvalidCondition, keyTimeRange)
	}
	start, ok := doc["start"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s.start is required", ErrInvalidCondition, keyTimeRange)
	}
	end, ok := doc["end"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s.end is required", ErrInvalidCondition, keyTimeRange)
	}
	startMin, err := parseClockTime(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.start: %v", ErrInvalidCondition, keyTimeRange, err)
	}
	endMin, err := parseClockTime(end)
	if err != nil {
		return nil, fmt.Errorf("%w: %s.end: %v", ErrInvalidCondition, keyTimeRange, err)
	}
	loc := time.UTC
	if tz, ok := doc["timezone"].(string); ok && strings.TrimSpace(tz) != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.timezone %q: %v", ErrInvalidCondition, keyTimeRange, tz, err)
		}
	}
	return timeRangeCond{startMin: startMin, endMin: endMin, location: loc}, nil
}

func parseClockTime(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Evaluate runs the condition against a request context. A missing context
// key makes any field predicate false; malformed coercions also evaluate
// false rather than erroring. now feeds $timeRange predicates.
func Evaluate(cond Condition, reqCtx map[string]any, now time.Time) bool {
	if cond == nil {
		return true
	}
	return cond.eval(evalEnv{ctx: reqCtx, now: now})
}

func (c equalsCond) eval(env evalEnv) bool {
	actual, ok := env.ctx[c.field]
	if !ok {
		// A field absent from the context never satisfies a leaf,
		// including negated ones.
		return false
	}
	eq := looseEquals(actual, c.expected)
	if c.negate {
		return !eq
	}
	return eq
}

func (c compareCond) eval(env evalEnv) bool {
	raw, ok := env.ctx[c.field]
	if !ok {
		return false
	}
	actual, ok := toFloat(raw)
	if !ok {
		return false
	}
	switch c.op {
	case opGt:
		return actual > c.expected
	case opGte:
		return actual >= c.expected
	case opLt:
		return actual < c.expected
	case opLte:
		return actual <= c.expected
	}
	return false
}

func (c membershipCond) eval(env evalEnv) bool {
	actual, ok := env.ctx[c.field]
	if !ok {
		return false
	}
	switch c.op {
	case opIn:
		// context value must appear in the expected array, or be a
		// substring of the expected string.
		switch expected := c.expected.(type) {
		case []any:
			for _, item := range expected {
				if looseEquals(actual, item) {
					return true
				}
			}
			return false
		case string:
			s, ok := actual.(string)
			return ok && strings.Contains(expected, s)
		}
		return false
	case opContains:
		// context value (array or string) must contain the expected scalar.
		switch value := actual.(type) {
		case []any:
			for _, item := range value {
				if looseEquals(item, c.expected) {
					return true
				}
			}
			return false
		case string:
			s, ok := c.expected.(string)
			return ok && strings.Contains(value, s)
		}
		return false
	}
	return false
}

func (c andCond) eval(env evalEnv) bool {
	for _, child := range c.children {
		if !child.eval(env) {
			return false
		}
	}
	return true
}

func (c orCond) eval(env evalEnv) bool {
	for _, child := range c.children {
		if child.eval(env) {
			return true
		}
	}
	return false
}

func (c timeRangeCond) eval(env evalEnv) bool {
	local := env.now.In(c.location)
	minute := local.Hour()*60 + local.Minute()
	if c.startMin <= c.endMin {
		return minute >= c.startMin && minute < c.endMin
	}
	// Range crosses midnight, e.g. 22:00-06:00.
	return minute >= c.startMin || minute < c.endMin
}

func looseEquals(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
