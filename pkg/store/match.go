package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// normalize gives v the shape it would have after a trip through the
// database, so in-memory comparisons agree with the Postgres backend.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}

func normalizeDocument(doc Document) (Document, error) {
	v, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	out, ok := v.(map[string]any)
	if !ok {
		return Document{}, nil
	}
	return out, nil
}

func normalizeQuery(q Query) (Query, error) {
	out := q
	out.Predicates = make([]Predicate, len(q.Predicates))
	for i, p := range q.Predicates {
		v, err := normalize(p.Value)
		if err != nil {
			return Query{}, err
		}
		p.Value = v
		out.Predicates[i] = p
	}
	return out, nil
}

// matches reports whether doc satisfies every predicate. Values must already
// be normalized.
func matches(doc Document, preds []Predicate) bool {
	for _, p := range preds {
		if !matchOne(doc, p) {
			return false
		}
	}
	return true
}

func matchOne(doc Document, p Predicate) bool {
	field, present := doc[p.Field]
	switch p.Op {
	case OpEq:
		return present && equalValues(field, p.Value)
	case OpNe:
		return present && !equalValues(field, p.Value)
	case OpLt, OpLte, OpGt, OpGte:
		if !present {
			return false
		}
		c, ok := compareValues(field, p.Value)
		if !ok {
			return false
		}
		switch p.Op {
		case OpLt:
			return c < 0
		case OpLte:
			return c <= 0
		case OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case OpArrayContains:
		list, ok := field.([]any)
		return ok && containsValue(list, p.Value)
	case OpArrayContainsAny:
		list, ok := field.([]any)
		if !ok {
			return false
		}
		wanted, _ := p.Value.([]any)
		for _, w := range wanted {
			if containsValue(list, w) {
				return true
			}
		}
		return false
	case OpIn:
		if !present {
			return false
		}
		wanted, _ := p.Value.([]any)
		return containsValue(wanted, field)
	}
	return false
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if equalValues(item, v) {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	if c, ok := compareValues(a, b); ok {
		return c == 0
	}
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ra) == string(rb)
}

// compareValues orders scalars of the same JSON type. Mixed types are not
// comparable.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	case nil:
		if b == nil {
			return 0, true
		}
	}
	return 0, false
}

// sortSnapshots orders by field, keeping the incoming order for ties and
// for values that cannot be compared.
func sortSnapshots(items []Snapshot, field string, dir Direction) {
	sort.SliceStable(items, func(i, j int) bool {
		c, ok := compareValues(items[i].Data[field], items[j].Data[field])
		if !ok {
			return false
		}
		if dir == Desc {
			return c > 0
		}
		return c < 0
	})
}
