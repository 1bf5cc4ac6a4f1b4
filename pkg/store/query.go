package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm/clause"
)

// sqlQuery is a Query translated to jsonb conditions over the documents
// table. Placeholders use gorm's "?" syntax, so the jsonb "?" operator is
// avoided in favour of jsonb_exists.
type sqlQuery struct {
	conds []clause.Expr
	order clause.Expr
	limit int
}

// orderBy is the ORDER BY clause. gorm's Order only accepts strings and
// OrderBy clauses, so the terms travel as one expression.
func (q sqlQuery) orderBy() clause.OrderBy {
	return clause.OrderBy{Expression: q.order}
}

func compileQuery(collection string, q Query) (sqlQuery, error) {
	out := sqlQuery{limit: q.Limit}
	out.conds = append(out.conds, clause.Expr{SQL: "collection = ?", Vars: []any{collection}})
	for _, p := range q.Predicates {
		cond, err := compilePredicate(p)
		if err != nil {
			return sqlQuery{}, err
		}
		out.conds = append(out.conds, cond)
	}
	if q.OrderBy != "" {
		out.conds = append(out.conds, clause.Expr{SQL: "jsonb_exists(data, ?::text)", Vars: []any{q.OrderBy}})
		dir := "ASC"
		if q.Direction == Desc {
			dir = "DESC"
		}
		out.order = clause.Expr{SQL: "data -> ?::text " + dir + ", ", Vars: []any{q.OrderBy}}
	}
	out.order.SQL += "created_at ASC, id ASC"
	return out, nil
}

func compilePredicate(p Predicate) (clause.Expr, error) {
	switch p.Op {
	case OpEq:
		doc, err := jsonText(map[string]any{p.Field: p.Value})
		if err != nil {
			return clause.Expr{}, err
		}
		return clause.Expr{SQL: "data @> ?::jsonb", Vars: []any{doc}}, nil
	case OpNe:
		doc, err := jsonText(map[string]any{p.Field: p.Value})
		if err != nil {
			return clause.Expr{}, err
		}
		return clause.Expr{
			SQL:  "jsonb_exists(data, ?::text) AND NOT (data @> ?::jsonb)",
			Vars: []any{p.Field, doc},
		}, nil
	case OpLt, OpLte, OpGt, OpGte:
		val, err := jsonText(p.Value)
		if err != nil {
			return clause.Expr{}, err
		}
		// jsonb orders across types, so pin the type to the operand's
		return clause.Expr{
			SQL:  fmt.Sprintf("jsonb_typeof(data -> ?::text) = jsonb_typeof(?::jsonb) AND data -> ?::text %s ?::jsonb", p.Op),
			Vars: []any{p.Field, val, p.Field, val},
		}, nil
	case OpArrayContains:
		val, err := jsonText([]any{p.Value})
		if err != nil {
			return clause.Expr{}, err
		}
		return arrayContains(p.Field, val), nil
	case OpArrayContainsAny, OpIn:
		values, err := toAnySlice(p.Value)
		if err != nil {
			return clause.Expr{}, err
		}
		parts := make([]string, 0, len(values))
		vars := make([]any, 0, len(values)*2)
		for _, v := range values {
			var (
				text string
				err  error
			)
			if p.Op == OpIn {
				text, err = jsonText(map[string]any{p.Field: v})
				parts = append(parts, "data @> ?::jsonb")
				vars = append(vars, text)
			} else {
				text, err = jsonText([]any{v})
				expr := arrayContains(p.Field, text)
				parts = append(parts, expr.SQL)
				vars = append(vars, expr.Vars...)
			}
			if err != nil {
				return clause.Expr{}, err
			}
		}
		return clause.Expr{SQL: "(" + strings.Join(parts, " OR ") + ")", Vars: vars}, nil
	}
	return clause.Expr{}, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, p.Op)
}

func arrayContains(field, list string) clause.Expr {
	return clause.Expr{
		SQL:  "(jsonb_typeof(data -> ?::text) = 'array' AND data -> ?::text @> ?::jsonb)",
		Vars: []any{field, field, list},
	}
}

func jsonText(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: encode value: %v", ErrInvalidQuery, err)
	}
	return string(raw), nil
}

func toAnySlice(v any) ([]any, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	list, ok := n.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidQuery, v)
	}
	return list, nil
}
