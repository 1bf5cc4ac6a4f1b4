package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Document is an untyped stored record. Values are JSON shaped: string,
// float64, bool, nil, []any and map[string]any.
type Document = map[string]any

var (
	ErrNotFound     = errors.New("document not found")
	ErrInvalidQuery = errors.New("invalid query")
)

// MaxAnyValues caps array-contains-any and in lists.
const MaxAnyValues = 30

// Op is a predicate operator.
type Op string

const (
	OpEq               Op = "=="
	OpNe               Op = "!="
	OpLt               Op = "<"
	OpLte              Op = "<="
	OpGt               Op = ">"
	OpGte              Op = ">="
	OpArrayContains    Op = "array-contains"
	OpArrayContainsAny Op = "array-contains-any"
	OpIn               Op = "in"
)

// Direction orders query results.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Predicate is one condition on a top-level field.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Where builds a predicate.
func Where(field string, op Op, value any) Predicate {
	return Predicate{Field: field, Op: op, Value: value}
}

// Query is an AND of predicates with optional ordering and limit.
// Documents lacking the OrderBy field are excluded from ordered results.
type Query struct {
	Predicates []Predicate
	OrderBy    string
	Direction  Direction
	Limit      int
}

// Backend is a document database without retry or metrics.
type Backend interface {
	Set(ctx context.Context, collection, id string, doc Document) error
	Get(ctx context.Context, collection, id string) (Document, bool, error)
	Update(ctx context.Context, collection, id string, patch Document) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, q Query) ([]Snapshot, error)
}

// Snapshot is a document together with its key.
type Snapshot struct {
	ID   string
	Data Document
}

// Validate checks operators and value shapes before anything is sent.
func (q Query) Validate() error {
	for _, p := range q.Predicates {
		if p.Field == "" {
			return fmt.Errorf("%w: empty field", ErrInvalidQuery)
		}
		switch p.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpArrayContains:
			if isList(p.Value) {
				return fmt.Errorf("%w: %s on %q takes a single value", ErrInvalidQuery, p.Op, p.Field)
			}
		case OpArrayContainsAny, OpIn:
			n, ok := listLen(p.Value)
			if !ok {
				return fmt.Errorf("%w: %s on %q needs a list", ErrInvalidQuery, p.Op, p.Field)
			}
			if n == 0 || n > MaxAnyValues {
				return fmt.Errorf("%w: %s on %q needs 1-%d values", ErrInvalidQuery, p.Op, p.Field, MaxAnyValues)
			}
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, p.Op)
		}
	}
	switch q.Direction {
	case "", Asc, Desc:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidQuery, q.Direction)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

func validateKey(collection, id string) error {
	if collection == "" {
		return fmt.Errorf("%w: empty collection", ErrInvalidQuery)
	}
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidQuery)
	}
	return nil
}

func isList(v any) bool {
	_, ok := listLen(v)
	return ok
}

func listLen(v any) (int, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return 0, false
	}
	return rv.Len(), true
}
