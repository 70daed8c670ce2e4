// Package memstore is an in-memory storage executor: it applies filter
// expressions to a record slice by direct evaluation. It backs tests and
// examples, and doubles as the reference semantics that SQL-speaking
// executors must match.
package memstore

import (
	"context"
	"fmt"

	"github.com/fystack/declarative-authz/filter"
)

// Store holds an ordered record collection.
type Store struct {
	records []map[string]any
}

// New builds a store over the given records. The slice is used as-is;
// callers must not mutate it afterwards.
func New(records ...map[string]any) *Store {
	return &Store{records: records}
}

// Query is the store's native query: an optional conjunction of filters.
type Query struct {
	filters []filter.Expr
}

// NewQuery returns a query matching every record.
func (s *Store) NewQuery() *Query { return &Query{} }

// ApplyFilter constrains a query with an additional filter expression.
func (s *Store) ApplyFilter(query any, f filter.Expr) (any, error) {
	q, ok := query.(*Query)
	if !ok {
		return nil, fmt.Errorf("memstore: unexpected query type %T", query)
	}
	constrained := &Query{filters: append(append([]filter.Expr(nil), q.filters...), f)}
	return constrained, nil
}

// Fetch returns the records matching every filter on the query, in
// insertion order.
func (s *Store) Fetch(ctx context.Context, query any) ([]map[string]any, error) {
	q, ok := query.(*Query)
	if !ok {
		return nil, fmt.Errorf("memstore: unexpected query type %T", query)
	}

	var result []map[string]any
	for _, record := range s.records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matched := true
		for _, f := range q.filters {
			ok, err := filter.Evaluate(f, record)
			if err != nil {
				return nil, fmt.Errorf("memstore: evaluate filter: %w", err)
			}
			if !ok {
				matched = false
				break
			}
		}
		if matched {
			result = append(result, record)
		}
	}
	return result, nil
}
