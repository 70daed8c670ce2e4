package policy

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fystack/declarative-authz/filter"
)

// Recheck re-evaluates a policy set per record after data has been
// fetched, resolving checks that were Unknown at strict time against the
// materialized record. Records evaluate independently and in parallel;
// the returned slice preserves the input order for deterministic
// pagination.
//
// Read requests return the authorized subset (silently dropping forbidden
// records unless strict reads are enabled). Write requests fail with
// ErrForbidden as soon as any record is not authorized.
func (e *Engine) Recheck(ctx context.Context, ps *PolicySet, req *Request, records []map[string]any) ([]map[string]any, error) {
	if len(records) == 0 {
		return nil, nil
	}

	allowed := make([]bool, len(records))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.recheckParallelism)

	for i := range records {
		i := i
		group.Go(func() error {
			verdict := e.Authorize(groupCtx, ps, req.withRecord(records[i]))
			allowed[i] = verdict.State == StateAuthorized
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := make([]map[string]any, 0, len(records))
	for i, record := range records {
		if allowed[i] {
			result = append(result, record)
			continue
		}
		if req.Operation == OperationWrite {
			return nil, fmt.Errorf("%w: record %d failed authorization recheck", ErrForbidden, i)
		}
		if e.strictReads {
			return nil, fmt.Errorf("%w: record %d failed authorization recheck", ErrForbidden, i)
		}
	}
	return result, nil
}

// FetchAuthorized runs a read query through the storage executor with
// authorization applied: when the verdict reduces to a filter it is pushed
// into the query before fetching, otherwise candidate records are fetched
// and rechecked per record. The executor owns query execution; this
// package only constructs filters.
func (e *Engine) FetchAuthorized(ctx context.Context, exec Executor, query any, ps *PolicySet, req *Request) ([]map[string]any, error) {
	if f, ok := e.FilterFor(ctx, ps, req); ok {
		if lit, isLit := f.(filter.Literal); isLit && !lit.Value {
			if e.strictReads {
				return nil, ErrForbidden
			}
			return nil, nil
		}
		constrained, err := exec.ApplyFilter(query, f)
		if err != nil {
			return nil, fmt.Errorf("apply authorization filter: %w", err)
		}
		return exec.Fetch(ctx, constrained)
	}

	candidates, err := exec.Fetch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch recheck candidates: %w", err)
	}
	return e.Recheck(ctx, ps, req, candidates)
}
