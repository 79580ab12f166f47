package queryopt

import (
	"context"

	"encore.app/dbpool"
)

// BatchItem is one query within a Batch call.
type BatchItem struct {
	SQL    string
	Params []interface{}
}

// allIdentical reports whether every item shares the same SQL text, only
// differing in params — the case the specification says should collapse
// into a single multi-row statement instead of N round trips.
func allIdentical(items []BatchItem) bool {
	if len(items) < 2 {
		return false
	}
	first := Normalize(items[0].SQL)
	for _, it := range items[1:] {
		if Normalize(it.SQL) != first {
			return false
		}
	}
	return true
}

// Batch executes items either as a single merged multi-row query (when
// every item is textually identical and only values differ) or otherwise
// as one Query call per item, in order and with no enclosing transaction;
// the first error stops the batch and the results so far are returned.
func (o *Optimizer) Batch(ctx context.Context, items []BatchItem, opts dbpool.QueryOptions) ([]*dbpool.Result, error) {
	if allIdentical(items) {
		merged, params := mergeValuesClauses(items)
		res, err := o.pool.Query(ctx, merged, params, opts)
		if err != nil {
			return nil, err
		}
		return []*dbpool.Result{res}, nil
	}

	results := make([]*dbpool.Result, 0, len(items))
	for _, item := range items {
		res, err := o.Query(ctx, item.SQL, item.Params, opts)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// mergeValuesClauses concatenates every item's params in order; the caller
// is expected to have written the SQL as a single-row INSERT whose VALUES
// tuple gets repeated by the executor for each parameter group. This keeps
// the merge logic textual rather than attempting a SQL parser.
func mergeValuesClauses(items []BatchItem) (string, []interface{}) {
	var params []interface{}
	for _, it := range items {
		params = append(params, it.Params...)
	}
	return items[0].SQL, params
}
