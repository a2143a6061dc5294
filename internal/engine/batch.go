package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchResult pairs a mutation's Result with its error.
type BatchResult struct {
	Result
	Err error `json:"-"`
}

// ApplyBatch applies mutations using a pool of Config.Workers goroutines.
// Mutations to the same id are applied in slice order by a single worker;
// different ids run concurrently. results[i] corresponds to mutations[i].
// A failed mutation does not stop the batch; the returned error is non-nil
// only if ctx ended, in which case unstarted mutations carry ctx's error.
func (e *Engine) ApplyBatch(ctx context.Context, mutations []Mutation) ([]BatchResult, error) {
	results := make([]BatchResult, len(mutations))

	var order []string
	groups := make(map[string][]int)
	for i, m := range mutations {
		if _, ok := groups[m.ID]; !ok {
			order = append(order, m.ID)
		}
		groups[m.ID] = append(groups[m.ID], i)
	}

	var g errgroup.Group
	g.SetLimit(e.config.Workers)
	for _, id := range order {
		idx := groups[id]
		g.Go(func() error {
			for _, i := range idx {
				if err := ctx.Err(); err != nil {
					results[i] = BatchResult{Result: Result{ID: id}, Err: err}
					continue
				}
				res, err := e.Apply(ctx, mutations[i])
				results[i] = BatchResult{Result: res, Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}
