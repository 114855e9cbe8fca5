package analytics

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// chunkSize is the number of items handed to a worker at a time.
const chunkSize = 1024

// fanOut streams items from produce to workers accumulators. Each worker
// owns one accumulator; the returned slice is indexed by worker so callers
// merge in a fixed order.
func fanOut[T, A any](ctx context.Context, workers int, produce func(context.Context, func(T) error) error, newAcc func() A, add func(A, T)) ([]A, error) {
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan []T, workers)

	g.Go(func() error {
		defer close(chunks)
		buf := make([]T, 0, chunkSize)
		flush := func() error {
			if len(buf) == 0 {
				return nil
			}
			select {
			case chunks <- buf:
			case <-gctx.Done():
				return gctx.Err()
			}
			buf = make([]T, 0, chunkSize)
			return nil
		}
		err := produce(gctx, func(v T) error {
			buf = append(buf, v)
			if len(buf) == chunkSize {
				return flush()
			}
			return nil
		})
		if err != nil {
			return err
		}
		return flush()
	})

	accs := make([]A, workers)
	for w := range workers {
		accs[w] = newAcc()
		g.Go(func() error {
			for chunk := range chunks {
				for _, v := range chunk {
					add(accs[w], v)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return accs, nil
}
