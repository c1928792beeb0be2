// Package pool runs work items on a bounded set of goroutines.
//
// Two disciplines are provided. Map is all-or-nothing: the first failure cancels
// the remaining work and no results are returned. Each treats every item as an
// independent unit: failures are collected and returned together once every item
// has been attempted.
package pool

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Unlimited disables the concurrency bound.
const Unlimited = -1

// Limit normalises a configured concurrency value. Zero and negative values mean
// no limit.
func Limit(n int) int {
	if n <= 0 {
		return Unlimited
	}
	return n
}

// Map calls fn for every item with at most limit calls in flight and returns the
// results in input order, regardless of completion order.
//
// If any call fails, the context passed to the other calls is cancelled, Map waits
// for the calls already started and returns the first error with a nil slice.
func Map[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, T) (R, error)) ([]R, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Limit(limit))

	results := make([]R, len(items))
	for i, item := range items {
		g.Go(func() error {
			// Items queued behind the limit are skipped once a sibling failed
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Each calls fn for every item with at most limit calls in flight. A failing item
// does not stop the others. All errors are returned joined, in input order.
func Each[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) error {
	var g errgroup.Group
	g.SetLimit(Limit(limit))

	errs := make([]error, len(items))
	for i, item := range items {
		g.Go(func() error {
			errs[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
