package syncer

import (
	"context"
	"errors"
	"log/slog"
)

// ResultFunc receives the outcome of every push made by Watch.
type ResultFunc func(res *Result, err error)

// Watch pushes once, then again after every batch on changes, until ctx is
// done or changes is closed. A failed push is reported and retried on the next
// batch; the stored fingerprint is only advanced by successful pushes.
func (s *Syncer) Watch(ctx context.Context, changes <-chan []string, onResult ResultFunc) error {
	push := func() {
		res, err := s.Push(ctx)
		if onResult != nil {
			onResult(res, err)
		}
	}

	push()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case batch, ok := <-changes:
			if !ok {
				return nil
			}
			slog.Debug("watch changes", "paths", len(batch))
			push()
		}
	}
}
