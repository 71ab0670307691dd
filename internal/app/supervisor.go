package app

import (
	"context"
	"errors"
	"reflect"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Task is one long-running unit supervised by Supervise.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Supervise runs every task until ctx is done or one task fails. The first
// failure cancels the context shared by the others and is returned once all
// of them have stopped.
func Supervise(ctx context.Context, logger zerolog.Logger, tasks ...Task) error {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		task := task
		if task.Run == nil {
			continue
		}
		g.Go(func() error {
			err := task.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("task", task.Name).Msg("task failed")
				return err
			}
			logger.Debug().Str("task", task.Name).Msg("task stopped")
			return nil
		})
	}
	return g.Wait()
}

// WatchFailures turns a fatal-signal channel into a task. The task returns
// the first error received, or nil when ctx is done or the channel closes
// without one.
func WatchFailures(failures <-chan error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-failures:
			if !ok {
				return nil
			}
			return err
		}
	}
}
