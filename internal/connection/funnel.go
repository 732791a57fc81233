package connection

import (
	"context"
	"errors"
	"log/slog"
)

// funnel is the single path every failure takes: it is published on the
// Error bus, then either returned to the caller or swallowed.
//
// Cancellation is never published and is always returned, so loops can
// tell a shutdown from a fault.
type funnel struct {
	errors *EventBus[ErrorEvent]
	logger *slog.Logger
}

func (f *funnel) run(ctx context.Context, reraise bool, work func() error) error {
	err := safely(work)
	if err == nil {
		return nil
	}
	if isCancellation(ctx, err) {
		return err
	}
	f.report(ctx, err)
	if reraise {
		return err
	}
	return nil
}

func funnelValue[T any](f *funnel, ctx context.Context, reraise bool, work func() (T, error)) (T, error) {
	var (
		v      T
		failed bool
	)
	err := f.run(ctx, reraise, func() error {
		var err error
		v, err = work()
		failed = err != nil
		return err
	})
	if failed {
		var zero T
		return zero, err
	}
	return v, err
}

// report publishes err. Failures of the Error handlers themselves are
// only logged.
func (f *funnel) report(ctx context.Context, err error) {
	if herr := f.errors.Invoke(ctx, ErrorEvent{Err: err}); herr != nil {
		f.logger.Warn("error handler failed", "error", herr, "cause", err)
	}
}

func safely(work func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	return work()
}

func isCancellation(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return ctx != nil && ctx.Err() != nil
}
