package storage

import "context"

// Observer is invoked around every store operation. Start returns the
// context the operation should run with and a function that must be called
// exactly once with the operation's result.
type Observer interface {
	Start(ctx context.Context, op string) (context.Context, func(err error))
}

// NopObserver ignores every operation.
type NopObserver struct{}

// Start implements Observer.
func (NopObserver) Start(ctx context.Context, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}
