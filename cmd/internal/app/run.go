package app

import (
	"context"
	"time"
)

// Run builds and starts an App, hands it to fn and closes it when fn returns.
// It returns an error instead of calling os.Exit so deferred cleanup runs.
func Run(ctx context.Context, cfg Config, log Logger, fn func(context.Context, *App) error) (err error) {
	a, err := New(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	a.Start()
	return fn(ctx, a)
}

// WaitReady blocks until the store has loaded its first conversation list or
// d elapses. It reports whether the list arrived.
func WaitReady(ctx context.Context, a *App, d time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	changes := a.store.Subscribe(ctx)
	if len(a.store.Conversations()) > 0 {
		return true
	}
	for {
		select {
		case <-ctx.Done():
			return len(a.store.Conversations()) > 0
		case _, ok := <-changes:
			if !ok {
				return len(a.store.Conversations()) > 0
			}
			if len(a.store.Conversations()) > 0 {
				return true
			}
		}
	}
}
