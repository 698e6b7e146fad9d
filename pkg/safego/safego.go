package safego

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/mindcare/realtime-service/internal/domain"
)

// Go runs fn in a new goroutine and returns a channel closed when fn returns
// or panics. A panic is logged under name with its stack and does not
// propagate.
func Go(ctx context.Context, logger domain.Logger, name string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer recoverAndLog(ctx, logger, name)
		fn()
	}()
	return done
}

// Execute is Go for callers that never wait on the goroutine.
func Execute(ctx context.Context, logger domain.Logger, name string, fn func()) {
	Go(ctx, logger, name, fn)
}

func recoverAndLog(ctx context.Context, logger domain.Logger, name string) {
	r := recover()
	if r == nil {
		return
	}
	// The goroutine may outlive a cancelled ctx; log without its deadline.
	logCtx := context.WithoutCancel(ctx)
	logger.Error(logCtx, fmt.Sprintf("Panic recovered in goroutine: %s", name),
		"panic_info", fmt.Sprintf("%v", r),
		"stacktrace", string(debug.Stack()),
	)
}
