package application

import (
	"context"
	"sync"

	"github.com/coder/websocket"
	"github.com/mindcare/realtime-service/internal/domain"
	"github.com/mindcare/realtime-service/pkg/safego"
)

// closeDetached closes conn on its own goroutine and returns a channel that
// is closed once Close returns. Close waits for the peer to answer the close
// frame, so the caller must not be the goroutine serving another client.
func closeDetached(ctx context.Context, logger domain.Logger, conn domain.ManagedConnection, code websocket.StatusCode, reason string) <-chan struct{} {
	ctx = context.WithoutCancel(ctx)
	return safego.Go(ctx, logger, "CloseConnection-"+conn.ID(), func() {
		if err := conn.Close(code, reason); err != nil {
			logger.Debug(ctx, "Closing connection failed", "connection_id", conn.ID(), "close_code", int(code), "error", err.Error())
		}
	})
}

// closeConcurrently closes every conn in parallel. It returns the number of
// connections still closing when ctx ended; those finish in the background.
func closeConcurrently(ctx context.Context, logger domain.Logger, conns []domain.ManagedConnection, code websocket.StatusCode, reason string) int {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		pending = len(conns)
	)
	wg.Add(len(conns))
	for _, conn := range conns {
		done := closeDetached(ctx, logger, conn, code, reason)
		go func() {
			<-done
			mu.Lock()
			pending--
			mu.Unlock()
			wg.Done()
		}()
	}

	all := make(chan struct{})
	go func() {
		wg.Wait()
		close(all)
	}()
	select {
	case <-all:
		return 0
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		return pending
	}
}
