package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/store"
)

// touchWorker applies last-used timestamp updates off the request path.
// Enqueue never blocks and never fails the caller: if the buffer is full
// the update is dropped, and a store failure is only logged. The channel
// makes the fire-and-forget contract structural rather than a bare
// goroutine per request.
type touchWorker struct {
	store     *store.Store
	logger    *slog.Logger
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

const touchBuffer = 256

func newTouchWorker(st *store.Store, logger *slog.Logger) *touchWorker {
	w := &touchWorker{
		store:  st,
		logger: logger,
		ch:     make(chan string, touchBuffer),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *touchWorker) run() {
	defer close(w.done)
	for id := range w.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.store.TouchLastUsed(ctx, id); err != nil {
			w.logger.Warn("last-used update failed", "credential_id", id, "error", err)
		}
		cancel()
	}
}

// Enqueue schedules a best-effort last-used update.
func (w *touchWorker) Enqueue(id string) {
	select {
	case w.ch <- id:
	default:
		w.logger.Debug("last-used queue full, dropping update", "credential_id", id)
	}
}

// Close stops accepting updates and waits for the pending ones to flush.
// Safe to call more than once.
func (w *touchWorker) Close() {
	w.closeOnce.Do(func() {
		close(w.ch)
		<-w.done
	})
}
