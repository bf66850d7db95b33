package cache

import (
	"context"

	"github.com/corpusd/corpusd/internal/queue"
)

// RunInvalidator consumes job events and drops the affected cache
// entries whenever a document reaches a terminal state. Blocks until
// ctx is cancelled or the event channel closes.
func RunInvalidator(ctx context.Context, events <-chan queue.JobEvent, manager *Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Type != queue.EventCompleted && event.Type != queue.EventFailed {
				continue
			}
			manager.InvalidateDocumentScope(ctx, event.OwnerID, event.StoreRef)
		}
	}
}
