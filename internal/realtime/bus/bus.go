package bus

import (
	"context"

	"github.com/reelforge/reelforge-backend/internal/realtime"
)

// Bus carries SSE messages across service instances so a job advanced by one
// worker process reaches clients connected to another.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
