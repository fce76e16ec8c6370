package queue

import "context"

// Publisher publishes ingest messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg IngestMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg IngestMessage) error

// Consumer consumes ingest messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// IngestQueue carries one message per source email the watcher
	// accepted.
	IngestQueue = "ingest"
	// IngestDLQ receives rejected ingest messages.
	IngestDLQ = "dlq.ingest"
)
