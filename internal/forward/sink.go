package forward

import (
	"context"

	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

// Sink is the interface for record destinations (Elasticsearch, Kafka, etc.).
//
//go:generate mockgen -destination=mocks/mock_sink.go -package=mocks . Sink
type Sink interface {
	// Name returns the sink's identifier (e.g., "elasticsearch", "kafka").
	Name() string

	// Start begins any background workers. Non-blocking.
	Start(ctx context.Context)

	// Send delivers one record.
	Send(ctx context.Context, rec types.ConsolidatedRecord) error

	// Close flushes queued records and releases resources.
	Close() error
}
