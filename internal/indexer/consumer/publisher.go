package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/kafka"
)

// IndexUpdated is published after every committed index write.
type IndexUpdated struct {
	Index     string    `json:"index"`
	Changed   int       `json:"changed"`
	Documents int       `json:"documents"`
	Timestamp time.Time `json:"timestamp"`
}

type EventPublisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Publisher forwards index commits to Kafka. Failures are logged; they
// never fail the write that triggered them.
type Publisher struct {
	producer EventPublisher
	logger   *slog.Logger
}

var _ indexer.Listener = (*Publisher)(nil)

func NewPublisher(producer EventPublisher) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   slog.Default().With("component", "index-publisher"),
	}
}

func (p *Publisher) IndexChanged(ctx context.Context, index string, batch *indexer.WriteBatch) {
	ev := IndexUpdated{Index: index, Timestamp: time.Now().UTC()}
	if batch != nil {
		ev.Changed = batch.Changed
		ev.Documents = len(batch.Documents)
	}
	if err := p.producer.Publish(ctx, kafka.Event{Key: index, Value: ev}); err != nil {
		p.logger.Warn("failed to publish index update", "index", index, "error", err)
	}
}
