// Package consumer applies document changes read from Kafka to the record
// store and the registered indexes, and publishes a notification after
// every committed index write.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/resilience"
)

const (
	OpPut    = "put"
	OpDelete = "delete"
)

// Change is the payload of a document-changes message.
type Change struct {
	Op   string          `json:"op"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Applier takes document changes; *registry.Registry is one.
type Applier interface {
	Put(ctx context.Context, docs []document.Document) error
	Delete(ctx context.Context, ids []string) error
}

// IndexConsumer drives the indexing pipeline from a Kafka topic.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// Decode parses a change message. Malformed messages are validation errors.
func Decode(value []byte) (Change, []document.Document, error) {
	change, err := kafka.DecodeJSON[Change](value)
	if err != nil {
		return change, nil, apperrors.Validation("%s", err.Error())
	}
	if change.ID == "" {
		return change, nil, apperrors.Validation("document change without id")
	}
	switch change.Op {
	case OpDelete:
		return change, nil, nil
	case OpPut:
		if len(change.Data) == 0 {
			return change, nil, apperrors.Validation("put of %s carries no data", change.ID)
		}
		data, err := document.ParseObject(change.Data)
		if err != nil {
			return change, nil, apperrors.Validation("data of %s: %s", change.ID, err.Error())
		}
		return change, []document.Document{{ID: change.ID, Data: data}}, nil
	}
	return change, nil, apperrors.Validation("unknown document change op %q", change.Op)
}

// HandleMessage applies each change through the breaker, retrying transient
// failures. Malformed messages are logged and dropped.
func HandleMessage(applier Applier, breaker *resilience.CircuitBreaker, retry resilience.RetryConfig) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	retry.Retryable = func(err error) bool {
		return !errors.Is(err, apperrors.ErrValidation) && !errors.Is(err, resilience.ErrCircuitOpen)
	}
	return func(ctx context.Context, msg kafka.Message) error {
		change, docs, err := Decode(msg.Value)
		if err != nil {
			logger.Error("dropping malformed document change",
				"key", string(msg.Key),
				"offset", msg.Offset,
				"error", err,
			)
			return nil
		}
		apply := func() error {
			if change.Op == OpDelete {
				return applier.Delete(ctx, []string{change.ID})
			}
			return applier.Put(ctx, docs)
		}
		err = resilience.Retry(ctx, "apply document change", retry, func() error {
			return breaker.Execute(apply)
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrValidation) {
				logger.Error("document change rejected", "doc_id", change.ID, "op", change.Op, "error", err)
				return nil
			}
			return fmt.Errorf("applying %s of %s: %w", change.Op, change.ID, err)
		}
		logger.Debug("document change applied", "doc_id", change.ID, "op", change.Op)
		return nil
	}
}
