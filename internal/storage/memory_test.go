package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage/storagetest"
)

func TestMemoryStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return storage.NewMemoryStore()
	})
}

func TestMemoryStoreRejectsCancelledContext(t *testing.T) {
	s := storage.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Batch(ctx, func(storage.Actions) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDedupeKeys(t *testing.T) {
	keys := []storage.ReduceKeyAndBucket{{1, "a"}, {2, "a"}, {1, "a"}, {1, "b"}}
	assert.Equal(t, []storage.ReduceKeyAndBucket{{1, "a"}, {2, "a"}, {1, "b"}}, storage.DedupeKeys(keys))
}
