package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/resilience"
)

type fakeApplier struct {
	puts    []document.Document
	deletes []string
	fails   int
}

func (f *fakeApplier) Put(_ context.Context, docs []document.Document) error {
	if f.fails > 0 {
		f.fails--
		return errors.New("store unavailable")
	}
	f.puts = append(f.puts, docs...)
	return nil
}

func (f *fakeApplier) Delete(_ context.Context, ids []string) error {
	f.deletes = append(f.deletes, ids...)
	return nil
}

func handler(a Applier) kafka.MessageHandler {
	return HandleMessage(a,
		resilience.NewCircuitBreaker("test", resilience.CircuitBreakerConfig{}),
		resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond},
	)
}

func TestDecode(t *testing.T) {
	change, docs, err := Decode([]byte(`{"op":"put","id":"users/1","data":{"Name":"Oren","Age":30}}`))
	require.NoError(t, err)
	assert.Equal(t, OpPut, change.Op)
	require.Len(t, docs, 1)
	assert.Equal(t, "users/1", docs[0].ID)
	assert.Equal(t, "Oren", docs[0].Data.Field("Name").Text())

	change, docs, err = Decode([]byte(`{"op":"delete","id":"users/1"}`))
	require.NoError(t, err)
	assert.Equal(t, OpDelete, change.Op)
	assert.Empty(t, docs)

	for _, bad := range []string{
		`not json`,
		`{"op":"put","data":{}}`,
		`{"op":"put","id":"users/1"}`,
		`{"op":"upsert","id":"users/1"}`,
	} {
		_, _, err := Decode([]byte(bad))
		assert.True(t, errors.Is(err, apperrors.ErrValidation), bad)
	}
}

func TestHandleMessageAppliesChanges(t *testing.T) {
	a := &fakeApplier{fails: 1}
	h := handler(a)
	ctx := context.Background()

	require.NoError(t, h(ctx, kafka.Message{Value: []byte(`{"op":"put","id":"users/1","data":{"Name":"Oren"}}`)}))
	require.NoError(t, h(ctx, kafka.Message{Value: []byte(`{"op":"delete","id":"users/2"}`)}))
	require.Len(t, a.puts, 1)
	assert.Equal(t, "users/1", a.puts[0].ID)
	assert.Equal(t, []string{"users/2"}, a.deletes)
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	a := &fakeApplier{}
	require.NoError(t, handler(a)(context.Background(), kafka.Message{Value: []byte(`{"op":"put"}`)}))
	assert.Empty(t, a.puts)
}

func TestHandleMessageReportsPersistentFailure(t *testing.T) {
	a := &fakeApplier{fails: 10}
	err := handler(a)(context.Background(), kafka.Message{Value: []byte(`{"op":"put","id":"users/1","data":{}}`)})
	assert.Error(t, err)
}

type fakeProducer struct{ events []kafka.Event }

func (f *fakeProducer) Publish(_ context.Context, events ...kafka.Event) error {
	f.events = append(f.events, events...)
	return nil
}

func TestPublisherSendsIndexUpdates(t *testing.T) {
	fp := &fakeProducer{}
	NewPublisher(fp).IndexChanged(context.Background(), "Users", &indexer.WriteBatch{Changed: 3})
	require.Len(t, fp.events, 1)
	assert.Equal(t, "Users", fp.events[0].Key)
	ev := fp.events[0].Value.(IndexUpdated)
	assert.Equal(t, "Users", ev.Index)
	assert.Equal(t, 3, ev.Changed)
}
