package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	entered chan struct{}
	gate    chan struct{}
	err     error
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.entered != nil {
		w.entered <- struct{}{}
	}
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestProducerFlushesOnClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{}
	p := newProducer(w, 16, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish("order.processed", []byte("k"), []byte("v"),
			kafka.Header{Key: "x-event-type", Value: []byte("order.processed")}))
	}
	require.NoError(t, p.Close())

	msgs := w.written()
	require.Len(t, msgs, 5)
	assert.Equal(t, "order.processed", msgs[0].Topic)
	assert.Equal(t, "x-event-type", msgs[0].Headers[0].Key)
	assert.True(t, w.closed)
}

func TestProducerBufferFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &fakeWriter{entered: make(chan struct{}, 4), gate: make(chan struct{})}
	p := newProducer(w, 1, zaptest.NewLogger(t))

	require.NoError(t, p.Publish("t", nil, []byte("1")))
	<-w.entered // loop is now blocked inside the writer
	require.NoError(t, p.Publish("t", nil, []byte("2")))
	assert.ErrorIs(t, p.Publish("t", nil, []byte("3")), ErrBufferFull)

	close(w.gate)
	require.NoError(t, p.Close())
	assert.Len(t, w.written(), 2)
}

func TestProducerClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newProducer(&fakeWriter{err: errors.New("broker gone")}, 4, zaptest.NewLogger(t))
	require.NoError(t, p.Publish("t", nil, []byte("x")))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish("t", nil, []byte("y")), ErrProducerClosed)
}
