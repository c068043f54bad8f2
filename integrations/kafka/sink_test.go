package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"dataspace/core/events"
	"dataspace/core/types"
)

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	attempts int
	written  []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	if w.failures > 0 {
		w.failures--
		return errors.New("broker unavailable")
	}
	w.written = append(w.written, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *fakeWriter) snapshot() ([]kafka.Message, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.written...), w.attempts
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSinkPublishesEnvelope(t *testing.T) {
	writer := &fakeWriter{}
	sink := newSink(withWriter(writer), WithLogger(quietLogger()))

	sink.Emit(events.Wrap(&types.Event{
		Type:       "dataspace.escrow.tipped_off",
		Attributes: map[string]string{"company": "ds1company", "orderId": "3", "verdict": "true"},
	}))
	require.Eventually(t, func() bool {
		written, _ := writer.snapshot()
		return len(written) == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, sink.Close())

	written, _ := writer.snapshot()
	msg := written[0]
	require.Equal(t, "ds1company/3", string(msg.Key))

	var env events.Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	require.Equal(t, "dataspace.escrow.tipped_off", env.Type)
	require.Equal(t, "true", env.Attributes["verdict"])
	require.True(t, writer.closed)
}

func TestSinkRetriesFailedWrites(t *testing.T) {
	writer := &fakeWriter{failures: 2}
	sink := newSink(withWriter(writer), WithLogger(quietLogger()),
		WithRetryPolicy(5, time.Millisecond, 2*time.Millisecond))
	defer sink.Close()

	sink.Emit(events.Wrap(&types.Event{Type: "dataspace.ledger.credit", Attributes: map[string]string{"account": "ds1a"}}))
	require.Eventually(t, func() bool {
		written, attempts := writer.snapshot()
		return len(written) == 1 && attempts == 3
	}, time.Second, 5*time.Millisecond)
}

func TestSinkSkipsEventsWithoutCanonicalForm(t *testing.T) {
	writer := &fakeWriter{}
	sink := newSink(withWriter(writer), WithLogger(quietLogger()))
	sink.Emit(bareEvent{})
	require.NoError(t, sink.Close())
	written, attempts := writer.snapshot()
	require.Empty(t, written)
	require.Zero(t, attempts)
}

func TestNewSinkValidatesArguments(t *testing.T) {
	_, err := NewSink(nil, "topic")
	require.Error(t, err)
	_, err = NewSink([]string{"localhost:9092"}, "")
	require.Error(t, err)
}

type bareEvent struct{}

func (bareEvent) EventType() string { return "bare" }
