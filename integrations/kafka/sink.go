// Package kafka publishes committed runtime events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"dataspace/core/events"
)

const (
	defaultQueueSize   = 256
	defaultMaxAttempts = 5
	defaultMinBackoff  = 200 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
	writeTimeout       = 10 * time.Second
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink is an events.Emitter that forwards events to Kafka from a background
// worker. Emit never blocks the runtime: when the queue is full the event is
// dropped and logged.
type Sink struct {
	writer      messageWriter
	logger      *slog.Logger
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	queue   chan kafka.Message
	wg      sync.WaitGroup
	mu      sync.Mutex
	dropped uint64
}

// Option mutates sink configuration.
type Option func(*Sink)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(s *Sink) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			s.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			s.maxBackoff = maxBackoff
		}
	}
}

// WithQueueSize overrides the number of events buffered ahead of the writer.
func WithQueueSize(size int) Option {
	return func(s *Sink) {
		if size > 0 {
			s.queue = make(chan kafka.Message, size)
		}
	}
}

func withWriter(w messageWriter) Option {
	return func(s *Sink) { s.writer = w }
}

// NewSink builds a sink writing to topic on brokers and starts its worker.
func NewSink(brokers []string, topic string, opts ...Option) (*Sink, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: at least one broker required")
	}
	if topic == "" {
		return nil, errors.New("kafka: topic required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newSink(append([]Option{withWriter(writer)}, opts...)...), nil
}

func newSink(opts ...Option) *Sink {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan kafka.Message, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.worker()
	return s
}

// Emit implements events.Emitter.
func (s *Sink) Emit(evt events.Event) {
	if s == nil {
		return
	}
	msg, ok := s.encode(evt)
	if !ok {
		return
	}
	select {
	case <-s.ctx.Done():
		return
	default:
	}
	select {
	case s.queue <- msg:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger.Warn("kafka sink queue full, dropping event", slog.String("type", evt.EventType()))
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the worker after the queued events were attempted and closes
// the writer.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.cancel()
	s.wg.Wait()
	return s.writer.Close()
}

func (s *Sink) encode(evt events.Event) (kafka.Message, bool) {
	env, ok := events.NewEnvelope(evt, s.now())
	if !ok {
		return kafka.Message{}, false
	}
	value, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("kafka sink encode failed", slog.String("type", env.Type), slog.Any("error", err))
		return kafka.Message{}, false
	}
	return kafka.Message{
		Key:   []byte(partitionKey(env)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(env.Type)},
			{Key: "event-id", Value: []byte(env.ID)},
		},
	}, true
}

// partitionKey keeps every event of one order on one partition.
func partitionKey(env events.Envelope) string {
	if company := env.Attributes["company"]; company != "" {
		return company + "/" + env.Attributes["orderId"]
	}
	if account := env.Attributes["account"]; account != "" {
		return account
	}
	return env.Type
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.queue:
			s.process(msg)
		case <-s.ctx.Done():
			s.drain()
			return
		}
	}
}

// drain makes a single attempt at everything still queued at shutdown.
func (s *Sink) drain() {
	for {
		select {
		case msg := <-s.queue:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := s.writer.WriteMessages(ctx, msg); err != nil {
				s.logger.Error("kafka sink drain failed", slog.Any("error", err))
			}
			cancel()
		default:
			return
		}
	}
}

func (s *Sink) process(msg kafka.Message) {
	backoff := s.minBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := s.writer.WriteMessages(ctx, msg)
		cancel()
		if err == nil {
			return
		}
		if attempt >= s.maxAttempts {
			s.logger.Error("kafka sink delivery failed",
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-s.ctx.Done():
			return
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}
