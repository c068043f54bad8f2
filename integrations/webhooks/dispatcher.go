// Package webhooks posts committed escrow events to an operator endpoint.
// Every body is signed over "<unix seconds>.<body>" with HMAC-SHA256 so the
// receiver can reject replays.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"dataspace/core/events"
)

const (
	// DefaultPrefix selects the escrow lifecycle events.
	DefaultPrefix = "dataspace.escrow."

	HeaderEvent     = "X-Dataspace-Event"
	HeaderDelivery  = "X-Dataspace-Delivery"
	HeaderTimestamp = "X-Dataspace-Timestamp"
	HeaderSignature = "X-Dataspace-Signature"

	signaturePrefix = "v1="
	queueSize       = 64
)

var (
	ErrQueueFull        = errors.New("webhook: queue full")
	ErrClosed           = errors.New("webhook: dispatcher closed")
	ErrSignatureInvalid = errors.New("webhook: signature invalid")
	ErrSignatureExpired = errors.New("webhook: signature outside tolerance")
)

// permanentError marks a response the endpoint will keep rejecting.
type permanentError struct{ status int }

func (e permanentError) Error() string {
	return fmt.Sprintf("webhook: endpoint rejected delivery with status %d", e.status)
}

type retryPolicy struct {
	attempts int
	first    time.Duration
	ceiling  time.Duration
}

func (p retryPolicy) delay(attempt int) time.Duration {
	d := p.first
	for i := 1; i < attempt && d < p.ceiling; i++ {
		d *= 2
	}
	return min(d, p.ceiling)
}

type job struct {
	id    string
	event string
	body  []byte
}

// Dispatcher is an events.Emitter. Emit only queues; one worker delivers in
// commit order.
type Dispatcher struct {
	endpoint string
	secret   []byte
	prefixes []string
	client   *http.Client
	logger   *slog.Logger
	retry    retryPolicy
	now      func() time.Time

	jobs   chan job
	stop   chan struct{}
	once   sync.Once
	done   sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

type Option func(*Dispatcher)

func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy sets the attempt budget and the doubling backoff bounds.
func WithRetryPolicy(attempts int, first, ceiling time.Duration) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.retry.attempts = attempts
		}
		if first > 0 {
			d.retry.first = first
		}
		if ceiling >= d.retry.first {
			d.retry.ceiling = ceiling
		}
	}
}

// WithEventPrefixes replaces the default escrow-only selection.
func WithEventPrefixes(prefixes ...string) Option {
	return func(d *Dispatcher) {
		if len(prefixes) > 0 {
			d.prefixes = append([]string(nil), prefixes...)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	d := &Dispatcher{
		endpoint: endpoint,
		secret:   append([]byte(nil), secret...),
		prefixes: []string{DefaultPrefix},
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   slog.Default(),
		retry:    retryPolicy{attempts: 5, first: 2 * time.Second, ceiling: 30 * time.Second},
		now:      time.Now,
		jobs:     make(chan job, queueSize),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.done.Add(1)
	go d.run()
	return d, nil
}

// Close stops the worker. Queued deliveries that have not started are
// dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.stop)
	})
	d.done.Wait()
}

func (d *Dispatcher) Emit(evt events.Event) {
	if d == nil || evt == nil || !d.wants(evt.EventType()) {
		return
	}
	env, ok := events.NewEnvelope(evt, d.now())
	if !ok {
		return
	}
	if err := d.enqueue(env); err != nil {
		d.logger.Warn("webhook event dropped",
			slog.String("type", env.Type),
			slog.String("delivery", env.ID),
			slog.Any("error", err))
	}
}

func (d *Dispatcher) wants(eventType string) bool {
	for _, prefix := range d.prefixes {
		if strings.HasPrefix(eventType, prefix) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) enqueue(env events.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.jobs <- job{id: env.ID, event: env.Type, body: body}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) run() {
	defer d.done.Done()
	for {
		select {
		case <-d.stop:
			return
		case next := <-d.jobs:
			d.deliver(next)
		}
	}
}

func (d *Dispatcher) deliver(next job) {
	var err error
	for attempt := 1; attempt <= d.retry.attempts; attempt++ {
		if err = d.post(next); err == nil {
			return
		}
		var permanent permanentError
		if errors.As(err, &permanent) || attempt == d.retry.attempts {
			break
		}
		timer := time.NewTimer(d.retry.delay(attempt))
		select {
		case <-timer.C:
		case <-d.stop:
			timer.Stop()
			return
		}
	}
	d.logger.Error("webhook delivery abandoned",
		slog.String("type", next.event),
		slog.String("delivery", next.id),
		slog.Any("error", err))
}

func (d *Dispatcher) post(next job) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(next.body))
	if err != nil {
		return err
	}
	ts := d.now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, next.event)
	req.Header.Set(HeaderDelivery, next.id)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, Sign(d.secret, ts, next.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook: endpoint busy (status %d)", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return permanentError{status: resp.StatusCode}
	default:
		return fmt.Errorf("webhook: endpoint failed with status %d", resp.StatusCode)
	}
}

// Sign returns the signature header for body sent at unix time ts.
func Sign(secret []byte, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a delivery on the receiving side. tolerance bounds the age of
// the timestamp header; zero disables the check.
func Verify(secret []byte, timestamp, signature string, body []byte, now time.Time, tolerance time.Duration) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(ts, 0))
		if age > tolerance || age < -tolerance {
			return ErrSignatureExpired
		}
	}
	if !hmac.Equal([]byte(Sign(secret, ts, body)), []byte(strings.TrimSpace(signature))) {
		return ErrSignatureInvalid
	}
	return nil
}
