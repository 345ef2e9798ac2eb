// Package notify carries the "queue changed" signal from committed state
// transitions to push transports. Publishing never blocks the caller and
// delivery failures are logged, not returned.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Kind names what changed.
type Kind string

const (
	KindQueueUpdated       Kind = "queue.updated"
	KindSessionStarted     Kind = "session.started"
	KindSessionCompleted   Kind = "session.completed"
	KindDoctorAvailability Kind = "doctor.availability"
)

// Event is what sinks receive. Origin identifies the publishing process so
// relayed events are not re-published by the instance that sent them.
type Event struct {
	Kind      Kind      `json:"kind"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier is the contract the domain depends on.
type Notifier interface {
	Publish(kind Kind)
}

// Sink delivers events to one transport.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Kind) {}

// Dispatcher queues events on a bounded buffer and fans them out to sinks
// from a single worker goroutine started by Run.
type Dispatcher struct {
	origin  string
	events  chan Event
	logger  zerolog.Logger
	timeout time.Duration

	mu    sync.RWMutex
	sinks []Sink
}

func NewDispatcher(logger zerolog.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Dispatcher{
		origin:  uuid.NewString(),
		events:  make(chan Event, buffer),
		logger:  logger.With().Str("component", "notify").Logger(),
		timeout: 2 * time.Second,
		sinks:   sinks,
	}
}

// Origin is the id stamped on every event published by this dispatcher.
func (d *Dispatcher) Origin() string { return d.origin }

// AddSink registers an additional sink.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Publish enqueues kind. When the buffer is full the event is dropped; a
// later event carries the same "refresh" meaning.
func (d *Dispatcher) Publish(kind Kind) {
	ev := Event{Kind: kind, Origin: d.origin, Timestamp: time.Now().UTC()}
	select {
	case d.events <- ev:
	default:
		d.logger.Warn().Str("kind", string(kind)).Msg("notification buffer full, event dropped")
	}
}

// Run delivers events until ctx is cancelled. Events still buffered at
// shutdown are discarded.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.events:
			d.deliver(ctx, ev)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	d.mu.RLock()
	sinks := d.sinks
	d.mu.RUnlock()

	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Deliver(sctx, ev)
		cancel()
		if err != nil {
			d.logger.Error().Err(err).
				Str("sink", s.Name()).
				Str("kind", string(ev.Kind)).
				Msg("notification delivery failed")
		}
	}
}
