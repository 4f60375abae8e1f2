package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/uhyunpark/spotbook/pkg/util"
)

// Sink consumes committed events off the bus goroutine.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc struct {
	ID string
	Fn func(ctx context.Context, ev Event) error
}

func (s SinkFunc) Name() string                               { return s.ID }
func (s SinkFunc) Handle(ctx context.Context, ev Event) error { return s.Fn(ctx, ev) }

// Bus decouples the matching path from I/O. Publish never blocks: when the
// buffer is full the event is dropped and counted.
type Bus struct {
	ch     chan Event
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	sinks []Sink

	published atomic.Uint64
	dropped   atomic.Uint64
}

const DefaultBufferSize = 4096

func NewBus(buffer int, logger *zap.SugaredLogger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	if logger == nil {
		logger = util.NopSugar()
	}
	return &Bus{ch: make(chan Event, buffer), logger: logger}
}

// Subscribe registers a sink. Events already in flight may or may not reach it.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
	b.logger.Infow("event_sink_subscribed", "sink", s.Name())
}

// Publish enqueues ev and reports whether it was accepted.
func (b *Bus) Publish(ev Event) bool {
	select {
	case b.ch <- ev:
		b.published.Add(1)
		return true
	default:
		n := b.dropped.Add(1)
		b.logger.Warnw("event_dropped", "type", ev.Type, "symbol", ev.Symbol, "seq", ev.Seq, "dropped_total", n)
		return false
	}
}

// Run delivers events to every sink in order until ctx is cancelled.
// A failing sink is logged and does not stop delivery to the others.
func (b *Bus) Run(ctx context.Context) {
	b.logger.Infow("event_bus_started", "buffer", cap(b.ch))
	for {
		select {
		case <-ctx.Done():
			b.logger.Infow("event_bus_stopped", "published", b.published.Load(), "dropped", b.dropped.Load())
			return
		case ev := <-b.ch:
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()
	for _, s := range sinks {
		if err := s.Handle(ctx, ev); err != nil {
			b.logger.Warnw("event_sink_failed", "sink", s.Name(), "type", ev.Type, "seq", ev.Seq, "error", err)
		}
	}
}

func (b *Bus) Published() uint64 { return b.published.Load() }
func (b *Bus) Dropped() uint64   { return b.dropped.Load() }
func (b *Bus) Pending() int      { return len(b.ch) }
