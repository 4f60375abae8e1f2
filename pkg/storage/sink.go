package storage

import (
	"context"

	"github.com/uhyunpark/spotbook/pkg/events"
)

// Sink archives trade and order events from the bus.
type Sink struct {
	archive *Archive
}

func NewSink(a *Archive) *Sink { return &Sink{archive: a} }

func (s *Sink) Name() string { return "pebble-archive" }

func (s *Sink) Handle(_ context.Context, ev events.Event) error {
	switch ev.Type {
	case events.TradeExecuted:
		return s.archive.SaveTrade(ev.Trade)
	case events.OrderUpdated:
		return s.archive.SaveOrder(ev.Order)
	default:
		return nil
	}
}
