package mqtt

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/sweeney/dglab-voice/internal/event"
)

// DefaultSinkSize bounds the queue between event producers and the publisher.
const DefaultSinkSize = 64

// Sink adapts a Publisher to event.Sink. Emit never blocks: events are queued
// and published by Run, and dropped when the queue is full.
type Sink struct {
	pub     Publisher
	logger  hclog.Logger
	queue   chan event.Event
	dropped atomic.Int64
}

// NewSink creates a Sink with the given queue size.
func NewSink(pub Publisher, size int, logger hclog.Logger) *Sink {
	if size <= 0 {
		size = DefaultSinkSize
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Sink{pub: pub, logger: logger, queue: make(chan event.Event, size)}
}

// Emit implements event.Sink.
func (s *Sink) Emit(e event.Event) {
	select {
	case s.queue <- e:
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("event queue full, dropping", "type", e.Type)
		}
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Run publishes queued events until ctx is done, then flushes what is left.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.flush()
			return nil
		case e := <-s.queue:
			s.publish(e)
		}
	}
}

func (s *Sink) flush() {
	for {
		select {
		case e := <-s.queue:
			s.publish(e)
		default:
			return
		}
	}
}

func (s *Sink) publish(e event.Event) {
	if err := s.pub.Publish(e); err != nil {
		// Don't crash on publish failure
		s.logger.Warn("publish error", "type", e.Type, "error", err)
	}
}
