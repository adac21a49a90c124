package oracle

import "sync/atomic"

// Stats accumulates the transient-runtime counters named in the error
// handling design: none of these are fatal, all are surfaced in the
// shutdown summary.
type Stats struct {
	eventsProcessed uint64
	eventsDropped   uint64 // consumer-side ring-buffer read errors (producer reservation failures are in Loader.DroppedEvents)
	decodeErrors    uint64 // short/malformed record
	degradedEvents  uint64 // host-PID resolution fell back to naive PID
}

func (s *Stats) IncProcessed() { atomic.AddUint64(&s.eventsProcessed, 1) }
func (s *Stats) IncDropped()   { atomic.AddUint64(&s.eventsDropped, 1) }
func (s *Stats) IncDecodeErr() { atomic.AddUint64(&s.decodeErrors, 1) }
func (s *Stats) IncDegraded()  { atomic.AddUint64(&s.degradedEvents, 1) }

func (s *Stats) Processed() uint64 { return atomic.LoadUint64(&s.eventsProcessed) }
func (s *Stats) Dropped() uint64   { return atomic.LoadUint64(&s.eventsDropped) }
func (s *Stats) DecodeErrors() uint64 { return atomic.LoadUint64(&s.decodeErrors) }
func (s *Stats) Degraded() uint64  { return atomic.LoadUint64(&s.degradedEvents) }
