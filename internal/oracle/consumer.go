package oracle

import (
	"errors"
	"time"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/sirupsen/logrus"
)

// Dispatcher receives decoded events. Implemented by *engine.Engine; defined
// here (rather than imported) so this package never depends on engine,
// avoiding an import cycle (engine already depends on oracle for
// SyscallEvent).
type Dispatcher interface {
	ProcessEvent(SyscallEvent)

	// NotifyExit destroys pid's track immediately, independent of LRU
	// eviction pressure, when the sched_process_exit tracepoint program
	// reports the process gone.
	NotifyExit(pid uint32)
}

// Consumer reads decoded SyscallEvent records off the ring buffer and
// dispatches them to the pattern engine, on a single goroutine, matching
// the one-producer/one-buffer/one-consumer model of §5.
type Consumer struct {
	loader   *Loader
	disp     Dispatcher
	log      *logrus.Entry
	debug    bool
	degraded bool

	Stats Stats
}

// NewConsumer builds a Consumer over an already-loaded producer.
func NewConsumer(loader *Loader, disp Dispatcher, log *logrus.Entry, debug bool) *Consumer {
	return &Consumer{loader: loader, disp: disp, log: log, debug: debug, degraded: loader.Degraded()}
}

// Run polls the ring buffer until stop is closed or the reader itself is
// closed (by Loader.Close, e.g. on shutdown signal). Suspension only
// happens inside the reader's blocking Read call, per §5.
func (c *Consumer) Run(stop <-chan struct{}) {
	done := make(chan struct{})
	go func() {
		<-stop
		_ = c.loader.reader.Close()
	}()
	defer close(done)

	for {
		record, err := c.loader.Reader().Read()
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				return
			}
			if errors.Is(err, ringbuf.ErrFlushed) {
				continue
			}
			c.Stats.IncDropped()
			c.log.WithError(err).Debug("ring buffer read error")
			continue
		}

		event, err := DecodeEvent(record.RawSample)
		if err != nil {
			c.Stats.IncDecodeErr()
			c.log.WithError(err).Debug("malformed ring buffer record")
			continue
		}
		if event.SyscallNr == ExitNotificationNr {
			if c.debug {
				c.log.WithField("pid", event.PID).Debug("process-exit notification")
			}
			c.disp.NotifyExit(event.PID)
			continue
		}

		if c.degraded {
			event.Degraded = true
			c.Stats.IncDegraded()
		}

		if c.debug {
			c.log.WithFields(logrus.Fields{
				"syscall_nr": event.SyscallNr,
				"pid":        event.PID,
				"ts_ns":      event.TimestampNs,
			}).Debug("event")
		}

		c.Stats.IncProcessed()
		c.disp.ProcessEvent(event)
	}
}

// pollTimeout is unused directly by ringbuf.Reader (it blocks until data or
// Close), but documents the nominal 100ms poll cadence named in §5 for
// implementations that front this with a manual epoll/timeout loop.
const pollTimeout = 100 * time.Millisecond
