// Package engine is the Grimoire pattern engine core: per-process state
// machines advancing against an incoming syscall stream, emitting
// MatchResult values when a pattern's terminal step is satisfied.
package engine

import (
	"github.com/guardianshield/grimoire/internal/oracle"
	"github.com/guardianshield/grimoire/internal/patterns"
	"github.com/guardianshield/grimoire/internal/procmeta"
	"github.com/guardianshield/grimoire/internal/whitelist"
)

// DefaultTrackCap is the track-table eviction cap named in §3.
const DefaultTrackCap = 16384

// MetadataResolver is the subset of *procmeta.Resolver the engine needs;
// an interface so tests can supply a fake without touching /proc.
type MetadataResolver interface {
	Resolve(pid uint32) (procmeta.Metadata, error)
}

// StepObservation is one entry of a MatchResult's step trace.
type StepObservation struct {
	SyscallNr   uint32
	TimestampNs int64
}

// MatchResult is emitted on terminal step satisfaction (§3). Pattern always
// points into the immutable patterns.Table — never a transient copy.
type MatchResult struct {
	Pattern      *patterns.Pattern
	PID          uint32
	NsInum       uint32
	Container    bool
	BinaryPath   string
	FirstMatchNs int64
	LastMatchNs  int64
	StepTrace    []StepObservation
}

// MatchHandler is invoked synchronously for every emitted match, in
// declaration order when multiple patterns terminate on the same event.
type MatchHandler func(MatchResult)

// Engine owns all process-track state; it is not safe for concurrent use —
// the concurrency model (§5) is a single consumer goroutine driving it.
type Engine struct {
	resolver  MetadataResolver
	argReader ArgReader
	tracks    map[uint32]*Track
	cap       int
	onMatch   MatchHandler

	evicted uint64
}

// New constructs an Engine. cap <= 0 uses DefaultTrackCap. path_prefix
// constraints are resolved against the real /proc/<pid>/mem; use
// SetArgReaderForTest to fake remote-memory content in tests.
func New(resolver MetadataResolver, cap int, onMatch MatchHandler) *Engine {
	if cap <= 0 {
		cap = DefaultTrackCap
	}
	return &Engine{
		resolver:  resolver,
		argReader: procMemArgReader{},
		tracks:    make(map[uint32]*Track),
		cap:       cap,
		onMatch:   onMatch,
	}
}

// SetArgReaderForTest overrides the ArgReader path_prefix constraints are
// evaluated against, for tests that need to arm a pattern whose first step
// reads a syscall argument string without a real target process.
func (e *Engine) SetArgReaderForTest(r ArgReader) { e.argReader = r }

// EvictedCount returns how many tracks have been LRU-evicted so far.
func (e *Engine) EvictedCount() uint64 { return e.evicted }

// TrackCount returns the current number of live tracks.
func (e *Engine) TrackCount() int { return len(e.tracks) }

// NotifyExit removes pid's track immediately; per §3/§4.5 a process-exit
// notification destroys the track and no further MatchResult is emitted for
// that pid.
func (e *Engine) NotifyExit(pid uint32) {
	delete(e.tracks, pid)
}

// ProcessEvent runs the per-event pipeline of §4.5 against every pattern in
// patterns.Table.
func (e *Engine) ProcessEvent(event oracle.SyscallEvent) {
	track, created := e.getOrCreateTrack(event.PID, int64(event.TimestampNs))
	if track == nil {
		// Metadata resolution discovered the process had already exited.
		return
	}

	if created {
		e.evaluateWhitelists(track)
	}

	track.lastActivityNs = int64(event.TimestampNs)

	for i := range patterns.Table {
		p := &patterns.Table[i]
		slot := track.slotFor(p.ID)
		if slot.disabled {
			continue
		}
		e.advance(track, p, slot, &event)
	}

	e.evictIfOverCap()
}

// getOrCreateTrack fetches pid's track, creating and lazily resolving it on
// first sight. Returns (nil, false) if the process has already exited by
// the time metadata resolution runs.
func (e *Engine) getOrCreateTrack(pid uint32, nowNs int64) (*Track, bool) {
	if t, ok := e.tracks[pid]; ok {
		return t, false
	}

	t := newTrack(pid, nowNs, len(patterns.Table))
	meta, err := e.resolver.Resolve(pid)
	if err == procmeta.ErrProcessExited {
		return nil, false
	}
	if err == nil {
		t.meta = meta
		t.metaResolved = true
	}
	e.tracks[pid] = t
	return t, true
}

// evaluateWhitelists permanently disables every pattern whose whitelist
// matches this track's resolved metadata, per §4.5 step 2. Fail-closed:
// a track whose metadata never resolved is never disabled.
func (e *Engine) evaluateWhitelists(t *Track) {
	if !t.metaResolved {
		return
	}
	for i := range patterns.Table {
		p := &patterns.Table[i]
		if len(p.WhitelistProcessNames) == 0 && len(p.WhitelistBinaryPaths) == 0 {
			continue
		}
		if whitelist.Matches(t.meta, p.WhitelistProcessNames, p.WhitelistBinaryPaths) {
			slot := t.slotFor(p.ID)
			slot.disabled = true
		}
	}
}

// advance runs one pattern's progress slot forward against event, per the
// per-event pipeline in §4.5, with at most one reset-and-retry against step
// 0 when a distance/window bound is exceeded.
func (e *Engine) advance(track *Track, p *patterns.Pattern, slot *ProgressSlot, event *oracle.SyscallEvent) {
	e.advanceStep(track, p, slot, event, true)
}

func (e *Engine) advanceStep(track *Track, p *patterns.Pattern, slot *ProgressSlot, event *oracle.SyscallEvent, retryAllowed bool) {
	step := &p.Steps[slot.CurrentStepIndex]

	if !matchesStep(step, event) {
		return
	}
	if !evaluateConstraints(e.argReader, p, step, event) {
		return
	}

	ts := int64(event.TimestampNs)

	if !slot.started {
		slot.PatternStartedNs = ts
		slot.FirstMatchNsInStep = ts
		slot.CurrentStepMatchCount = 1
		slot.LastMatchNs = ts
		slot.started = true
	} else {
		if step.MaxDistance != 0 && ts-slot.LastMatchNs > step.MaxDistance && retryAllowed {
			slot.reset()
			e.advanceStep(track, p, slot, event, false)
			return
		}

		slot.LastMatchNs = ts
		slot.CurrentStepMatchCount++

		if p.WindowNs != 0 && ts-slot.PatternStartedNs > p.WindowNs && retryAllowed {
			slot.reset()
			e.advanceStep(track, p, slot, event, false)
			return
		}
	}

	if slot.CurrentStepMatchCount >= step.MinCount {
		obs := StepObservation{SyscallNr: event.SyscallNr, TimestampNs: ts}
		if step.Terminal {
			e.emitMatch(track, p, slot, obs)
			slot.reset()
			return
		}
		slot.CurrentStepIndex++
		slot.CurrentStepMatchCount = 0
		slot.FirstMatchNsInStep = 0
		slot.trace = append(slot.trace, obs)
		return
	}

	if step.MaxCount > 0 && slot.CurrentStepMatchCount > step.MaxCount {
		slot.reset()
	}
}

func (e *Engine) emitMatch(track *Track, p *patterns.Pattern, slot *ProgressSlot, final StepObservation) {
	if e.onMatch == nil {
		return
	}
	trace := append(append([]StepObservation{}, slot.trace...), final)
	e.onMatch(MatchResult{
		Pattern:      p,
		PID:          track.PID,
		NsInum:       track.meta.NsInum,
		Container:    track.meta.Container,
		BinaryPath:   track.meta.ExecPath,
		FirstMatchNs: slot.FirstMatchNsInStep,
		LastMatchNs:  slot.LastMatchNs,
		StepTrace:    trace,
	})
}

// evictIfOverCap evicts the track with the oldest idle timestamp once the
// table exceeds its cap, per §4.5's eviction policy. In-flight progressing
// tracks are protected unless their window has already expired.
func (e *Engine) evictIfOverCap() {
	if len(e.tracks) <= e.cap {
		return
	}

	var victim uint32
	var victimNs int64
	found := false

	for pid, t := range e.tracks {
		if t.inFlight(func(id uint64, s *ProgressSlot) bool {
			p := patterns.ByID(id)
			if p == nil || p.WindowNs == 0 {
				return false
			}
			return t.lastActivityNs-s.PatternStartedNs > p.WindowNs
		}) {
			continue
		}
		if !found || t.lastActivityNs < victimNs {
			victim = pid
			victimNs = t.lastActivityNs
			found = true
		}
	}

	if found {
		delete(e.tracks, victim)
		e.evicted++
	}
}
