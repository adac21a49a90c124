package engine

import "github.com/guardianshield/grimoire/internal/procmeta"

// ProgressSlot is the per-(track, pattern) cursor described in §3/§4.5.
type ProgressSlot struct {
	CurrentStepIndex      int
	CurrentStepMatchCount uint32
	FirstMatchNsInStep    int64
	LastMatchNs           int64
	PatternStartedNs      int64

	// started reports whether this slot has seen its first matching event
	// yet; distinguishes a fresh slot from one reset back to step 0.
	started bool
	// disabled is set permanently when the pattern's whitelist matched this
	// track at creation time (§4.5 step 2); a disabled slot is never
	// advanced again.
	disabled bool

	// trace accumulates the {syscall_nr, timestamp_ns} observation for
	// every non-terminal step satisfied so far, for MatchResult.StepTrace.
	trace []StepObservation
}

// Track is the per-PID state the engine maintains (§3 "Process track").
type Track struct {
	PID uint32

	metaResolved bool
	meta         procmeta.Metadata

	// Progress holds one slot per pattern of interest, keyed by pattern ID.
	Progress map[uint64]*ProgressSlot

	// lastActivityNs is the most recent timestamp_ns seen on this track,
	// across all patterns, whether or not the event matched; initialised to
	// the creation time and used alone for LRU eviction ordering.
	lastActivityNs int64
	createdNs      int64
}

func newTrack(pid uint32, nowNs int64, patternCount int) *Track {
	return &Track{
		PID:            pid,
		Progress:       make(map[uint64]*ProgressSlot, patternCount),
		lastActivityNs: nowNs,
		createdNs:      nowNs,
	}
}

// slotFor returns this track's progress slot for patternID, creating one if
// absent.
func (t *Track) slotFor(patternID uint64) *ProgressSlot {
	s, ok := t.Progress[patternID]
	if !ok {
		s = &ProgressSlot{}
		t.Progress[patternID] = s
	}
	return s
}

// inFlight reports whether any progress slot on this track has advanced
// past step 0 without yet matching or being disabled — such tracks are
// protected from LRU eviction unless their pattern's window has already
// expired (checked by the caller).
func (t *Track) inFlight(windowExpired func(patternID uint64, slot *ProgressSlot) bool) bool {
	for id, s := range t.Progress {
		if s.disabled || !s.started {
			continue
		}
		if s.CurrentStepIndex > 0 && !windowExpired(id, s) {
			return true
		}
	}
	return false
}

// reset zeroes a progress slot back to step 0, clearing its timing anchors.
// started stays false so the next matching event re-arms pattern_started_ns
// fresh, matching §4.5's "reset and retry against step 0" semantics.
func (s *ProgressSlot) reset() {
	s.CurrentStepIndex = 0
	s.CurrentStepMatchCount = 0
	s.FirstMatchNsInStep = 0
	s.LastMatchNs = 0
	s.PatternStartedNs = 0
	s.started = false
	s.trace = nil
}
