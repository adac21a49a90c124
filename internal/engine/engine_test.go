package engine

import (
	"testing"

	"github.com/guardianshield/grimoire/internal/classify"
	"github.com/guardianshield/grimoire/internal/oracle"
	"github.com/guardianshield/grimoire/internal/patterns"
	"github.com/guardianshield/grimoire/internal/procmeta"
)

// fakeResolver satisfies MetadataResolver without touching /proc.
type fakeResolver struct {
	byPID map[uint32]procmeta.Metadata
	err   map[uint32]error
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{byPID: map[uint32]procmeta.Metadata{}, err: map[uint32]error{}}
}

func (f *fakeResolver) Resolve(pid uint32) (procmeta.Metadata, error) {
	if err, ok := f.err[pid]; ok {
		return procmeta.Metadata{}, err
	}
	if m, ok := f.byPID[pid]; ok {
		return m, nil
	}
	return procmeta.Metadata{PID: pid, Basename: "unknown", ExecPath: "/unknown"}, nil
}

func ev(pid uint32, nr uint32, ts int64, args ...uint64) oracle.SyscallEvent {
	var e oracle.SyscallEvent
	e.PID = pid
	e.SyscallNr = nr
	e.TimestampNs = uint64(ts)
	for i, a := range args {
		if i < 6 {
			e.Args[i] = a
		}
	}
	return e
}

func singleStepPattern(name string, minCount, maxCount uint32, windowNs int64, syscallNr uint32, terminal bool) patterns.Pattern {
	return patterns.Pattern{
		Name:     name,
		Severity: patterns.SeverityHigh,
		WindowNs: windowNs,
		Steps: []patterns.Step{
			{
				Match:    patterns.StepMatch{HasSyscallNr: true, SyscallNr: syscallNr},
				MinCount: minCount,
				MaxCount: maxCount,
				Terminal: terminal,
			},
		},
	}
}

func TestMinCountOneTerminalFiresOnFirstEvent(t *testing.T) {
	restore := patterns.SetTableForTest([]patterns.Pattern{
		singleStepPattern("single_shot", 1, 0, 1_000_000_000, 100, true),
	})
	defer restore()

	var got []MatchResult
	eng := New(newFakeResolver(), 0, func(m MatchResult) { got = append(got, m) })

	eng.ProcessEvent(ev(1, 100, 1))

	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
}

func TestDuplicateEventAdvancesCountByTwo(t *testing.T) {
	restore := patterns.SetTableForTest([]patterns.Pattern{
		singleStepPattern("needs_two", 2, 0, 1_000_000_000, 100, true),
	})
	defer restore()

	var got []MatchResult
	eng := New(newFakeResolver(), 0, func(m MatchResult) { got = append(got, m) })

	eng.ProcessEvent(ev(1, 100, 500))
	eng.ProcessEvent(ev(1, 100, 500)) // identical timestamp, same event

	if len(got) != 1 {
		t.Fatalf("expected 1 match after two identical events reaching min_count=2, got %d", len(got))
	}
}

func TestMaxCountExceededResetsWithoutEmitting(t *testing.T) {
	// min_count deliberately greater than max_count so the count can cross
	// max_count before ever satisfying min_count, exercising the §4.5 step
	// 5 reset-without-emit path described as a boundary in §8.
	restore := patterns.SetTableForTest([]patterns.Pattern{
		singleStepPattern("flood_disqualified", 10, 3, 1_000_000_000, 100, true),
	})
	defer restore()

	var got []MatchResult
	eng := New(newFakeResolver(), 0, func(m MatchResult) { got = append(got, m) })

	for i := int64(0); i < 4; i++ {
		eng.ProcessEvent(ev(1, 100, 1000+i))
	}

	if len(got) != 0 {
		t.Fatalf("expected no match once max_count exceeded, got %d", len(got))
	}

	track := eng.tracks[1]
	slot := track.Progress[patterns.Table[0].ID]
	if slot.CurrentStepMatchCount != 0 {
		t.Fatalf("expected progress to reset to 0 after exceeding max_count, got %d", slot.CurrentStepMatchCount)
	}
}

func TestWindowExactBoundaryIsWithinWindow(t *testing.T) {
	restore := patterns.SetTableForTest([]patterns.Pattern{
		{
			Name:     "two_step_window",
			Severity: patterns.SeverityMedium,
			WindowNs: 1000,
			Steps: []patterns.Step{
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 10}, MinCount: 1},
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 11}, MinCount: 1, Terminal: true},
			},
		},
	})
	defer restore()

	var got []MatchResult
	eng := New(newFakeResolver(), 0, func(m MatchResult) { got = append(got, m) })

	eng.ProcessEvent(ev(1, 10, 0))
	eng.ProcessEvent(ev(1, 11, 1000)) // ts_diff == window_ns exactly

	if len(got) != 1 {
		t.Fatalf("expected exact-boundary window to count as within window, got %d matches", len(got))
	}
}

func TestWindowExceededResetsAndRetriesAgainstStepZero(t *testing.T) {
	restore := patterns.SetTableForTest([]patterns.Pattern{
		{
			Name:     "reopens_on_window_expiry",
			Severity: patterns.SeverityMedium,
			WindowNs: 1000,
			Steps: []patterns.Step{
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 10}, MinCount: 1},
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 10, HasClass: false}, MinCount: 1, Terminal: true},
			},
		},
	})
	defer restore()

	var got []MatchResult
	eng := New(newFakeResolver(), 0, func(m MatchResult) { got = append(got, m) })

	eng.ProcessEvent(ev(1, 10, 0))    // advances to step 1
	eng.ProcessEvent(ev(1, 10, 5000)) // window blown; retried fresh against step 0

	if len(got) != 0 {
		t.Fatalf("retry-against-step-0 should re-arm step 0, not terminate on step 1's syscall, got %d matches", len(got))
	}

	track := eng.tracks[1]
	slot := track.Progress[patterns.Table[0].ID]
	if slot.CurrentStepIndex != 1 {
		t.Fatalf("expected the retried event to have advanced to step 1, got step %d", slot.CurrentStepIndex)
	}
}

func TestMaxDistanceExceededResets(t *testing.T) {
	restore := patterns.SetTableForTest([]patterns.Pattern{
		{
			Name:     "tight_distance",
			Severity: patterns.SeverityMedium,
			WindowNs: 1_000_000_000,
			Steps: []patterns.Step{
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 10}, MinCount: 1},
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 20}, MinCount: 1, MaxDistance: 100, Terminal: true},
			},
		},
	})
	defer restore()

	var got []MatchResult
	eng := New(newFakeResolver(), 0, func(m MatchResult) { got = append(got, m) })

	eng.ProcessEvent(ev(1, 10, 0))
	eng.ProcessEvent(ev(1, 20, 10_000)) // far beyond max_distance_ns=100

	if len(got) != 0 {
		t.Fatalf("expected no match when max_distance_ns exceeded, got %d", len(got))
	}
}

func TestWhitelistDisablesTrackPermanently(t *testing.T) {
	restore := patterns.SetTableForTest([]patterns.Pattern{
		{
			Name:                  "whitelisted",
			Severity:              patterns.SeverityHigh,
			WindowNs:              1_000_000_000,
			WhitelistProcessNames: []string{"trusted"},
			Steps: []patterns.Step{
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 100}, MinCount: 1, Terminal: true},
			},
		},
	})
	defer restore()

	r := newFakeResolver()
	r.byPID[1] = procmeta.Metadata{PID: 1, Basename: "trusted", ExecPath: "/usr/bin/trusted"}

	var got []MatchResult
	eng := New(r, 0, func(m MatchResult) { got = append(got, m) })

	eng.ProcessEvent(ev(1, 100, 0))

	if len(got) != 0 {
		t.Fatalf("expected whitelisted track to never emit, got %d matches", len(got))
	}
}

func TestNotifyExitDestroysTrackProgress(t *testing.T) {
	restore := patterns.SetTableForTest([]patterns.Pattern{
		singleStepPattern("after_exit", 1, 0, 1_000_000_000, 100, true),
	})
	defer restore()

	var got []MatchResult
	eng := New(newFakeResolver(), 0, func(m MatchResult) { got = append(got, m) })

	eng.NotifyExit(1)
	eng.ProcessEvent(ev(1, 100, 0))

	if len(got) != 1 {
		t.Fatalf("a fresh event after exit should start a brand new track, got %d matches", len(got))
	}

	// Now prove exit really does wipe state: arm step 0 on a two-step
	// pattern, exit, then feed the terminal syscall — it must not
	// "continue" a track that no longer exists.
	restore2 := patterns.SetTableForTest([]patterns.Pattern{
		{
			Name:     "two_step",
			Severity: patterns.SeverityHigh,
			WindowNs: 1_000_000_000,
			Steps: []patterns.Step{
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 10}, MinCount: 1},
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 20}, MinCount: 1, Terminal: true},
			},
		},
	})
	defer restore2()

	var got2 []MatchResult
	eng2 := New(newFakeResolver(), 0, func(m MatchResult) { got2 = append(got2, m) })
	eng2.ProcessEvent(ev(2, 10, 0))
	eng2.NotifyExit(2)
	eng2.ProcessEvent(ev(2, 20, 1))

	if len(got2) != 0 {
		t.Fatalf("expected no match for pid whose track was destroyed by exit, got %d", len(got2))
	}
}

func TestMatchResultPatternPointerIsIntoGlobalTable(t *testing.T) {
	restore := patterns.SetTableForTest([]patterns.Pattern{
		singleStepPattern("pointer_check", 1, 0, 1_000_000_000, 100, true),
	})
	defer restore()

	var got []MatchResult
	eng := New(newFakeResolver(), 0, func(m MatchResult) { got = append(got, m) })

	eng.ProcessEvent(ev(1, 100, 0))

	if len(got) != 1 {
		t.Fatalf("expected 1 match, got %d", len(got))
	}
	if got[0].Pattern != &patterns.Table[0] {
		t.Fatalf("MatchResult.Pattern must point into patterns.Table, got a different address")
	}
}

func TestEvictionProtectsInFlightTracks(t *testing.T) {
	restore := patterns.SetTableForTest([]patterns.Pattern{
		{
			Name:     "slow_two_step",
			Severity: patterns.SeverityMedium,
			WindowNs: 1_000_000_000_000, // effectively unbounded for this test
			Steps: []patterns.Step{
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 10}, MinCount: 1},
				{Match: patterns.StepMatch{HasSyscallNr: true, SyscallNr: 20}, MinCount: 1, Terminal: true},
			},
		},
	})
	defer restore()

	eng := New(newFakeResolver(), 2, func(MatchResult) {})

	eng.ProcessEvent(ev(1, 10, 0)) // pid 1: in-flight, past step 0
	eng.ProcessEvent(ev(2, 99, 1)) // pid 2: idle, never matched anything
	eng.ProcessEvent(ev(3, 99, 2)) // pid 3: forces eviction over cap=2

	if _, ok := eng.tracks[1]; !ok {
		t.Fatalf("in-flight track for pid 1 must survive eviction")
	}
	if eng.EvictedCount() != 1 {
		t.Fatalf("expected exactly one eviction, got %d", eng.EvictedCount())
	}
}

func TestClassifierMonitoredSyscalls(t *testing.T) {
	nrs := classify.MonitoredSyscalls([]uint32{41, 42}, []classify.Class{classify.FDDup})
	if _, ok := nrs[41]; !ok {
		t.Fatalf("expected concrete syscall 41 in monitored set")
	}
	if _, ok := nrs[32]; !ok { // dup
		t.Fatalf("expected class-expanded dup syscall in monitored set")
	}
}
