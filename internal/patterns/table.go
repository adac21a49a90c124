package patterns

import (
	"hash/fnv"

	"github.com/guardianshield/grimoire/internal/classify"
)

// Table is the immutable, process-lifetime global pattern table. It is
// populated once in seed.go's init() and never reallocated or mutated
// afterward, so taking the address of an element (&Table[i]) is always
// safe to hand out in a MatchResult.
var Table []Pattern

// byID indexes Table for lookups keyed by the stable id hash.
var byID map[uint64]*Pattern

// register appends p to Table after stamping a stable id hash derived from
// its name. It returns nothing; pointers into Table are taken after index()
// has run over the final slice.
func register(p Pattern) {
	if p.ID == 0 {
		p.ID = hashName(p.Name)
	}
	Table = append(Table, p)
}

// index rebuilds byID from the final Table; called once after all seed
// patterns have been registered, so every pointer into byID is stable.
func index() {
	byID = make(map[uint64]*Pattern, len(Table))
	for i := range Table {
		byID[Table[i].ID] = &Table[i]
	}
}

// ByID returns a pointer into the immutable Table, or nil if unknown.
func ByID(id uint64) *Pattern {
	return byID[id]
}

// SetTableForTest swaps Table for ps (stamping ids and rebuilding the
// index), returning a restore func that puts the original Table back. For
// use by engine tests that need to drive a single, hand-built pattern
// against the engine's boundary conditions without going through the
// seeded production patterns.
func SetTableForTest(ps []Pattern) (restore func()) {
	prevTable := Table
	prevByID := byID

	Table = nil
	for _, p := range ps {
		register(p)
	}
	index()

	return func() {
		Table = prevTable
		byID = prevByID
	}
}

// hashName derives a stable 64-bit id from a pattern name via FNV-1a.
func hashName(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}

// AllSyscallNumbers returns every concrete syscall_nr referenced by any
// step of any pattern in Table, for populating the monitored-syscalls map.
func AllSyscallNumbers() []uint32 {
	var out []uint32
	for _, p := range Table {
		for _, s := range p.Steps {
			if s.Match.HasSyscallNr {
				out = append(out, s.Match.SyscallNr)
			}
		}
	}
	return out
}

// AllClasses returns every syscall class referenced by any class-tagged
// step of any pattern in Table.
func AllClasses() []classify.Class {
	var out []classify.Class
	for _, p := range Table {
		for _, s := range p.Steps {
			if s.Match.HasClass {
				out = append(out, s.Match.Class)
			}
		}
	}
	return out
}
