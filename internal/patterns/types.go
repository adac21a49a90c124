// Package patterns holds the compile-time-constant attack signatures the
// engine matches against, plus their user-space side tables (whitelists,
// path-prefix lists) that are too large for the in-eBPF struct budget.
package patterns

import "github.com/guardianshield/grimoire/internal/classify"

// Severity ranks how dangerous a matched pattern is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Op is an argument-constraint operator.
type Op int

const (
	OpEquals Op = iota
	OpNotEquals
	OpGreaterThan
	OpLessThan
	OpBitmaskSet
	OpBitmaskClear
	OpPathPrefix
)

// ArgConstraint is a predicate over SyscallEvent.Args[ArgIndex].
type ArgConstraint struct {
	ArgIndex int
	Op       Op
	Value    uint64
	// PathPrefixIdx indexes into a pattern's PathPrefixes table when Op is
	// OpPathPrefix; ignored for all other operators.
	PathPrefixIdx int
}

// StepMatch discriminates how a Step recognizes a syscall: an exact number,
// a class mask, or both (either condition is sufficient).
type StepMatch struct {
	HasSyscallNr bool
	SyscallNr    uint32
	HasClass     bool
	Class        classify.Class
}

// Step is one element of a Pattern.
type Step struct {
	Match       StepMatch
	Constraints []ArgConstraint // AND'd, at most 4
	MinCount    uint32
	MaxCount    uint32 // 0 = unbounded
	MaxDistance int64  // nanoseconds; 0 = unbounded
	Terminal    bool
}

// Pattern is an immutable attack signature. Values live only in the
// package-level Table array (see table.go) — never copy a Pattern onto a
// transient stack and hand out its address; MatchResult must point into
// Table itself.
type Pattern struct {
	ID       uint64
	Name     string
	Severity Severity
	Steps    []Step
	WindowNs int64

	// Side tables, keyed by pattern identity, resolved in user space.
	WhitelistProcessNames []string
	WhitelistBinaryPaths  []string // exact or doublestar glob
	PathPrefixes          []string // indexed by ArgConstraint.PathPrefixIdx
}
