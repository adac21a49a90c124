package engine

import (
	"github.com/guardianshield/grimoire/internal/classify"
	"github.com/guardianshield/grimoire/internal/oracle"
	"github.com/guardianshield/grimoire/internal/patterns"
)

// evaluateConstraints reports whether every constraint in step holds
// against event (logical AND, per §4.3). An empty constraint list always
// holds.
func evaluateConstraints(reader ArgReader, p *patterns.Pattern, step *patterns.Step, event *oracle.SyscallEvent) bool {
	for _, c := range step.Constraints {
		if !evaluateOne(reader, p, c, event) {
			return false
		}
	}
	return true
}

func evaluateOne(reader ArgReader, p *patterns.Pattern, c patterns.ArgConstraint, event *oracle.SyscallEvent) bool {
	if c.ArgIndex < 0 || c.ArgIndex > 5 {
		return false
	}
	arg := event.Args[c.ArgIndex]

	switch c.Op {
	case patterns.OpEquals:
		return arg == c.Value
	case patterns.OpNotEquals:
		return arg != c.Value
	case patterns.OpGreaterThan:
		return arg > c.Value
	case patterns.OpLessThan:
		return arg < c.Value
	case patterns.OpBitmaskSet:
		return arg&c.Value == c.Value
	case patterns.OpBitmaskClear:
		return arg&c.Value == 0
	case patterns.OpPathPrefix:
		if c.PathPrefixIdx < 0 || c.PathPrefixIdx >= len(p.PathPrefixes) {
			return false
		}
		return resolvePathPrefix(reader, event.PID, arg, p.PathPrefixes[c.PathPrefixIdx])
	default:
		return false
	}
}

// matchesStep reports whether event satisfies step's syscall-identity
// match: an exact syscall_nr, a class mask, or either.
func matchesStep(step *patterns.Step, event *oracle.SyscallEvent) bool {
	class := classify.Of(event.SyscallNr)
	if step.Match.HasSyscallNr && step.Match.SyscallNr == event.SyscallNr {
		return true
	}
	if step.Match.HasClass && step.Match.Class&class != 0 {
		return true
	}
	return false
}
