// Package alertlog writes the append-only, newline-delimited JSON alert log
// described in §4.6/§6.
package alertlog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/guardianshield/grimoire/internal/enforce"
	"github.com/guardianshield/grimoire/internal/patterns"
)

// stepEntry is one element of the "steps" array in the alert JSON schema.
type stepEntry struct {
	SyscallNr uint32 `json:"syscall_nr"`
	TimestampNs int64 `json:"ts_ns"`
}

// entry is the exact field set from §6's alert JSON schema.
type entry struct {
	Timestamp  string      `json:"ts"`
	PatternID  string      `json:"pattern_id"`
	PatternName string     `json:"pattern_name"`
	Severity   string      `json:"severity"`
	PID        uint32      `json:"pid"`
	NsInum     uint32      `json:"ns_inum"`
	Container  bool        `json:"container"`
	Binary     string      `json:"binary"`
	Action     enforce.Action `json:"action"`
	Steps      []stepEntry `json:"steps"`
}

// Log is the append-only alert log file handle.
type Log struct {
	f *os.File
}

// Open opens path for append, creating it (and its parent directory is
// assumed to already exist, matching the teacher's deploy convention of a
// pre-created /var/log/guardian directory).
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("alertlog: open %s: %w", path, err)
	}
	return &Log{f: f}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	if l.f == nil {
		return nil
	}
	return l.f.Close()
}

// Record is the match record passed in from the engine plus the
// enforcement outcome, decoupled from engine.MatchResult to avoid this
// package depending on engine.
type Record struct {
	Pattern      *patterns.Pattern
	PID          uint32
	NsInum       uint32
	Container    bool
	BinaryPath   string
	Action       enforce.Action
	StepTrace    []StepObservation
	OccurredAt   time.Time
}

// StepObservation mirrors engine.StepObservation without importing engine.
type StepObservation struct {
	SyscallNr   uint32
	TimestampNs int64
}

// Write appends one JSON object for r, newline-delimited. Writes are
// flock'd exclusive per call and, because each serialized line stays well
// under PIPE_BUF for the pattern/step counts this engine supports, the
// single write(2) call is atomic.
func (l *Log) Write(r Record) error {
	steps := make([]stepEntry, len(r.StepTrace))
	for i, s := range r.StepTrace {
		steps[i] = stepEntry{SyscallNr: s.SyscallNr, TimestampNs: s.TimestampNs}
	}

	e := entry{
		Timestamp:   r.OccurredAt.UTC().Format(time.RFC3339),
		PatternID:   fmt.Sprintf("0x%x", r.Pattern.ID),
		PatternName: r.Pattern.Name,
		Severity:    r.Pattern.Severity.String(),
		PID:         r.PID,
		NsInum:      r.NsInum,
		Container:   r.Container,
		Binary:      r.BinaryPath,
		Action:      r.Action,
		Steps:       steps,
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("alertlog: marshal entry: %w", err)
	}
	line = append(line, '\n')

	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("alertlog: flock: %w", err)
	}
	defer unix.Flock(int(l.f.Fd()), unix.LOCK_UN)

	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("alertlog: write: %w", err)
	}
	return nil
}
