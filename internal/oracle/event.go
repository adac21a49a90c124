// Package oracle is the grimoire-oracle eBPF producer and its ring-buffer
// consumer: it loads the raw_syscalls/sys_enter tracepoint program, resolves
// host-namespace PIDs for container processes, and hands decoded
// SyscallEvent values to the pattern engine.
package oracle

import (
	"encoding/binary"
	"fmt"
)

// SyscallEvent mirrors the ring-buffer record emitted by the eBPF program,
// field for field: syscall_nr (u32) | pid (u32, host) | timestamp_ns (u64) |
// args[6] (u64) | ns_inum (u32) | _pad (u32). The narrative size note in the
// data model ("64-byte layout") predates the explicit padding field added to
// the wire-format table; this type follows the wire-format table literally
// since it is the more specific of the two.
type SyscallEvent struct {
	SyscallNr   uint32
	PID         uint32 // host-namespace PID
	TimestampNs uint64
	Args        [6]uint64
	NsInum      uint32
	_           uint32 // padding, matches the eBPF-side struct layout

	// Degraded is set when the producer could not resolve a host-namespace
	// PID (ns_current_pid_tgid unavailable on this kernel) and fell back to
	// the naive, container-local PID. Not part of the wire record; stamped
	// by the consumer from the one-time kernel-version probe in Loader.Load.
	Degraded bool
}

// wireSize is the byte length of the on-wire record as laid out above.
const wireSize = 4 + 4 + 8 + 6*8 + 4 + 4 // 72

// ExitNotificationNr is the sentinel syscall_nr value the sched_process_exit
// tracepoint program stamps on the record it emits when a traced process
// exits. No real syscall table entry uses it; the consumer routes a record
// carrying it to track eviction instead of the pattern engine.
const ExitNotificationNr = 0xffffffff

// DecodeEvent parses one ring-buffer record into a SyscallEvent. Little
// endian per the wire format.
func DecodeEvent(raw []byte) (SyscallEvent, error) {
	var e SyscallEvent
	if len(raw) < wireSize {
		return e, fmt.Errorf("oracle: short ring-buffer record: got %d bytes, want %d", len(raw), wireSize)
	}

	e.SyscallNr = binary.LittleEndian.Uint32(raw[0:4])
	e.PID = binary.LittleEndian.Uint32(raw[4:8])
	e.TimestampNs = binary.LittleEndian.Uint64(raw[8:16])
	for i := 0; i < 6; i++ {
		off := 16 + i*8
		e.Args[i] = binary.LittleEndian.Uint64(raw[off : off+8])
	}
	e.NsInum = binary.LittleEndian.Uint32(raw[64:68])
	return e, nil
}
