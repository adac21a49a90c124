package oracle

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/guardianshield/grimoire/internal/classify"
	"github.com/guardianshield/grimoire/internal/patterns"
)

const (
	// ringbufMapName is the BPF ring buffer map the producer reserves
	// SyscallEvent records into.
	ringbufMapName = "grimoire_events"
	// monitoredMapName is the pre-filter hash map (u32 syscall_nr -> u8),
	// populated once here, read-only thereafter from the kernel side.
	monitoredMapName = "grimoire_oracle_sys_enter"
	// droppedMapName is the single-counter array map the producer increments
	// on ring-buffer reservation failure (§4.1).
	droppedMapName = "grimoire_dropped"
	// progName is the tracepoint program attached to raw_syscalls/sys_enter.
	progName = "grimoire_oracle"
	// exitProgName is the tracepoint program attached to
	// sched/sched_process_exit, the process-exit notification path of §3.
	exitProgName = "grimoire_oracle_exit"

	// minRingBufSize is the floor from §6: ring buffer size must be >= 512
	// KiB and a power of two.
	minRingBufSize = 512 * 1024

	// minKernelMajor/minKernelMinor is the ns_current_pid_tgid floor from §6;
	// below this, host-PID resolution falls back to the naive tgid and every
	// event produced is degraded (container-local PID, not host PID).
	minKernelMajor = 5
	minKernelMinor = 7
)

// Loader owns the loaded BPF collection, its attached links, and the ring
// buffer reader built on top of it. Callers must call Close on shutdown.
type Loader struct {
	coll     *ebpf.Collection
	links    []link.Link
	reader   *ringbuf.Reader
	dropped  *ebpf.Map
	log      *logrus.Entry
	degraded bool
}

// Degraded reports whether the running kernel predates ns_current_pid_tgid
// (§4.1), meaning every decoded event carries an unresolved, container-local
// PID rather than a true host PID.
func (l *Loader) Degraded() bool { return l.degraded }

// Load loads the compiled grimoire-oracle ELF object from objPath, sizes the
// ring buffer map, populates the monitored-syscalls map from patterns.Table,
// attaches the sys_enter and sched_process_exit tracepoints, and opens the
// ring buffer reader. This mirrors the
// teacher's bpf.LoadTracepoints(objPath) call shape, but is implemented
// directly against the public cilium/ebpf API rather than a code-generated
// bindings package, since no build step runs in this environment.
func Load(objPath string, ringBufSize int, log *logrus.Entry) (*Loader, error) {
	if _, err := os.Stat(objPath); err != nil {
		return nil, fmt.Errorf("oracle: BPF object not found: %w", err)
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("oracle: remove memlock rlimit: %w", err)
	}

	spec, err := ebpf.LoadCollectionSpec(objPath)
	if err != nil {
		return nil, fmt.Errorf("oracle: load collection spec: %w", err)
	}

	if m, ok := spec.Maps[ringbufMapName]; ok {
		m.MaxEntries = roundUpPow2(uint32(ringBufSize))
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return nil, fmt.Errorf("oracle: load collection into kernel: %w", err)
	}

	l := &Loader{coll: coll, log: log, degraded: !kernelSupportsNsPidTgid()}
	if l.degraded {
		log.Warn("kernel predates ns_current_pid_tgid (<5.7); running in degraded host-PID mode")
	}

	if err := l.populateMonitoredSyscalls(); err != nil {
		l.Close()
		return nil, err
	}

	dm, ok := coll.Maps[droppedMapName]
	if !ok {
		l.Close()
		return nil, fmt.Errorf("oracle: dropped-events map %q missing from collection", droppedMapName)
	}
	l.dropped = dm

	prog, ok := coll.Programs[progName]
	if !ok {
		l.Close()
		return nil, fmt.Errorf("oracle: program %q missing from collection", progName)
	}
	tp, err := link.Tracepoint("raw_syscalls", "sys_enter", prog, nil)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("oracle: attach raw_syscalls/sys_enter: %w", err)
	}
	l.links = append(l.links, tp)

	exitProg, ok := coll.Programs[exitProgName]
	if !ok {
		l.Close()
		return nil, fmt.Errorf("oracle: program %q missing from collection", exitProgName)
	}
	exitTp, err := link.Tracepoint("sched", "sched_process_exit", exitProg, nil)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("oracle: attach sched/sched_process_exit: %w", err)
	}
	l.links = append(l.links, exitTp)

	m, ok := coll.Maps[ringbufMapName]
	if !ok {
		l.Close()
		return nil, fmt.Errorf("oracle: ring buffer map %q missing from collection", ringbufMapName)
	}
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("oracle: open ring buffer reader: %w", err)
	}
	l.reader = rd

	return l, nil
}

// populateMonitoredSyscalls writes the union of every syscall number
// appearing in patterns.Table (directly, or via class expansion) into the
// monitored-syscalls map, so the producer's pre-filter only forwards
// syscalls at least one loaded pattern cares about.
func (l *Loader) populateMonitoredSyscalls() error {
	m, ok := l.coll.Maps[monitoredMapName]
	if !ok {
		return fmt.Errorf("oracle: monitored-syscalls map %q missing from collection", monitoredMapName)
	}
	nrs := classify.MonitoredSyscalls(patterns.AllSyscallNumbers(), patterns.AllClasses())
	for nr := range nrs {
		if err := m.Put(nr, uint8(1)); err != nil {
			return fmt.Errorf("oracle: populate monitored syscall %d: %w", nr, err)
		}
	}
	l.log.WithField("count", len(nrs)).Info("populated monitored-syscalls map")
	return nil
}

// DroppedEvents reads the producer-side dropped-events counter (§4.1): a
// single BPF_MAP_TYPE_ARRAY cell incremented in the BPF program itself
// whenever a ring buffer reservation fails, distinct from (and expected to
// be far rarer than) any consumer-side read error. Returns 0, err on any
// map-lookup failure.
func (l *Loader) DroppedEvents() (uint64, error) {
	var count uint64
	if err := l.dropped.Lookup(uint32(0), &count); err != nil {
		return 0, fmt.Errorf("oracle: read dropped-events map: %w", err)
	}
	return count, nil
}

// Reader returns the ring buffer reader events are pulled from.
func (l *Loader) Reader() *ringbuf.Reader { return l.reader }

// Close closes the reader, detaches links, and unloads the collection, in
// that order, matching the teacher's close() lifecycle.
func (l *Loader) Close() {
	if l.reader != nil {
		_ = l.reader.Close()
	}
	for _, lk := range l.links {
		_ = lk.Close()
	}
	if l.coll != nil {
		l.coll.Close()
	}
}

// kernelSupportsNsPidTgid reports whether the running kernel's release
// version is at or above the ns_current_pid_tgid floor. Unparseable release
// strings (non-stock kernels with a suffixed version) are treated as
// supporting it, since the common case on any real deployment target is a
// distro kernel well past 5.7.
func kernelSupportsNsPidTgid() bool {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return true
	}
	release := unix.ByteSliceToString(uts.Release[:])
	major, minor, ok := parseKernelVersion(release)
	if !ok {
		return true
	}
	if major != minKernelMajor {
		return major > minKernelMajor
	}
	return minor >= minKernelMinor
}

// parseKernelVersion extracts the leading "major.minor" from a uname release
// string such as "6.8.0-40-generic" or "5.4.0-1103-aws".
func parseKernelVersion(release string) (major, minor int, ok bool) {
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	minorStr := parts[1]
	for i, r := range minorStr {
		if r < '0' || r > '9' {
			minorStr = minorStr[:i]
			break
		}
	}
	minor, err = strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, false
	}
	return major, minor, true
}

// roundUpPow2 rounds n up to the nearest power of two, floored at
// minRingBufSize.
func roundUpPow2(n uint32) uint32 {
	if n < minRingBufSize {
		n = minRingBufSize
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
