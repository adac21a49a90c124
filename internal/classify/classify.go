// Package classify maps raw Linux syscall numbers to the behavioral classes
// the pattern engine reasons about. Numbers are x86_64 syscall numbers; the
// table is built once at package init and never mutated.
package classify

// Class is a bitmask grouping of syscall numbers by behavioral category.
type Class uint32

const (
	Network       Class = 1 << iota // socket, connect, bind, accept, sendto, recvfrom, ...
	FileRead                        // open, openat, read, pread64, readv
	FileWrite                       // write, pwrite64, writev, ftruncate
	ProcessCreate                   // clone, fork, vfork, execve, execveat
	FDDup                           // dup, dup2, dup3
	Privilege                       // setuid, setgid, setreuid, setresuid, capset
	KernelModule                   // init_module, finit_module, delete_module
	MemoryMap                      // mmap, mremap, mprotect
)

// x86_64 syscall numbers relevant to the seeded patterns. Unlisted syscalls
// classify to zero and never match a class-based step.
const (
	sysRead          = 0
	sysWrite         = 1
	sysOpen          = 2
	sysClose         = 3
	sysMmap          = 9
	sysMprotect      = 10
	sysMremap        = 25
	sysIoctl         = 16
	sysPread64       = 17
	sysPwrite64      = 18
	sysReadv         = 19
	sysWritev        = 20
	sysDup           = 32
	sysDup2          = 33
	sysSocket        = 41
	sysConnect       = 42
	sysAccept        = 43
	sysSendto        = 44
	sysRecvfrom      = 45
	sysBind          = 49
	sysClone         = 56
	sysFork          = 57
	sysVfork         = 58
	sysExecve        = 59
	sysFtruncate     = 77
	sysSetuid        = 105
	sysSetgid        = 106
	sysSetreuid      = 113
	sysSetregid      = 114
	sysInitModule    = 175
	sysDeleteModule  = 176
	sysSetresuid     = 117
	sysSetresgid     = 119
	sysOpenat        = 257
	sysDup3          = 292
	sysFinitModule   = 313
	sysExecveat      = 322
	sysCapset        = 126
)

var table = map[uint32]Class{
	sysOpen:         FileRead,
	sysOpenat:       FileRead,
	sysRead:         FileRead,
	sysPread64:      FileRead,
	sysReadv:        FileRead,

	sysWrite:        FileWrite,
	sysPwrite64:     FileWrite,
	sysWritev:       FileWrite,
	sysFtruncate:    FileWrite,

	sysClone:    ProcessCreate,
	sysFork:     ProcessCreate,
	sysVfork:    ProcessCreate,
	sysExecve:   ProcessCreate,
	sysExecveat: ProcessCreate,

	sysDup:  FDDup,
	sysDup2: FDDup,
	sysDup3: FDDup,

	sysSocket:   Network,
	sysConnect:  Network,
	sysBind:     Network,
	sysAccept:   Network,
	sysSendto:   Network,
	sysRecvfrom: Network,

	sysSetuid:    Privilege,
	sysSetgid:    Privilege,
	sysSetreuid:  Privilege,
	sysSetregid:  Privilege,
	sysSetresuid: Privilege,
	sysSetresgid: Privilege,
	sysCapset:    Privilege,

	sysInitModule:   KernelModule,
	sysFinitModule:  KernelModule,
	sysDeleteModule: KernelModule,

	sysMmap:     MemoryMap,
	sysMremap:   MemoryMap,
	sysMprotect: MemoryMap,
}

// Of returns the bitmask of behavioral classes a syscall number belongs to.
// A syscall absent from the table classifies to zero.
func Of(syscallNr uint32) Class {
	return table[syscallNr]
}

// Has reports whether class c includes any of the bits in want.
func Has(c, want Class) bool {
	return c&want != 0
}

// MonitoredSyscalls returns the set of syscall numbers the producer must
// pre-filter on: the union of every concrete syscall_nr appearing in
// patterns, plus the full expansion of every class in classes.
func MonitoredSyscalls(concreteNrs []uint32, classes []Class) map[uint32]struct{} {
	out := make(map[uint32]struct{}, len(concreteNrs)+len(table))
	for _, nr := range concreteNrs {
		out[nr] = struct{}{}
	}
	for _, want := range classes {
		for nr, c := range table {
			if c&want != 0 {
				out[nr] = struct{}{}
			}
		}
	}
	return out
}
