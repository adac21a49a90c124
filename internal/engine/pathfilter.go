package engine

import (
	"os"

	"github.com/guardianshield/grimoire/internal/procmeta"
)

// maxPathRead bounds how much of the target process's memory we read when
// heuristically recovering a path-argument string; §3 bounds path/string
// predicates to 256 bytes.
const maxPathRead = 256

// ArgReader resolves a syscall argument pointer into the string it points at
// in the target process's address space. An interface — like
// MetadataResolver — so tests can fake remote-memory content instead of
// requiring a real process at the other end of /proc/<pid>/mem.
type ArgReader interface {
	// ReadString reads the NUL-terminated string at addr in pid's address
	// space. ok is false on any I/O error (process exited, EPERM, unmapped
	// address) or when addr is a null pointer.
	ReadString(pid uint32, addr uint64) (string, bool)
}

// procMemArgReader is the production ArgReader, reading /proc/<pid>/mem.
type procMemArgReader struct{}

func (procMemArgReader) ReadString(pid uint32, addr uint64) (string, bool) {
	return readRemoteString(pid, addr)
}

// resolvePathPrefix implements the path_prefix constraint (§4.3): it reads
// the syscall argument as a pointer into the target process's address space
// via reader, heuristically extracts a NUL-terminated string, and reports
// whether it matches prefix as containsPrefix defines it. /proc/<pid>/cwd is consulted so a
// relative path can be joined against the process's working directory. Any
// failure along the way is fail-closed: not satisfied.
func resolvePathPrefix(reader ArgReader, pid uint32, argPtr uint64, prefix string) bool {
	path, ok := reader.ReadString(pid, argPtr)
	if !ok {
		return false
	}
	if len(path) == 0 {
		return false
	}
	if !isAbsPath(path) {
		cwd, err := procmeta.CWD(pid)
		if err != nil {
			return false
		}
		path = joinPath(cwd, path)
	}
	return containsPrefix(path, prefix)
}

func isAbsPath(p string) bool {
	return len(p) > 0 && p[0] == '/'
}

func joinPath(base, rel string) string {
	if base == "" {
		return rel
	}
	if base[len(base)-1] == '/' {
		return base + rel
	}
	return base + "/" + rel
}

// containsPrefix treats prefix as satisfied either when it's a literal path
// prefix of p, or when it occurs anywhere in p as a plain substring, with no
// check of path-segment boundaries or of position at the end (covers
// patterns like ".ssh/id_rsa" or ".ko" matched against whatever directory
// the target process happened to open it from).
func containsPrefix(p, prefix string) bool {
	if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
		return true
	}
	for i := 0; i+len(prefix) <= len(p); i++ {
		if p[i:i+len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// readRemoteString reads up to maxPathRead bytes at addr from the target
// process's memory and returns the NUL-terminated string portion. Returns
// ok=false on any I/O error (process exited, EPERM, unmapped address).
func readRemoteString(pid uint32, addr uint64) (string, bool) {
	if addr == 0 {
		return "", false
	}
	f, err := os.OpenFile(procMemPath(pid), os.O_RDONLY, 0)
	if err != nil {
		return "", false
	}
	defer f.Close()

	buf := make([]byte, maxPathRead)
	n, err := f.ReadAt(buf, int64(addr))
	if err != nil && n == 0 {
		return "", false
	}
	buf = buf[:n]
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), true
		}
	}
	return string(buf), true
}

func procMemPath(pid uint32) string {
	return "/proc/" + itoa(pid) + "/mem"
}

func itoa(pid uint32) string {
	if pid == 0 {
		return "0"
	}
	var b [10]byte
	i := len(b)
	for pid > 0 {
		i--
		b[i] = byte('0' + pid%10)
		pid /= 10
	}
	return string(b[i:])
}
