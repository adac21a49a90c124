package procmeta

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadNsInumParsesTarget(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "pid")
	if err := os.Symlink("pid:[4026531836]", link); err != nil {
		t.Fatalf("symlink setup: %v", err)
	}

	inum, err := readNsInum(link)
	if err != nil {
		t.Fatalf("readNsInum: %v", err)
	}
	if inum != 4026531836 {
		t.Fatalf("expected inode 4026531836, got %d", inum)
	}
}

func TestReadNsInumRejectsMalformedTarget(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "pid")
	if err := os.Symlink("not-a-ns-link", link); err != nil {
		t.Fatalf("symlink setup: %v", err)
	}

	if _, err := readNsInum(link); err == nil {
		t.Fatalf("expected an error for a malformed ns link target")
	}
}

func TestReadNsInumMissingLinkIsNotExist(t *testing.T) {
	dir := t.TempDir()
	if _, err := readNsInum(filepath.Join(dir, "absent")); !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist, got %v", err)
	}
}

func TestResolveMissingProcessReturnsErrProcessExited(t *testing.T) {
	r := &Resolver{initPidNsInum: 4026531836}

	// PID 0 never has a /proc entry of its own; /proc/0/exe never exists on
	// a running Linux kernel, so this reliably exercises the not-exist path
	// without depending on any real process lifecycle.
	_, err := r.Resolve(0)
	if err != ErrProcessExited {
		t.Fatalf("expected ErrProcessExited, got %v", err)
	}
}
