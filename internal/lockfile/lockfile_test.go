package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireLockWritesHolder(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer lock.Release()

	h := ReadHolder(filepath.Join(dir, LockFileName))
	if h.PID != os.Getpid() || !h.Running || h.Started == "" {
		t.Errorf("holder = %+v", h)
	}
}

func TestAcquireLockConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	defer first.Release()

	_, err = AcquireLock(dir)
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("second AcquireLock err = %v, want *LockError", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("holder pid = %d", lockErr.Holder.PID)
	}
	if !strings.Contains(err.Error(), "running") {
		t.Errorf("error message = %q", err.Error())
	}
	// the failed attempt must not clobber the holder's details
	if h := ReadHolder(filepath.Join(dir, LockFileName)); h.PID != os.Getpid() {
		t.Errorf("lock file rewritten by loser: %+v", h)
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Errorf("lock file still present: %v", err)
	}

	again, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	again.Release()
}

func TestReadHolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lock")

	if h := ReadHolder(path); h.PID != 0 {
		t.Errorf("missing file holder = %+v", h)
	}
	if err := os.WriteFile(path, []byte("garbage\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if h := ReadHolder(path); h.PID != 0 || h.String() != "unknown process" {
		t.Errorf("garbage holder = %+v", h)
	}
	if err := os.WriteFile(path, []byte("pid=999999999\nstarted=2025-01-01T00:00:00Z\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := ReadHolder(path)
	if h.PID != 999999999 || h.Running || h.Started != "2025-01-01T00:00:00Z" {
		t.Errorf("stale holder = %+v", h)
	}
	if !strings.Contains(h.String(), "stale") {
		t.Errorf("String() = %q", h.String())
	}
}
