package store

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/engramhq/engram/internal/domain"
)

// processLock is an exclusive-create PID file. Only one process may hold the
// database open; a second start fails fast instead of corrupting WAL state.
type processLock struct {
	path string
}

func acquireLock(path string) (*processLock, error) {
	if err := writeLockFile(path); err == nil {
		return &processLock{path: path}, nil
	} else if !errors.Is(err, os.ErrExist) {
		return nil, domain.Errorf(domain.KindStoreUnavailable, "create lock file: %v", err)
	}

	// A lock file exists. Reclaim it when the recorded process is gone.
	pid, readErr := readLockPID(path)
	if readErr == nil && pid > 0 && processAlive(pid) {
		return nil, domain.Errorf(domain.KindStoreUnavailable,
			"database locked by running process %d (%s)", pid, path)
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, domain.Errorf(domain.KindStoreUnavailable, "remove stale lock: %v", err)
	}
	if err := writeLockFile(path); err != nil {
		return nil, domain.Errorf(domain.KindStoreUnavailable, "reacquire lock: %v", err)
	}
	return &processLock{path: path}, nil
}

func writeLockFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (l *processLock) release() {
	if l == nil {
		return
	}
	_ = os.Remove(l.path)
}
