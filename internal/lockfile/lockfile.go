// Package lockfile keeps a single tutorbot process per state directory.
//
// The lock is an flock on a file inside the directory, so the kernel drops it
// when the process exits for any reason. The file itself only carries
// diagnostics for the next process that fails to acquire it.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "tutorbot.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Addr    string
	Started time.Time
	Running bool
}

func (o Owner) String() string {
	if o.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if o.Running {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", o.PID, state)
	if o.Addr != "" {
		s += " listening on " + o.Addr
	}
	if !o.Started.IsZero() {
		s += " since " + o.Started.Format(time.RFC3339)
	}
	return s
}

// AcquireLock takes an exclusive, non-blocking lock on stateDir, creating the
// directory if needed. addr is recorded for diagnostics and may be empty.
func AcquireLock(stateDir, addr string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Open without truncating so a failed attempt leaves the owner's details intact.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner := readOwner(lockPath)
		slog.Error("lockfile.AcquireLock: state directory is locked by another tutorbot", "lock_path", lockPath, "owner", owner.String(), "error", err)
		return nil, &LockError{LockPath: lockPath, Owner: owner, Cause: err}
	}

	info := fmt.Sprintf("pid=%d\naddr=%s\nstarted=%s\n", os.Getpid(), addr, time.Now().UTC().Format(time.RFC3339))
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: acquired", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

func writeInfo(file *os.File, info string) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile: failed to sync lock file", "error", err)
	}
	return nil
}

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a waiting process never sees our stale details.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: failed to remove lock file", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: failed to unlock", "lock_path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("lockfile.Release: released", "lock_path", l.path)
	return err
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("another tutorbot instance is using this state directory (lock %s held by %s); "+
		"remove the lock file only if that process is gone", e.LockPath, e.Owner)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func readOwner(lockPath string) Owner {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Owner{}
	}
	owner := parseOwner(string(data))
	if owner.PID > 0 {
		owner.Running = isProcessRunning(owner.PID)
	}
	return owner
}

// parseOwner reads the key=value lines written by AcquireLock. Unknown keys
// and malformed values are ignored.
func parseOwner(content string) Owner {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(val); err == nil && pid > 0 {
				o.PID = pid
			}
		case "addr":
			o.Addr = val
		case "started":
			if ts, err := time.Parse(time.RFC3339, val); err == nil {
				o.Started = ts
			}
		}
	}
	return o
}

// isProcessRunning sends signal 0, which checks for existence without delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
