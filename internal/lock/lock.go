// Package lock keeps a second daemon from opening the same profile.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a profile directory.
const FileName = "LOCK"

// LockHeldError is returned when another process holds the profile lock.
type LockHeldError struct {
	Holder Info
	Path   string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("profile locked by PID %d since %s (%s)",
		e.Holder.PID, e.Holder.Started.Format(time.RFC3339), e.Path)
}

// Info is what the holder writes into the lock file.
type Info struct {
	PID     int
	Started time.Time
}

// Lock is an acquired profile lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on profileDir, creating it if needed.
func Acquire(profileDir string) (*Lock, error) {
	path := filepath.Join(profileDir, FileName)
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder, _ := Read(profileDir)
		_ = f.Close()
		return nil, &LockHeldError{Holder: holder, Path: path}
	}

	if err := writeInfo(f, Info{PID: os.Getpid(), Started: time.Now().UTC()}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\ntime=%s\n", info.PID, info.Started.Format(time.RFC3339))
	return err
}

// Read returns the holder recorded in profileDir's lock file. It does not
// check that the holder is still alive; use Held for that.
func Read(profileDir string) (Info, error) {
	f, err := os.Open(filepath.Join(profileDir, FileName))
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	var info Info
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(val)
		case "time":
			info.Started, _ = time.Parse(time.RFC3339, val)
		}
	}
	return info, sc.Err()
}

// Held reports whether a live process holds the lock of profileDir.
func Held(profileDir string) (bool, error) {
	f, err := os.OpenFile(filepath.Join(profileDir, FileName), os.O_RDWR, 0600)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return true, nil
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false, nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before closing so a waiting process never sees a stale holder.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
