// Package client connects the terminal clients to a profile's daemon,
// starting it when the socket does not answer.
package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
)

// DaemonBinary is the daemon executable name.
const DaemonBinary = "chatsyncd"

// Probe reports whether a daemon answers Status on socketPath.
func Probe(ctx context.Context, socketPath string) bool {
	if _, err := os.Stat(socketPath); err != nil {
		return false
	}
	c, err := api.Dial(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = c.Status(ctx)
	return err == nil
}

// StartDaemon launches chatsyncd for profile in the background. The binary
// is looked up next to the running executable first, then on PATH.
func StartDaemon(profile string, stderr io.Writer) error {
	bin := DaemonBinary
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), DaemonBinary)
		if _, err := os.Stat(sibling); err == nil {
			bin = sibling
		}
	}
	cmd := exec.Command(bin, "-profile", profile)
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", DaemonBinary, err)
	}
	return cmd.Process.Release()
}

// WaitForDaemon polls the daemon with a real Status call until it answers
// or timeout elapses.
func WaitForDaemon(ctx context.Context, socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if Probe(ctx, socketPath) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(300 * time.Millisecond):
		}
	}
	return false
}

// Connect returns a client for the profile's daemon. With autostart, a
// daemon that does not answer is launched and awaited.
func Connect(ctx context.Context, profile, socketPath string, autostart bool, stderr io.Writer) (*api.Client, error) {
	if !Probe(ctx, socketPath) {
		if !autostart {
			return nil, fmt.Errorf("daemon for profile %q is not running", profile)
		}
		_, _ = fmt.Fprintf(stderr, "daemon not running for profile %q, starting...\n", profile)
		if err := StartDaemon(profile, stderr); err != nil {
			return nil, err
		}
		if !WaitForDaemon(ctx, socketPath, 10*time.Second) {
			return nil, fmt.Errorf("daemon for profile %q did not become ready", profile)
		}
	}
	return api.Dial(socketPath)
}
