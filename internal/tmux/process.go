package tmux

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// GetPanePID returns the PID of the process running in a pane, or 0 when
// the pane does not exist.
func GetPanePID(socket, paneID string) int {
	out, err := run(socket, "display-message", "-t", paneID, "-p", "#{pane_pid}")
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(out)
	if err != nil {
		return 0
	}
	return pid
}

// IsProcessAlive checks whether a process with the given PID exists.
// kill(pid, 0) checks existence without delivering a signal.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// ProcessStartTime returns the start timestamp of a process as reported
// by ps. The string is opaque; it is only compared for equality.
func ProcessStartTime(pid int) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("invalid pid %d", pid)
	}
	out, err := exec.Command("ps", "-o", "lstart=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return "", fmt.Errorf("ps lstart for pid %d: %w", pid, err)
	}
	start := strings.TrimSpace(string(out))
	if start == "" {
		return "", fmt.Errorf("no start time for pid %d", pid)
	}
	return start, nil
}

// VerifyPID reports whether the process with the given PID is alive AND
// still the same process that recorded startTime. The OS recycles PIDs,
// so a bare existence check can mistake an unrelated process for a dead
// worker. Any lookup failure is treated as not-verified (fail-closed).
func VerifyPID(pid int, startTime string) bool {
	if !IsProcessAlive(pid) {
		return false
	}
	if startTime == "" {
		return false
	}
	current, err := ProcessStartTime(pid)
	if err != nil {
		return false
	}
	return current == startTime
}

// GetDescendantPIDs returns all descendant PIDs of the given PID,
// recursively, using pgrep -P.
func GetDescendantPIDs(pid int) []int {
	if pid <= 0 {
		return nil
	}
	out, err := exec.Command("pgrep", "-P", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil
	}

	var descendants []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		childPID, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		descendants = append(descendants, childPID)
		descendants = append(descendants, GetDescendantPIDs(childPID)...)
	}
	return descendants
}

// KillProcessTree sends SIGKILL to a process and all its descendants,
// deepest children first to avoid orphaning.
func KillProcessTree(pid int) {
	if pid <= 0 {
		return
	}

	descendants := GetDescendantPIDs(pid)
	for i := len(descendants) - 1; i >= 0; i-- {
		if IsProcessAlive(descendants[i]) {
			_ = syscall.Kill(descendants[i], syscall.SIGKILL)
		}
	}
	if IsProcessAlive(pid) {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}

// WaitForProcessExit polls until the PID exits or the timeout elapses.
// Returns true if the process exited within the timeout.
func WaitForProcessExit(pid int, timeout time.Duration) bool {
	if pid <= 0 || !IsProcessAlive(pid) {
		return true
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			return !IsProcessAlive(pid)
		case <-ticker.C:
			if !IsProcessAlive(pid) {
				return true
			}
		}
	}
}
