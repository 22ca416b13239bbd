package tmux

import (
	"os"
	"os/exec"
	"testing"
	"time"
)

func TestIsProcessAlive(t *testing.T) {
	if !IsProcessAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if IsProcessAlive(0) {
		t.Error("pid 0 should not be considered alive")
	}
	if IsProcessAlive(-1) {
		t.Error("negative pid should not be considered alive")
	}
}

func TestProcessStartTime(t *testing.T) {
	start, err := ProcessStartTime(os.Getpid())
	if err != nil {
		t.Fatalf("ProcessStartTime: %v", err)
	}
	if start == "" {
		t.Fatal("empty start time for live process")
	}

	// Stable across calls for the same process.
	again, err := ProcessStartTime(os.Getpid())
	if err != nil {
		t.Fatalf("ProcessStartTime second call: %v", err)
	}
	if start != again {
		t.Errorf("start time changed between calls: %q vs %q", start, again)
	}

	if _, err := ProcessStartTime(-1); err == nil {
		t.Error("expected error for invalid pid")
	}
}

func TestVerifyPID(t *testing.T) {
	start, err := ProcessStartTime(os.Getpid())
	if err != nil {
		t.Fatalf("ProcessStartTime: %v", err)
	}

	if !VerifyPID(os.Getpid(), start) {
		t.Error("live process with matching start time should verify")
	}
	if VerifyPID(os.Getpid(), "Mon Jan  1 00:00:00 1990") {
		t.Error("mismatched start time must fail closed")
	}
	if VerifyPID(os.Getpid(), "") {
		t.Error("empty recorded start time must fail closed")
	}
	if VerifyPID(-1, start) {
		t.Error("dead pid must not verify")
	}
}

func TestWaitForProcessExit(t *testing.T) {
	// Already-dead (invalid) pid returns immediately.
	if !WaitForProcessExit(-1, time.Second) {
		t.Error("invalid pid should report exited")
	}

	cmd := exec.Command("sleep", "0.1")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pid := cmd.Process.Pid
	// Reap in the background so the child does not linger as a zombie,
	// which kill(pid, 0) would still report as alive.
	go func() { _ = cmd.Wait() }()

	if !WaitForProcessExit(pid, 3*time.Second) {
		t.Error("short-lived process should exit within timeout")
	}
}

func TestSocketName(t *testing.T) {
	if got := SocketName("alpha"); got != "crewmux-alpha" {
		t.Errorf("SocketName = %q", got)
	}
}
