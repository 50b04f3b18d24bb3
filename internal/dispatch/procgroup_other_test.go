//go:build !linux

package dispatch

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func waitGroupGone(t *testing.T, pgid int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := unix.Kill(-pgid, 0); errors.Is(err, unix.ESRCH) {
			return
		}
		if time.Now().After(deadline) {
			_ = killGroup(pgid)
			t.Fatalf("process group %d still exists", pgid)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func killGroup(pgid int) error {
	if pgid == 0 {
		return nil
	}
	return unix.Kill(-pgid, unix.SIGKILL)
}
