//go:build linux

package dispatch

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// liveGroupMembers lists non-zombie processes whose process group is pgid
func liveGroupMembers(pgid int) []int {
	entries, _ := filepath.Glob("/proc/[0-9]*/stat")
	var pids []int
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		// Fields after the parenthesised command: state ppid pgrp ...
		s := string(data)
		end := strings.LastIndexByte(s, ')')
		if end < 0 {
			continue
		}
		fields := strings.Fields(s[end+1:])
		if len(fields) < 3 || fields[0] == "Z" {
			continue
		}
		if g, err := strconv.Atoi(fields[2]); err == nil && g == pgid {
			pid, _ := strconv.Atoi(filepath.Base(filepath.Dir(path)))
			pids = append(pids, pid)
		}
	}
	return pids
}

func waitGroupGone(t *testing.T, pgid int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		members := liveGroupMembers(pgid)
		if len(members) == 0 {
			return
		}
		if time.Now().After(deadline) {
			_ = killGroup(pgid)
			t.Fatalf("process group %d still has live members %v", pgid, members)
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
