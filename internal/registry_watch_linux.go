//go:build linux

package internal

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Watch reloads the registry whenever its file is rewritten in place or
// renamed over (the atomic-update path used by Update and external
// editors). It blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, onReload func(error)) error {
	if r.path == "" {
		return fmt.Errorf("registry has no backing file")
	}
	dir, name := filepath.Split(r.path)
	if dir == "" {
		dir = "."
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return fmt.Errorf("inotify_init1: %w", err)
	}
	defer unix.Close(fd)

	if _, err := unix.InotifyAddWatch(fd, dir, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO|unix.IN_CREATE); err != nil {
		return fmt.Errorf("inotify_add_watch on %s: %w", dir, err)
	}

	buffer := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil
		}

		// 200ms poll keeps the loop responsive to cancellation.
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 200)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			continue
		}

		count, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return fmt.Errorf("read inotify: %w", err)
		}
		if !eventsMention(buffer[:count], name) {
			continue
		}

		err = r.Reload()
		if err != nil {
			LogWarn("Registry reload failed, keeping previous config: %v", err)
		} else {
			LogInfo("Registry reloaded from %s (%d servers)", r.path, len(r.Servers()))
		}
		if onReload != nil {
			onReload(err)
		}
	}
}

func eventsMention(buf []byte, name string) bool {
	for offset := 0; offset+unix.SizeofInotifyEvent <= len(buf); {
		event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		nameStart := offset + unix.SizeofInotifyEvent
		nameEnd := nameStart + int(event.Len)
		if nameEnd > len(buf) {
			return false
		}
		if event.Len > 0 {
			eventName := string(bytes.TrimRight(buf[nameStart:nameEnd], "\x00"))
			if eventName == name {
				return true
			}
		}
		offset = nameEnd
	}
	return false
}
