//go:build !linux

package internal

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Watch polls the registry file's modification time and reloads on change.
// It blocks until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context, onReload func(error)) error {
	if r.path == "" {
		return fmt.Errorf("registry has no backing file")
	}
	var last time.Time
	if info, err := os.Stat(r.path); err == nil {
		last = info.ModTime()
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		info, err := os.Stat(r.path)
		if err != nil || !info.ModTime().After(last) {
			continue
		}
		last = info.ModTime()

		err = r.Reload()
		if err != nil {
			LogWarn("Registry reload failed, keeping previous config: %v", err)
		} else {
			LogInfo("Registry reloaded from %s", r.path)
		}
		if onReload != nil {
			onReload(err)
		}
	}
}
