// Package dispatch executes operator commands on a resolved server, either
// as a local process group or over SSH, with a wall-clock limit and
// bounded output capture.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iksnae/claude-relay/internal"
)

// Dispatcher runs a command against a target server
type Dispatcher interface {
	Execute(ctx context.Context, target internal.ServerEntry, command string) (*internal.DispatchResult, error)
}

// Options bound every execution
type Options struct {
	Timeout         time.Duration
	MaxOutputBytes  int
	KnownHostsPath  string
	InsecureHostKey bool
	Shell           string
}

// OptionsFromConfig derives dispatch limits from the hub configuration
func OptionsFromConfig(c internal.CentralConfig) Options {
	return Options{
		Timeout:         c.CommandTimeout(),
		MaxOutputBytes:  c.OutputLimit(),
		KnownHostsPath:  c.KnownHostsPath,
		InsecureHostKey: c.InsecureHostKey,
	}
}

func (o Options) timeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return internal.DefaultCommandTimeout
}

func (o Options) outputLimit() int {
	if o.MaxOutputBytes > 0 {
		return o.MaxOutputBytes
	}
	return internal.DefaultMaxOutputBytes
}

func (o Options) shell() string {
	if o.Shell != "" {
		return o.Shell
	}
	return "/bin/sh"
}

// Router sends local targets to the process executor and remote targets
// over SSH
type Router struct {
	mu     sync.RWMutex
	opts   Options
	local  *Local
	remote *Remote
}

// New creates a Router
func New(opts Options) *Router {
	return &Router{
		opts:   opts,
		local:  NewLocal(),
		remote: NewRemote(),
	}
}

// Configure replaces the limits used by subsequent executions
func (r *Router) Configure(opts Options) {
	r.mu.Lock()
	r.opts = opts
	r.mu.Unlock()
}

// Options returns the active limits
func (r *Router) Options() Options {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.opts
}

// Execute runs command on target. The timeout starts here and applies on
// top of whatever deadline ctx already carries.
func (r *Router) Execute(ctx context.Context, target internal.ServerEntry, command string) (*internal.DispatchResult, error) {
	opts := r.Options()
	id := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	internal.LogDebug("dispatch %s: %s on %s (%s)", id, command, target.ID, target.Type)
	started := time.Now()

	var (
		result *internal.DispatchResult
		err    error
	)
	switch target.Type {
	case internal.ServerLocal:
		result, err = r.local.Execute(ctx, opts, target, command)
	case internal.ServerRemote:
		result, err = r.remote.Execute(ctx, opts, target, command)
	default:
		err = &internal.DispatchError{
			Kind:   internal.ErrUnreachableHost,
			Target: target.ID,
			Err:    fmt.Errorf("unsupported server type %q", target.Type),
		}
	}

	if err != nil {
		internal.LogInfo("dispatch %s: %s failed after %s: %v", id, target.ID, time.Since(started).Round(time.Millisecond), err)
	} else {
		internal.LogInfo("dispatch %s: %s exit 0 in %s", id, target.ID, result.Duration.Round(time.Millisecond))
	}
	return result, err
}

// Close releases cached SSH connections
func (r *Router) Close() error {
	return r.remote.Close()
}
