package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/iksnae/claude-relay/internal"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	dialTimeout = 10 * time.Second
	// killGrace bounds how long a timed-out remote session may take to
	// acknowledge the kill before the channel is abandoned
	killGrace = 2 * time.Second
)

// Remote runs commands over SSH, caching one client per user@host:port
type Remote struct {
	mu      sync.Mutex
	clients map[string]*ssh.Client

	dialer net.Dialer
}

// NewRemote creates an SSH executor
func NewRemote() *Remote {
	return &Remote{clients: make(map[string]*ssh.Client)}
}

// Execute runs command on the remote target. A cached connection that
// fails to open a session is dropped and redialled once.
func (r *Remote) Execute(ctx context.Context, opts Options, target internal.ServerEntry, command string) (*internal.DispatchResult, error) {
	if target.SSH == nil || target.Hostname == "" {
		return nil, &internal.DispatchError{Kind: internal.ErrUnreachableHost, Target: target.ID, ExitCode: -1,
			Err: errors.New("remote server has no ssh configuration")}
	}

	session, err := r.openSession(ctx, opts, target)
	if err != nil {
		return nil, &internal.DispatchError{Kind: internal.ErrUnreachableHost, Target: target.ID, ExitCode: -1, Err: err}
	}
	defer session.Close()

	stdout := newCappedBuffer(opts.outputLimit())
	stderr := newCappedBuffer(opts.outputLimit())
	session.Stdout = stdout
	session.Stderr = stderr

	started := time.Now()
	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var runErr error
	timedOut := false
	select {
	case runErr = <-done:
	case <-ctx.Done():
		timedOut = true
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		select {
		case <-done:
		case <-time.After(killGrace):
		}
	}

	result := &internal.DispatchResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
		Duration:  time.Since(started),
	}

	if timedOut {
		result.ExitCode = -1
		return result, &internal.DispatchError{Kind: internal.ErrTimedOut, Target: target.ID, ExitCode: -1, Result: result, Err: ctx.Err()}
	}
	if runErr == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		return result, &internal.DispatchError{Kind: internal.ErrNonZeroExit, Target: target.ID, ExitCode: result.ExitCode, Result: result}
	}

	// The connection died mid-command (or the server sent no exit status);
	// forget it so the next call redials.
	r.drop(clientKey(target))
	result.ExitCode = -1
	return result, &internal.DispatchError{Kind: internal.ErrUnreachableHost, Target: target.ID, ExitCode: -1, Result: result, Err: runErr}
}

func (r *Remote) openSession(ctx context.Context, opts Options, target internal.ServerEntry) (*ssh.Session, error) {
	key := clientKey(target)

	client, cached, err := r.client(ctx, opts, target)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err == nil {
		return session, nil
	}
	if !cached {
		r.drop(key)
		return nil, fmt.Errorf("open session: %w", err)
	}

	internal.LogDebug("ssh %s: cached connection is dead (%v), redialling", key, err)
	r.drop(key)
	client, _, err = r.client(ctx, opts, target)
	if err != nil {
		return nil, err
	}
	session, err = client.NewSession()
	if err != nil {
		r.drop(key)
		return nil, fmt.Errorf("open session: %w", err)
	}
	return session, nil
}

// client returns the cached client for target or dials a new one
func (r *Remote) client(ctx context.Context, opts Options, target internal.ServerEntry) (*ssh.Client, bool, error) {
	key := clientKey(target)

	r.mu.Lock()
	if c, ok := r.clients[key]; ok {
		r.mu.Unlock()
		return c, true, nil
	}
	r.mu.Unlock()

	config, err := clientConfig(opts, target)
	if err != nil {
		return nil, false, err
	}

	addr := target.SSHAddress()
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := r.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("dial %s: %w", addr, err)
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(sshConn, chans, reqs)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[key]; ok {
		// Lost a dial race; keep the first connection.
		client.Close()
		return existing, true, nil
	}
	r.clients[key] = client
	internal.LogDebug("ssh %s: connected", key)
	return client, false, nil
}

func (r *Remote) drop(key string) {
	r.mu.Lock()
	c, ok := r.clients[key]
	delete(r.clients, key)
	r.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

// Close closes every cached connection
func (r *Remote) Close() error {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*ssh.Client)
	r.mu.Unlock()

	var errs []error
	for _, c := range clients {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func clientKey(target internal.ServerEntry) string {
	return target.SSH.User + "@" + target.SSHAddress()
}

func clientConfig(opts Options, target internal.ServerEntry) (*ssh.ClientConfig, error) {
	keyPath := internal.ExpandPath(target.SSH.KeyPath)
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", keyPath, err)
	}

	hostKeyCallback, err := hostKeyCallback(opts)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            target.SSH.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         dialTimeout,
	}, nil
}

func hostKeyCallback(opts Options) (ssh.HostKeyCallback, error) {
	if opts.InsecureHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := opts.KnownHostsPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(internal.ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return cb, nil
}
