package internal

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ServerType distinguishes in-process execution from SSH execution
type ServerType string

const (
	ServerLocal  ServerType = "local"
	ServerRemote ServerType = "remote"
)

// SessionStatus is the reporter-supplied state of a unit of work
type SessionStatus string

const (
	StatusCompleted SessionStatus = "completed"
	StatusRunning   SessionStatus = "running"
	StatusFailed    SessionStatus = "failed"
)

// ParseSessionStatus validates a reporter status. An empty status means
// completed, which is what the Claude Code stop hook reports.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch SessionStatus(strings.ToLower(strings.TrimSpace(s))) {
	case "", StatusCompleted:
		return StatusCompleted, nil
	case StatusRunning:
		return StatusRunning, nil
	case StatusFailed:
		return StatusFailed, nil
	default:
		return "", fmt.Errorf("invalid status %q (want completed, running or failed)", s)
	}
}

// SSHConfig holds the connection parameters of a remote server
type SSHConfig struct {
	User    string `json:"user" yaml:"user"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	KeyPath string `json:"keyPath" yaml:"key_path"`
}

// ServerEntry is one declared execution host
type ServerEntry struct {
	ID       string     `json:"id" yaml:"id"`
	Alias    string     `json:"alias,omitempty" yaml:"alias,omitempty"`
	Type     ServerType `json:"type" yaml:"type"`
	Hostname string     `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	SSH      *SSHConfig `json:"ssh,omitempty" yaml:"ssh,omitempty"`
}

// DisplayName returns the alias, falling back to the id
func (s ServerEntry) DisplayName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.ID
}

// SSHAddress returns host:port for a remote entry
func (s ServerEntry) SSHAddress() string {
	port := 22
	if s.SSH != nil && s.SSH.Port > 0 {
		port = s.SSH.Port
	}
	return net.JoinHostPort(s.Hostname, strconv.Itoa(port))
}

// Session is one reported unit of work, addressed by serverId:serverNumber
type Session struct {
	ServerID       string        `json:"serverId" yaml:"server_id"`
	ServerNumber   int64         `json:"serverNumber" yaml:"server_number"`
	Project        string        `json:"project" yaml:"project"`
	Token          string        `json:"token" yaml:"token"`
	Status         SessionStatus `json:"status" yaml:"status"`
	CreatedAt      time.Time     `json:"createdAt" yaml:"created_at"`
	LastSeenAt     time.Time     `json:"lastSeenAt" yaml:"last_seen_at"`
	LastCommand    string        `json:"lastCommand,omitempty" yaml:"last_command,omitempty"`
	LastCommandAt  *time.Time    `json:"lastCommandAt,omitempty" yaml:"last_command_at,omitempty"`
	IdempotencyKey string        `json:"-" yaml:"-"`
}

// Address returns the operator-facing serverId:serverNumber reference
func (s *Session) Address() string {
	return Address{ServerID: s.ServerID, ServerNumber: s.ServerNumber}.String()
}

// Address identifies a session
type Address struct {
	ServerID     string
	ServerNumber int64
}

func (a Address) String() string {
	return a.ServerID + ":" + strconv.FormatInt(a.ServerNumber, 10)
}

// ParseAddress parses "serverId:serverNumber". The server id is kept
// case-sensitive; the number must be plain decimal digits and positive.
func ParseAddress(s string) (Address, error) {
	id, num, ok := strings.Cut(s, ":")
	if !ok {
		return Address{}, &AddressError{Input: s, Reason: "expected serverId:serverNumber"}
	}
	if id == "" {
		return Address{}, &AddressError{Input: s, Reason: "empty server id"}
	}
	if strings.ContainsAny(id, " \t\n") {
		return Address{}, &AddressError{Input: s, Reason: "server id contains whitespace"}
	}
	if num == "" {
		return Address{}, &AddressError{Input: s, Reason: "empty server number"}
	}
	for _, r := range num {
		if r < '0' || r > '9' {
			return Address{}, &AddressError{Input: s, Reason: "server number must be numeric"}
		}
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return Address{}, &AddressError{Input: s, Reason: "server number out of range"}
	}
	if n <= 0 {
		return Address{}, &AddressError{Input: s, Reason: "server number must be positive"}
	}
	return Address{ServerID: id, ServerNumber: n}, nil
}

// DispatchResult is the captured outcome of one command execution
type DispatchResult struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exitCode"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"durationNs"`
}
