package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/jsonc"
)

var serverIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Defaults applied to the central section
const (
	DefaultWebhookPort      = 3000
	DefaultNotificationPort = 3001
	DefaultNgrokAPIURL      = "http://127.0.0.1:4040"
	DefaultCommandTimeout   = 60 * time.Second
	DefaultMaxOutputBytes   = 16 * 1024
)

// CentralConfig describes the hub itself
type CentralConfig struct {
	WebhookPort           int    `json:"webhookPort"`
	NotificationPort      int    `json:"notificationPort"`
	NgrokEnabled          bool   `json:"ngrokEnabled"`
	NgrokAPIURL           string `json:"ngrokApiUrl,omitempty"`
	BindAddress           string `json:"bindAddress,omitempty"`
	CommandTimeoutSeconds int    `json:"commandTimeoutSeconds,omitempty"`
	MaxOutputBytes        int    `json:"maxOutputBytes,omitempty"`
	KnownHostsPath        string `json:"knownHostsPath,omitempty"`
	InsecureHostKey       bool   `json:"insecureHostKey,omitempty"`
}

// CommandTimeout returns the dispatch wall-clock limit
func (c CentralConfig) CommandTimeout() time.Duration {
	if c.CommandTimeoutSeconds > 0 {
		return time.Duration(c.CommandTimeoutSeconds) * time.Second
	}
	return DefaultCommandTimeout
}

// OutputLimit returns the per-stream capture cap in bytes
func (c CentralConfig) OutputLimit() int {
	if c.MaxOutputBytes > 0 {
		return c.MaxOutputBytes
	}
	return DefaultMaxOutputBytes
}

// RegistryConfig is the on-disk shape of the server registry
type RegistryConfig struct {
	Central CentralConfig `json:"central"`
	Servers []ServerEntry `json:"servers"`
}

// ParseRegistry decodes JSON (comments and trailing commas allowed),
// applies defaults and validates the result.
func ParseRegistry(data []byte) (*RegistryConfig, error) {
	var cfg RegistryConfig
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *RegistryConfig) applyDefaults() {
	if c.Central.WebhookPort == 0 {
		c.Central.WebhookPort = DefaultWebhookPort
	}
	if c.Central.NotificationPort == 0 {
		c.Central.NotificationPort = DefaultNotificationPort
	}
	if c.Central.NgrokAPIURL == "" {
		c.Central.NgrokAPIURL = DefaultNgrokAPIURL
	}
	for i := range c.Servers {
		if s := c.Servers[i].SSH; s != nil && s.Port == 0 {
			s.Port = 22
		}
	}
}

// Validate checks id uniqueness and the local/remote shape of every entry
func (c *RegistryConfig) Validate() error {
	if c.Central.WebhookPort == c.Central.NotificationPort {
		return fmt.Errorf("webhookPort and notificationPort must differ (both %d)", c.Central.WebhookPort)
	}
	seen := make(map[string]bool, len(c.Servers))
	locals := 0
	for i, s := range c.Servers {
		if !serverIDPattern.MatchString(s.ID) {
			return fmt.Errorf("servers[%d]: id %q must be a lowercase token", i, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("servers[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true

		switch s.Type {
		case ServerLocal:
			locals++
			if s.SSH != nil {
				return fmt.Errorf("server %q: local servers must not declare ssh", s.ID)
			}
		case ServerRemote:
			if s.Hostname == "" {
				return fmt.Errorf("server %q: remote servers require hostname", s.ID)
			}
			if s.SSH == nil || s.SSH.User == "" || s.SSH.KeyPath == "" {
				return fmt.Errorf("server %q: remote servers require ssh.user and ssh.keyPath", s.ID)
			}
			if s.SSH.Port < 0 || s.SSH.Port > 65535 {
				return fmt.Errorf("server %q: invalid ssh port %d", s.ID, s.SSH.Port)
			}
		default:
			return fmt.Errorf("server %q: type must be local or remote, got %q", s.ID, s.Type)
		}
	}
	if locals > 1 {
		return fmt.Errorf("at most one local server may be declared, found %d", locals)
	}
	return nil
}

// Registry is the live, reloadable server registry. Readers get value
// copies so a reload never changes a target that was already resolved.
type Registry struct {
	path string

	mu       sync.RWMutex
	cfg      *RegistryConfig
	loadedAt time.Time
}

// LoadRegistry reads the registry file
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewRegistry wraps an in-memory config, mainly for tests
func NewRegistry(cfg *RegistryConfig) *Registry {
	cfg.applyDefaults()
	return &Registry{cfg: cfg, loadedAt: time.Now()}
}

// Path returns the backing file path ("" for in-memory registries)
func (r *Registry) Path() string {
	return r.path
}

// Reload re-reads the file. On error the previous snapshot stays active.
func (r *Registry) Reload() error {
	cfg, err := readRegistryFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.cfg = cfg
	r.loadedAt = time.Now()
	r.mu.Unlock()
	return nil
}

func readRegistryFile(path string) (*RegistryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	cfg, err := ParseRegistry(data)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// Central returns a copy of the hub settings
func (r *Registry) Central() CentralConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Central
}

// Server looks up an entry by id
func (r *Registry) Server(id string) (ServerEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.cfg.Servers {
		if s.ID == id {
			return copyEntry(s), true
		}
	}
	return ServerEntry{}, false
}

// Servers returns all entries sorted by id
func (r *Registry) Servers() []ServerEntry {
	r.mu.RLock()
	out := make([]ServerEntry, 0, len(r.cfg.Servers))
	for _, s := range r.cfg.Servers {
		out = append(out, copyEntry(s))
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadedAt returns when the active snapshot was installed
func (r *Registry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}

// Update performs a transactional read-modify-write of the registry file:
// it takes the registry lock, re-reads the file, applies fn, validates,
// writes a temp file and renames it into place. The in-memory snapshot is
// replaced only after the rename succeeds.
func (r *Registry) Update(fn func(cfg *RegistryConfig) error) error {
	if r.path == "" {
		return errors.New("registry has no backing file")
	}
	lock, err := Lock(r.path + ".lock")
	if err != nil {
		return &ConfigError{Path: r.path, Err: err}
	}
	defer lock.Unlock()

	cfg, err := readRegistryFile(r.path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Path: r.path, Err: err}
	}
	if err := writeFileAtomic(r.path, cfg); err != nil {
		return &ConfigError{Path: r.path, Err: err}
	}

	r.mu.Lock()
	r.cfg = cfg
	r.loadedAt = time.Now()
	r.mu.Unlock()
	return nil
}

// AddServer appends an entry, failing on a duplicate id
func (r *Registry) AddServer(entry ServerEntry) error {
	return r.Update(func(cfg *RegistryConfig) error {
		for _, s := range cfg.Servers {
			if s.ID == entry.ID {
				return fmt.Errorf("server %q already exists", entry.ID)
			}
		}
		cfg.Servers = append(cfg.Servers, entry)
		return nil
	})
}

// RemoveServer deletes an entry by id
func (r *Registry) RemoveServer(id string) error {
	return r.Update(func(cfg *RegistryConfig) error {
		for i, s := range cfg.Servers {
			if s.ID == id {
				cfg.Servers = append(cfg.Servers[:i], cfg.Servers[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("%w: %q", ErrUnknownServer, id)
	})
}

// WriteRegistry creates a registry file from scratch (used by setup and tests)
func WriteRegistry(path string, cfg *RegistryConfig) error {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	return writeFileAtomic(path, cfg)
}

func writeFileAtomic(path string, cfg *RegistryConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func copyEntry(s ServerEntry) ServerEntry {
	if s.SSH != nil {
		sshCopy := *s.SSH
		s.SSH = &sshCopy
	}
	return s
}
