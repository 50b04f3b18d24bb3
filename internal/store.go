package internal

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultIdempotencyWindow is how long a reporter retry with the same
// idempotency key is folded into the original session.
const DefaultIdempotencyWindow = 10 * time.Minute

const sessionColumns = `server_id, server_number, project, token, status, idempotency_key,
	created_at, last_seen_at, last_command, last_command_at`

// NewSession is the input to CreateOrTouch
type NewSession struct {
	ServerID       string
	Project        string
	Status         SessionStatus
	IdempotencyKey string
}

// SessionStore persists sessions in SQLite. Writes are serialized through
// a mutex; a writable store also holds an exclusive lock file so only one
// process owns the database at a time.
type SessionStore struct {
	db       *sql.DB
	path     string
	lock     *FileLock
	readOnly bool

	mu  sync.Mutex
	now func() time.Time

	IdempotencyWindow time.Duration
}

// OpenSessionStore opens the database for writing, creating it if needed
func OpenSessionStore(path string) (*SessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, &StoreError{Path: path, Op: "open", Err: err}
	}
	lock, err := TryLock(path + ".lock")
	if err != nil {
		return nil, &StoreError{Path: path, Op: "lock", Err: err}
	}
	db, err := OpenDatabaseRW(path)
	if err != nil {
		lock.Unlock()
		return nil, &StoreError{Path: path, Op: "open", Err: err}
	}
	return &SessionStore{
		db:                db,
		path:              path,
		lock:              lock,
		now:               time.Now,
		IdempotencyWindow: DefaultIdempotencyWindow,
	}, nil
}

// OpenSessionStoreReadOnly opens an existing database for listing while
// another process may own it
func OpenSessionStoreReadOnly(path string) (*SessionStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &StoreError{Path: path, Op: "open", Err: err}
	}
	db, err := OpenDatabase(path)
	if err != nil {
		return nil, &StoreError{Path: path, Op: "open", Err: err}
	}
	return &SessionStore{db: db, path: path, readOnly: true, now: time.Now}, nil
}

// Path returns the database file path
func (s *SessionStore) Path() string {
	return s.path
}

// Close closes the database and releases the owner lock
func (s *SessionStore) Close() error {
	err := s.db.Close()
	if lockErr := s.lock.Unlock(); err == nil {
		err = lockErr
	}
	return err
}

// Ping checks that the database is reachable
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &StoreError{Path: s.path, Op: "ping", Err: err}
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&n); err != nil {
		return &StoreError{Path: s.path, Op: "ping", Err: err}
	}
	return nil
}

// CreateSession allocates the next number for serverID and persists a new
// session with a fresh token.
func (s *SessionStore) CreateSession(ctx context.Context, serverID, project string, status SessionStatus) (*Session, error) {
	sess, _, err := s.CreateOrTouch(ctx, NewSession{ServerID: serverID, Project: project, Status: status})
	return sess, err
}

// CreateOrTouch creates a session unless req carries an idempotency key
// already seen for the same server inside the window, in which case the
// existing session is touched and returned with created=false.
func (s *SessionStore) CreateOrTouch(ctx context.Context, req NewSession) (*Session, bool, error) {
	if err := s.writable("create"); err != nil {
		return nil, false, err
	}
	if req.ServerID == "" {
		return nil, false, errors.New("server id is required")
	}
	if req.Status == "" {
		req.Status = StatusCompleted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()

	if req.IdempotencyKey != "" {
		existing, err := s.findByIdempotencyKey(ctx, req.ServerID, req.IdempotencyKey, now.Add(-s.IdempotencyWindow))
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			if err := s.touchLocked(ctx, existing.ServerID, existing.ServerNumber, now); err != nil {
				return nil, false, err
			}
			existing.LastSeenAt = time.UnixMilli(now.UnixMilli()).UTC()
			return existing, false, nil
		}
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, false, &StoreError{Path: s.path, Op: "create", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, &StoreError{Path: s.path, Op: "create", Err: err}
	}
	defer tx.Rollback()

	var number int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO server_counters (server_id, last_number) VALUES (?, 1)
		ON CONFLICT (server_id) DO UPDATE SET last_number = last_number + 1
		RETURNING last_number`, req.ServerID).Scan(&number)
	if err != nil {
		return nil, false, &StoreError{Path: s.path, Op: "create", Err: fmt.Errorf("allocate number: %w", err)}
	}

	var idemKey sql.NullString
	if req.IdempotencyKey != "" {
		idemKey = sql.NullString{String: req.IdempotencyKey, Valid: true}
	}
	ms := now.UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (server_id, server_number, project, token, status, idempotency_key, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ServerID, number, req.Project, token, string(req.Status), idemKey, ms, ms)
	if err != nil {
		return nil, false, &StoreError{Path: s.path, Op: "create", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, false, &StoreError{Path: s.path, Op: "create", Err: err}
	}

	created := time.UnixMilli(ms).UTC()
	LogDebug("Created session %s:%d (project=%q token=%s)", req.ServerID, number, req.Project, RedactToken(token))
	return &Session{
		ServerID:       req.ServerID,
		ServerNumber:   number,
		Project:        req.Project,
		Token:          token,
		Status:         req.Status,
		CreatedAt:      created,
		LastSeenAt:     created,
		IdempotencyKey: req.IdempotencyKey,
	}, true, nil
}

func (s *SessionStore) findByIdempotencyKey(ctx context.Context, serverID, key string, since time.Time) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE server_id = ? AND idempotency_key = ? AND created_at >= ?
		ORDER BY id DESC LIMIT 1`, serverID, key, since.UnixMilli())
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreError{Path: s.path, Op: "lookup", Err: err}
	}
	return sess, nil
}

// GetSession returns the session or an error wrapping ErrNotFound
func (s *SessionStore) GetSession(ctx context.Context, serverID string, serverNumber int64) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE server_id = ? AND server_number = ?`, serverID, serverNumber)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s:%d", ErrNotFound, serverID, serverNumber)
	}
	if err != nil {
		return nil, &StoreError{Path: s.path, Op: "get", Err: err}
	}
	return sess, nil
}

// ListSessions returns every session in creation order
func (s *SessionStore) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY id`)
	if err != nil {
		return nil, &StoreError{Path: s.path, Op: "list", Err: err}
	}
	defer rows.Close()

	sessions := make([]*Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, &StoreError{Path: s.path, Op: "list", Err: err}
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Path: s.path, Op: "list", Err: err}
	}
	return sessions, nil
}

// Count returns the number of stored sessions
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, &StoreError{Path: s.path, Op: "count", Err: err}
	}
	return n, nil
}

// Touch updates lastSeenAt. Token and number are never modified.
func (s *SessionStore) Touch(ctx context.Context, serverID string, serverNumber int64) error {
	if err := s.writable("touch"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touchLocked(ctx, serverID, serverNumber, s.now().UTC())
}

func (s *SessionStore) touchLocked(ctx context.Context, serverID string, serverNumber int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = ? WHERE server_id = ? AND server_number = ?`,
		now.UnixMilli(), serverID, serverNumber)
	if err != nil {
		return &StoreError{Path: s.path, Op: "touch", Err: err}
	}
	return requireOneRow(res, serverID, serverNumber)
}

// RecordCommand stores the last command dispatched against a session
func (s *SessionStore) RecordCommand(ctx context.Context, serverID string, serverNumber int64, command string) error {
	if err := s.writable("record"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_command = ?, last_command_at = ?
		WHERE server_id = ? AND server_number = ?`,
		command, s.now().UTC().UnixMilli(), serverID, serverNumber)
	if err != nil {
		return &StoreError{Path: s.path, Op: "record", Err: err}
	}
	return requireOneRow(res, serverID, serverNumber)
}

// Expire deletes sessions last seen before cutoff. Number counters are
// kept so expired numbers are never handed out again.
func (s *SessionStore) Expire(ctx context.Context, cutoff time.Time) (int, error) {
	if err := s.writable("expire"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, &StoreError{Path: s.path, Op: "expire", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StoreError{Path: s.path, Op: "expire", Err: err}
	}
	return int(n), nil
}

func (s *SessionStore) writable(op string) error {
	if s.readOnly {
		return &StoreError{Path: s.path, Op: op, Err: errors.New("store opened read-only")}
	}
	return nil
}

func requireOneRow(res sql.Result, serverID string, serverNumber int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s:%d", ErrNotFound, serverID, serverNumber)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		sess          Session
		status        string
		idemKey       sql.NullString
		createdAt     int64
		lastSeenAt    int64
		lastCommand   sql.NullString
		lastCommandAt sql.NullInt64
	)
	if err := row.Scan(&sess.ServerID, &sess.ServerNumber, &sess.Project, &sess.Token, &status, &idemKey,
		&createdAt, &lastSeenAt, &lastCommand, &lastCommandAt); err != nil {
		return nil, err
	}
	sess.Status = SessionStatus(status)
	sess.IdempotencyKey = idemKey.String
	sess.CreatedAt = time.UnixMilli(createdAt).UTC()
	sess.LastSeenAt = time.UnixMilli(lastSeenAt).UTC()
	sess.LastCommand = lastCommand.String
	if lastCommandAt.Valid {
		t := time.UnixMilli(lastCommandAt.Int64).UTC()
		sess.LastCommandAt = &t
	}
	return &sess, nil
}

// GenerateToken returns 32 random bytes, hex encoded
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
