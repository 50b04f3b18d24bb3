package internal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/claude-relay/testutil"
)

func openTestStore(t *testing.T) *SessionStore {
	t.Helper()
	store, err := OpenSessionStore(filepath.Join(testutil.CreateTempDir(t), "sessions.db"))
	if err != nil {
		t.Fatalf("OpenSessionStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeClock lets tests move time forward deterministically
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestCreateSession_Numbering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first, err := store.CreateSession(ctx, "kr4", "infra", StatusCompleted)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if first.ServerNumber != 1 {
		t.Errorf("first ServerNumber = %d, want 1", first.ServerNumber)
	}
	if len(first.Token) < 32 {
		t.Errorf("token length = %d, want >= 32", len(first.Token))
	}

	second, err := store.CreateSession(ctx, "kr4", "infra", StatusCompleted)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if second.ServerNumber != 2 {
		t.Errorf("second ServerNumber = %d, want 2", second.ServerNumber)
	}
	if second.Token == first.Token {
		t.Error("tokens must be unique per session")
	}

	other, err := store.CreateSession(ctx, "gpu1", "ml", StatusRunning)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if other.ServerNumber != 1 {
		t.Errorf("numbering must be per server, got %d", other.ServerNumber)
	}
}

func TestCreateSession_ConcurrentNumbersAreContiguous(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const perServer = 40
	servers := []string{"kr4", "gpu1"}

	var mu sync.Mutex
	got := map[string][]int64{}
	var wg sync.WaitGroup
	for _, id := range servers {
		for i := 0; i < perServer; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				sess, err := store.CreateSession(ctx, id, "burst", StatusCompleted)
				if err != nil {
					t.Errorf("CreateSession(%s) error = %v", id, err)
					return
				}
				mu.Lock()
				got[id] = append(got[id], sess.ServerNumber)
				mu.Unlock()
			}(id)
		}
	}
	wg.Wait()

	for _, id := range servers {
		numbers := got[id]
		sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
		if len(numbers) != perServer {
			t.Fatalf("%s: got %d numbers, want %d", id, len(numbers), perServer)
		}
		for i, n := range numbers {
			if n != int64(i+1) {
				t.Fatalf("%s: numbers not contiguous from 1: %v", id, numbers)
			}
		}
	}
}

func TestGetSession_TokenStableAcrossTouch(t *testing.T) {
	store := openTestStore(t)
	clock := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	store.now = clock.Now
	ctx := context.Background()

	created, err := store.CreateSession(ctx, "kr4", "infra", StatusCompleted)
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		clock.Advance(time.Minute)
		if err := store.Touch(ctx, "kr4", created.ServerNumber); err != nil {
			t.Fatalf("Touch() error = %v", err)
		}
	}

	got, err := store.GetSession(ctx, "kr4", created.ServerNumber)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Token != created.Token {
		t.Errorf("token changed: %q -> %q", created.Token, got.Token)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", created.CreatedAt, got.CreatedAt)
	}
	if want := created.CreatedAt.Add(3 * time.Minute); !got.LastSeenAt.Equal(want) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, want)
	}
	if got.Project != "infra" || got.Status != StatusCompleted {
		t.Errorf("unexpected session: %+v", got)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.GetSession(ctx, "kr4", 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession() error = %v, want ErrNotFound", err)
	}
	if err := store.Touch(ctx, "kr4", 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch() error = %v, want ErrNotFound", err)
	}
	if err := store.RecordCommand(ctx, "kr4", 999, "ls"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordCommand() error = %v, want ErrNotFound", err)
	}
}

func TestListSessions_CreationOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	empty, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty list, got %d", len(empty))
	}

	order := []string{"kr4", "gpu1", "kr4", "build"}
	for _, id := range order {
		if _, err := store.CreateSession(ctx, id, "p", StatusCompleted); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	want := []string{"kr4:1", "gpu1:1", "kr4:2", "build:1"}
	if len(sessions) != len(want) {
		t.Fatalf("len = %d, want %d", len(sessions), len(want))
	}
	for i, sess := range sessions {
		if sess.Address() != want[i] {
			t.Errorf("sessions[%d] = %s, want %s", i, sess.Address(), want[i])
		}
	}
}

func TestCreateOrTouch_Idempotency(t *testing.T) {
	store := openTestStore(t)
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store.now = clock.Now
	ctx := context.Background()

	req := NewSession{ServerID: "kr4", Project: "infra", Status: StatusCompleted, IdempotencyKey: "evt-1"}
	first, created, err := store.CreateOrTouch(ctx, req)
	if err != nil || !created {
		t.Fatalf("CreateOrTouch() = %v, created=%v", err, created)
	}

	clock.Advance(30 * time.Second)
	retry, created, err := store.CreateOrTouch(ctx, req)
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if created {
		t.Error("retry with same key inside the window must not create a session")
	}
	if retry.ServerNumber != first.ServerNumber || retry.Token != first.Token {
		t.Errorf("retry returned %s, want %s", retry.Address(), first.Address())
	}
	if !retry.LastSeenAt.After(first.LastSeenAt) {
		t.Error("retry should touch lastSeenAt")
	}

	// Same key on a different server is a different event.
	otherServer, created, err := store.CreateOrTouch(ctx, NewSession{ServerID: "gpu1", IdempotencyKey: "evt-1"})
	if err != nil || !created || otherServer.ServerNumber != 1 {
		t.Errorf("other server: %+v created=%v err=%v", otherServer, created, err)
	}

	clock.Advance(DefaultIdempotencyWindow + time.Minute)
	late, created, err := store.CreateOrTouch(ctx, req)
	if err != nil {
		t.Fatalf("late retry error = %v", err)
	}
	if !created || late.ServerNumber != 2 {
		t.Errorf("key outside the window should create kr4:2, got %s created=%v", late.Address(), created)
	}
}

func TestRecordCommand(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	sess, _ := store.CreateSession(ctx, "kr4", "infra", StatusCompleted)
	if err := store.RecordCommand(ctx, "kr4", sess.ServerNumber, "git status"); err != nil {
		t.Fatalf("RecordCommand() error = %v", err)
	}
	got, _ := store.GetSession(ctx, "kr4", sess.ServerNumber)
	if got.LastCommand != "git status" || got.LastCommandAt == nil {
		t.Errorf("last command not recorded: %+v", got)
	}
	if got.Token != sess.Token || got.ServerNumber != sess.ServerNumber {
		t.Error("RecordCommand must not change identity")
	}
}

func TestExpire_NumbersNeverReused(t *testing.T) {
	store := openTestStore(t)
	clock := &fakeClock{now: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	store.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.CreateSession(ctx, "kr4", "p", StatusCompleted); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(48 * time.Hour)
	if err := store.Touch(ctx, "kr4", 3); err != nil {
		t.Fatal(err)
	}

	n, err := store.Expire(ctx, clock.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Expire() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Expire() removed %d, want 2", n)
	}

	next, err := store.CreateSession(ctx, "kr4", "p", StatusCompleted)
	if err != nil {
		t.Fatal(err)
	}
	if next.ServerNumber != 4 {
		t.Errorf("number after expiry = %d, want 4", next.ServerNumber)
	}
}

func TestOpenSessionStore_SingleWriter(t *testing.T) {
	path := filepath.Join(testutil.CreateTempDir(t), "sessions.db")
	first, err := OpenSessionStore(path)
	if err != nil {
		t.Fatalf("OpenSessionStore() error = %v", err)
	}

	_, err = OpenSessionStore(path)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("second writer error = %v, want ErrStoreUnavailable", err)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	again, err := OpenSessionStore(path)
	if err != nil {
		t.Fatalf("reopen after Close() error = %v", err)
	}
	again.Close()
}

func TestOpenSessionStore_Unavailable(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := OpenSessionStore(filepath.Join(blocker, "sessions.db"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("error = %v, want ErrStoreUnavailable", err)
	}
}

func TestOpenSessionStoreReadOnly(t *testing.T) {
	writer := openTestStore(t)
	ctx := context.Background()
	if _, err := writer.CreateSession(ctx, "kr4", "infra", StatusCompleted); err != nil {
		t.Fatal(err)
	}

	reader, err := OpenSessionStoreReadOnly(writer.Path())
	if err != nil {
		t.Fatalf("OpenSessionStoreReadOnly() error = %v", err)
	}
	defer reader.Close()

	sessions, err := reader.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("reader sees %d sessions, want 1", len(sessions))
	}
	if _, err := reader.CreateSession(ctx, "kr4", "x", StatusCompleted); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("write through read-only store error = %v, want ErrStoreUnavailable", err)
	}

	if _, err := OpenSessionStoreReadOnly(filepath.Join(testutil.CreateTempDir(t), "missing.db")); err == nil {
		t.Error("read-only open of a missing database should fail")
	}
}

func TestCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for want := 0; want <= 3; want++ {
		got, err := store.Count(ctx)
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if got != want {
			t.Errorf("Count() = %d, want %d", got, want)
		}
		if _, err := store.CreateSession(ctx, "kr4", "", StatusCompleted); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	store.Close()
	if _, err := store.Count(ctx); err == nil {
		t.Error("Count() on a closed store should fail")
	}
}

func TestStorePing(t *testing.T) {
	store := openTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
