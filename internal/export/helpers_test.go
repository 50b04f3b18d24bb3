package export

import (
	"time"

	"github.com/iksnae/claude-relay/internal"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleSessions() []*internal.Session {
	cmdAt := testNow.Add(-time.Minute)
	return []*internal.Session{
		{
			ServerID:      "kr4",
			ServerNumber:  1,
			Project:       "infra",
			Token:         "abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234",
			Status:        internal.StatusCompleted,
			CreatedAt:     testNow.Add(-2 * time.Hour),
			LastSeenAt:    testNow.Add(-5 * time.Minute),
			LastCommand:   "git status",
			LastCommandAt: &cmdAt,
		},
		{
			ServerID:     "gpu1",
			ServerNumber: 3,
			Project:      "train|eval",
			Token:        "ffff0000ffff0000ffff0000ffff0000ffff0000ffff0000ffff0000ffff0000",
			Status:       internal.StatusRunning,
			CreatedAt:    testNow.Add(-30 * time.Second),
			LastSeenAt:   testNow.Add(-30 * time.Second),
		},
	}
}
