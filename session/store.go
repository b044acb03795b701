package session

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the requested session is absent or already inactive.
	ErrNotFound = errors.New("session not found")
	// ErrCorrupt is returned when a stored record cannot be decoded or does not belong to
	// the user it is filed under.
	ErrCorrupt = errors.New("session record corrupt")
	// ErrBackendUnavailable wraps failures of the underlying storage backend.
	ErrBackendUnavailable = errors.New("session backend unavailable")
)

// Store persists active session records grouped by user.
//
// Every operation on a single user is linearizable. Implementations must be safe for
// concurrent use.
type Store interface {
	// Insert adds rec as an active session. When maxPerUser > 0 and the user then holds
	// more than maxPerUser sessions, the least-recently-active sessions other than rec are
	// removed until the cap holds; their ids are returned.
	Insert(ctx context.Context, rec *Record, maxPerUser int) ([]string, error)
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, userID, sessionID string) (*Record, error)
	// Touch sets the session's last activity to at (epoch ms). It reports false when the
	// session does not exist.
	Touch(ctx context.Context, userID, sessionID string, at int64) (bool, error)
	// Delete removes one session and reports whether it existed.
	Delete(ctx context.Context, userID, sessionID string) (bool, error)
	// DeleteOthers removes every session of the user except keepSessionID.
	DeleteOthers(ctx context.Context, userID, keepSessionID string) (int, error)
	// DeleteAll removes every session of the user.
	DeleteAll(ctx context.Context, userID string) (int, error)
	// List returns the user's sessions ordered by last activity, most recent first.
	// Records that cannot be decoded are left out; the remaining records are then returned
	// together with an error wrapping ErrCorrupt.
	List(ctx context.Context, userID string) ([]Record, error)
	// Sweep removes every session whose last activity is older than cutoff (epoch ms).
	Sweep(ctx context.Context, cutoff int64) (int, error)
}

// evictionOrderLess orders records so that the least-recently-active come first. Ties
// fall back to the session id compared bytewise, which is how a Redis sorted set orders
// equal scores, so both stores evict the same record.
func evictionOrderLess(a, b *Record) bool {
	if a.LastActivity != b.LastActivity {
		return a.LastActivity < b.LastActivity
	}
	return a.SessionID < b.SessionID
}

func validateRecord(rec *Record) error {
	if rec == nil || rec.UserID == "" || rec.SessionID == "" {
		return errors.New("session record requires user id and session id")
	}
	return nil
}
