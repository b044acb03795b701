package authcore

import (
	"time"

	"github.com/halaqah/authcore/jwt"
	"github.com/halaqah/authcore/permission"
	"github.com/halaqah/authcore/session"
)

// Claims is the verified content of a session token.
type Claims = jwt.Claims

// SessionRecord is one active session as stored.
type SessionRecord = session.Record

// DeviceInfo describes the client a session is created for.
type DeviceInfo struct {
	UserAgent      string
	AcceptLanguage string
}

// SessionRequest carries an already-authenticated identity into CreateSession.
type SessionRequest struct {
	UserID string
	Role   permission.Role
	Email  string
	Device DeviceInfo
	IP     string
}

// SessionResult is returned by CreateSession.
type SessionResult struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
	// Evicted lists sessions removed to keep the user under the session cap.
	Evicted []string
}

// SweepResult counts what one Sweep removed.
type SweepResult struct {
	Sessions    int
	CSRFTokens  int
	RateWindows int
}

// RateDecision is the outcome of AllowRequest.
type RateDecision struct {
	Allowed    bool
	Class      string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int
}
