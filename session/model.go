package session

// Record is one active session of a user.
//
// Timestamps are milliseconds since the Unix epoch.
type Record struct {
	SessionID         string `json:"session_id"`
	UserID            string `json:"user_id"`
	DeviceFingerprint string `json:"device_fingerprint"`
	UserAgent         string `json:"user_agent"`
	IP                string `json:"ip"`
	CreatedAt         int64  `json:"created_at"`
	LastActivity      int64  `json:"last_activity"`
	Active            bool   `json:"active"`
}

func (r *Record) clone() *Record {
	c := *r
	return &c
}
