package security

import (
	"strconv"
	"time"
)

// Report is a flat, loggable view of the active protections.
type Report struct {
	ProductionMode     bool          `json:"production_mode"`
	SigningAlgorithm   string        `json:"signing_algorithm"`
	TokenTTL           time.Duration `json:"token_ttl"`
	SessionCap         int           `json:"session_cap"`
	SessionCapActive   bool          `json:"session_cap_active"`
	MaxInactive        time.Duration `json:"max_inactive"`
	IPMismatchPolicy   string        `json:"ip_mismatch_policy"`
	RateLimitingActive bool          `json:"rate_limiting_active"`
	AuthRateLimit      string        `json:"auth_rate_limit"`
	CSRFActive         bool          `json:"csrf_active"`
	CSRFOneTimeUse     bool          `json:"csrf_one_time_use"`
	AuditActive        bool          `json:"audit_active"`
	DistributedStore   bool          `json:"distributed_store"`
	Warnings           []string      `json:"warnings"`
}

// ReportInput carries the configuration values the report is derived from.
type ReportInput struct {
	ProductionMode   bool
	SigningAlgorithm string
	TokenTTL         time.Duration
	MaxPerUser       int
	MaxInactive      time.Duration
	IPMismatchPolicy string
	RateLimitEnabled bool
	AuthLimit        int
	AuthWindow       time.Duration
	CSRFEnabled      bool
	CSRFOneTimeUse   bool
	AuditEnabled     bool
	RedisBacked      bool
}

// BuildReport derives a Report and flags risky combinations.
func BuildReport(in ReportInput) Report {
	r := Report{
		ProductionMode:     in.ProductionMode,
		SigningAlgorithm:   in.SigningAlgorithm,
		TokenTTL:           in.TokenTTL,
		SessionCap:         in.MaxPerUser,
		SessionCapActive:   in.MaxPerUser > 0,
		MaxInactive:        in.MaxInactive,
		IPMismatchPolicy:   in.IPMismatchPolicy,
		RateLimitingActive: in.RateLimitEnabled,
		CSRFActive:         in.CSRFEnabled,
		CSRFOneTimeUse:     in.CSRFEnabled && in.CSRFOneTimeUse,
		AuditActive:        in.AuditEnabled,
		DistributedStore:   in.RedisBacked,
		Warnings:           []string{},
	}
	if in.RateLimitEnabled {
		r.AuthRateLimit = formatBudget(in.AuthLimit, in.AuthWindow)
	}

	if in.ProductionMode {
		if !in.RateLimitEnabled {
			r.Warnings = append(r.Warnings, "rate limiting disabled in production")
		}
		if !in.CSRFEnabled {
			r.Warnings = append(r.Warnings, "csrf protection disabled in production")
		}
		if !in.RedisBacked {
			r.Warnings = append(r.Warnings, "in-memory stores lose sessions on restart")
		}
	}
	if in.MaxPerUser == 0 {
		r.Warnings = append(r.Warnings, "no per-user session cap")
	}
	if in.MaxInactive > in.TokenTTL {
		r.Warnings = append(r.Warnings, "inactivity window exceeds token lifetime")
	}
	return r
}

func formatBudget(limit int, window time.Duration) string {
	return strconv.Itoa(limit) + "/" + window.String()
}
