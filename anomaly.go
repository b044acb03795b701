package authcore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/halaqah/authcore/session"
)

// AnomalyReport summarizes suspicious patterns in one user's active sessions.
type AnomalyReport struct {
	Suspicious      bool     `json:"suspicious"`
	SuspiciousCount int      `json:"suspicious_count"`
	Reasons         []string `json:"reasons"`
}

// DetectAnomalies applies the threshold rules to records. Inactive records are ignored.
// Each rule fires when its count is strictly greater than the threshold:
//
//	sessions  > MaxSessions  "too many active sessions: N"
//	IPs       > MaxIPs       "multiple IP addresses: N"
//	devices   > MaxDevices   "multiple devices: N"
func DetectAnomalies(records []session.Record, cfg AnomalyConfig) AnomalyReport {
	active := 0
	ips := make(map[string]struct{})
	devices := make(map[string]struct{})
	for i := range records {
		if !records[i].Active {
			continue
		}
		active++
		ips[records[i].IP] = struct{}{}
		devices[records[i].DeviceFingerprint] = struct{}{}
	}

	report := AnomalyReport{Reasons: []string{}}
	if active > cfg.MaxSessions {
		report.Reasons = append(report.Reasons, fmt.Sprintf("too many active sessions: %d", active))
	}
	if len(ips) > cfg.MaxIPs {
		report.Reasons = append(report.Reasons, fmt.Sprintf("multiple IP addresses: %d", len(ips)))
	}
	if len(devices) > cfg.MaxDevices {
		report.Reasons = append(report.Reasons, fmt.Sprintf("multiple devices: %d", len(devices)))
	}
	report.SuspiciousCount = len(report.Reasons)
	report.Suspicious = report.SuspiciousCount > 0
	return report
}

// DetectAnomalies lists the user's active sessions and evaluates them with the configured
// thresholds.
func (e *Engine) DetectAnomalies(ctx context.Context, userID string) (AnomalyReport, error) {
	records, err := e.ListActiveSessions(ctx, userID)
	if err != nil {
		return AnomalyReport{Reasons: []string{}}, err
	}
	return e.AnalyzeSessions(ctx, userID, records), nil
}

// AnalyzeSessions evaluates records already listed for userID with the configured
// thresholds. A suspicious report is counted and logged.
func (e *Engine) AnalyzeSessions(ctx context.Context, userID string, records []SessionRecord) AnomalyReport {
	report := DetectAnomalies(records, e.config.Anomaly)
	if report.Suspicious {
		e.metricInc(MetricAnomalyDetected)
		e.logger.LogAttrs(ctx, slog.LevelWarn, "session anomaly detected",
			slog.String("user_id", userID),
			slog.Int("reasons", report.SuspiciousCount),
		)
	}
	return report
}
