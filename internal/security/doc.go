// Package security derives a posture report from engine configuration. The report is
// logged at startup and printed by the server's "report" command.
//
// # What this package must NOT do
//
//   - Read configuration from the environment; callers pass a ReportInput.
//   - Change behavior. It describes the configuration, it never enforces it.
package security
