// Package prometheus renders engine metrics in the Prometheus text exposition format.
//
// [NewExporter] wraps an [authcore.Engine] and exposes an [net/http.Handler]. Counters are
// named authcore_*_total; the one histogram is authcore_verify_latency_seconds.
//
// # What this package must NOT do
//
//   - Register anything in a global registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
