// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state and reconnect interval
//   - Connect, disconnect, retry and error counts
//   - Message rates and bytes received
//   - Recorder buffer and drop counts (via gauge funcs)
package metrics
