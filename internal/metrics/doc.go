// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Active sessions and attached connections
//   - Frames routed and dropped, per side and type
//   - Lock grants, denials and releases
//   - Client reconnect attempts
package metrics
