// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - WebSocket session state, subscriptions and pending acks
//   - Inbound frame rates, unroutable frames and callback failures
//   - Reconnect attempts and ack latencies
//   - Recorder batch flushes and relay publishes
//
// All Collector methods are safe on a nil receiver so components can run
// without metrics.
package metrics
