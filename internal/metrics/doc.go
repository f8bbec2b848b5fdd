// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Send cycle outcomes by error kind
//   - Ticker API fetches (ok, error, cache hits)
//   - Inference request latency and response verification results
//   - Broker funding transfers
//   - HTTP request rates and latencies
package metrics
