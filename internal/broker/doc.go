// Package broker defines the payment broker the chat service depends on and
// the funding policy applied before every paid request.
//
// The broker owns the ledger, request signing and response verification.
// This service only calls it: Gateway is a JSON-over-HTTP client for a broker
// gateway sidecar, and anything else satisfying Broker can be swapped in.
package broker
