// Package chat runs the conversation send cycle against a paid inference
// provider.
//
// A Session holds one conversation and its transient UI state. The
// Orchestrator drives a single send through acknowledgement, optional live
// price enrichment, account funding, the completion request and response
// verification, recording the outcome on the Session. Failures that end a
// cycle are reported as *Error values whose Kind selects the message shown
// to the user.
package chat
