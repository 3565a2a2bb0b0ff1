// Package tracing produces one span per inbound RPC at the compute service
// boundary and hands finished spans to a pluggable exporter. It also carries
// the client-side propagation of trace metadata between calls.
package tracing
