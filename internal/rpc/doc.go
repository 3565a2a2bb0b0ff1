// Package rpc is the client side of the compute service. It issues
// Twirp-style JSON calls over HTTP, reads the server-sent result stream, and
// classifies failures into transport, protocol and status errors.
//
// Calls made under a context carrying a tracing.Propagator are stamped with
// the trace metadata headers.
package rpc
