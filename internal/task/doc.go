// Package task defines the unit of work exchanged between the offload client,
// the pull client and the compute service. A Task is a pure function of its
// input and an injected random source. Tasks are registered at compile time
// under a type name; the registry owns the typed (de)serialization of the
// versioned wire envelope so callers never inspect payloads reflectively.
package task
