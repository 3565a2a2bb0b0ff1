// Package offload runs tasks remotely on a compute service when it can and
// locally when it cannot. Each offload cycle applies exactly one result to
// the caller's state: the remote one if it arrives in time, otherwise the
// result of running the task in the calling goroutine.
package offload
