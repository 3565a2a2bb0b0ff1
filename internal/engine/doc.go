// Package engine provides the compute service's asynchronous task execution.
// It accepts serialized tasks, runs them in goroutines under a deadline,
// records their lifecycle in the store, and publishes results to streaming
// subscribers.
package engine
