// Package session runs the pull side of the compute protocol. A Manager
// alternates between CONNECT, where it opens a session and fetches the
// published task, and INTERACT, where it reports the running task's state
// and follows the service's instructions. A new task replaces the running
// one on a fresh worker once the old worker has exited.
//
// When resuming in place would be unsafe (the service restarted, or it
// published a task this build cannot run alongside the current one), Run
// returns ErrRestartRequired and leaves the relaunch to a supervisor.
package session
