// Package transport owns the SSH connection to a remote scope and runs one
// command line at a time over it.
//
// [Connect] dials the endpoint, performs the SSH handshake under the dial
// timeout, and returns a [Conn]. Each [Conn.Exec] opens a fresh exec session,
// collects stdout and stderr, and reports the remote exit status in an
// [Outcome]. A command that ends without an exit status yields [StatusNone].
//
// # Cancellation
//
// SSH offers no reliable way to abort one remote command, so when ctx is done
// or the exec timeout elapses the whole connection is closed and later calls
// fail with [ErrClosed].
//
// # State
//
// Every connection reports its lifecycle to a [StateTracker]: connecting,
// connected, closed or failed. Callers can register callbacks and read a
// bounded history of transitions.
package transport
