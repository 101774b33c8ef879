package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/remotescope/internal/config"
	"github.com/gluk-w/remotescope/internal/logging"
)

// StatusNone is the Outcome status when the remote command ended without
// reporting an exit status.
const StatusNone = -1

// Commands slower than this are logged as slow.
const slowCommandThreshold = 500 * time.Millisecond

// ErrClosed is returned by Exec on a nil or closed connection. It signals
// misuse by the caller, not a remote failure.
var ErrClosed = errors.New("transport: connection is closed")

// ConnectError reports a failure to establish the connection. No command
// has been sent when it is returned.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Outcome is the result of one executed command line.
type Outcome struct {
	Stdout   string
	Stderr   string
	Status   int
	Duration time.Duration
}

// Success reports whether the command exited with status 0.
func (o Outcome) Success() bool {
	return o.Status == 0
}

// Options configures Connect.
type Options struct {
	Signer          ssh.Signer
	HostKeyCallback ssh.HostKeyCallback

	// DialTimeout bounds TCP dial plus SSH handshake. Zero means 10s.
	DialTimeout time.Duration
	// ExecTimeout bounds each Exec call. Zero means no limit.
	ExecTimeout time.Duration

	// Tracker receives state changes; a private one is used when nil.
	Tracker *StateTracker
}

// Conn is one authenticated SSH connection bound to an Endpoint.
type Conn struct {
	// execMu keeps a single command in flight.
	execMu sync.Mutex

	mu     sync.Mutex
	client *ssh.Client
	closed bool

	endpoint    config.Endpoint
	execTimeout time.Duration
	tracker     *StateTracker
}

// Connect dials the endpoint and authenticates with opts.Signer.
func Connect(ctx context.Context, ep config.Endpoint, opts Options) (*Conn, error) {
	tracker := opts.Tracker
	if tracker == nil {
		tracker = NewStateTracker()
	}
	addr := ep.Addr()

	fail := func(err error) (*Conn, error) {
		tracker.Set(StateFailed)
		return nil, &ConnectError{Addr: addr, Err: err}
	}

	if err := ep.Validate(); err != nil {
		return fail(err)
	}
	if opts.Signer == nil {
		return fail(fmt.Errorf("no private key"))
	}
	if opts.HostKeyCallback == nil {
		return fail(fmt.Errorf("no host key callback"))
	}

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	tracker.Set(StateConnecting)
	start := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	netConn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fail(err)
	}

	// The handshake is not context aware; bound it with a deadline and tear
	// the socket down if ctx fires first.
	deadline, _ := dialCtx.Deadline()
	netConn.SetDeadline(deadline)
	stop := context.AfterFunc(dialCtx, func() { netConn.Close() })

	clientCfg := &ssh.ClientConfig{
		User:            ep.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(opts.Signer)},
		HostKeyCallback: opts.HostKeyCallback,
		Timeout:         timeout,
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientCfg)
	if !stop() {
		if err == nil {
			sshConn.Close()
		}
		return fail(fmt.Errorf("handshake: %w", dialCtx.Err()))
	}
	if err != nil {
		netConn.Close()
		return fail(err)
	}
	netConn.SetDeadline(time.Time{})

	c := &Conn{
		client:      ssh.NewClient(sshConn, chans, reqs),
		endpoint:    ep,
		execTimeout: opts.ExecTimeout,
		tracker:     tracker,
	}
	tracker.Set(StateConnected)
	log.Printf("[transport] connected to %s as %s in %s",
		logging.SanitizeForLog(addr), logging.SanitizeForLog(ep.User), time.Since(start))
	return c, nil
}

// Endpoint returns the endpoint the connection is bound to.
func (c *Conn) Endpoint() config.Endpoint {
	return c.endpoint
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Exec runs cmd in a new session and waits for it to finish. If ctx is
// done or the exec timeout elapses first the whole connection is closed,
// since a single in-flight command cannot be cancelled on its own.
func (c *Conn) Exec(ctx context.Context, cmd string) (Outcome, error) {
	if c == nil {
		return Outcome{Status: StatusNone}, ErrClosed
	}
	c.execMu.Lock()
	defer c.execMu.Unlock()

	c.mu.Lock()
	client, closed := c.client, c.closed
	c.mu.Unlock()
	if closed {
		return Outcome{Status: StatusNone}, ErrClosed
	}

	if c.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.execTimeout)
		defer cancel()
	}

	reqID := uuid.NewString()[:8]
	label := logging.SanitizeForLog(logging.Truncate(cmd, 80))
	start := time.Now()

	session, err := client.NewSession()
	if err != nil {
		if c.Closed() {
			return Outcome{Status: StatusNone}, ErrClosed
		}
		return Outcome{Status: StatusNone}, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		log.Printf("[transport] %s cancelled after %s, closing connection: %s", reqID, time.Since(start), label)
		c.Close()
		<-done
		return Outcome{Status: StatusNone, Duration: time.Since(start)}, fmt.Errorf("exec: %w", ctx.Err())
	}

	out := Outcome{
		Stdout:   outBuf.String(),
		Stderr:   errBuf.String(),
		Duration: time.Since(start),
	}
	if out.Duration > slowCommandThreshold {
		log.Printf("[transport] %s SLOW command (%s): %s", reqID, out.Duration, label)
	}

	var exitErr *ssh.ExitError
	var missingErr *ssh.ExitMissingError
	switch {
	case runErr == nil:
		out.Status = 0
	case errors.As(runErr, &exitErr):
		out.Status = exitErr.ExitStatus()
	case errors.As(runErr, &missingErr):
		out.Status = StatusNone
	default:
		out.Status = StatusNone
		log.Printf("[transport] %s failed after %s: %v", reqID, out.Duration, runErr)
		return out, fmt.Errorf("exec: %w", runErr)
	}

	log.Printf("[transport] %s status=%d stdout=%dB in %s: %s", reqID, out.Status, len(out.Stdout), out.Duration, label)
	return out, nil
}

// Close terminates the connection. It is safe to call more than once and
// on a nil Conn.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	c.mu.Unlock()

	c.tracker.Set(StateClosed)
	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close ssh connection to %s: %w", logging.SanitizeForLog(c.endpoint.Addr()), err)
	}
	log.Printf("[transport] closed connection to %s", logging.SanitizeForLog(c.endpoint.Addr()))
	return nil
}
