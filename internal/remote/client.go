package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/remotescope/internal/component"
	"github.com/gluk-w/remotescope/internal/config"
	"github.com/gluk-w/remotescope/internal/logging"
	"github.com/gluk-w/remotescope/internal/transport"
	"github.com/gluk-w/remotescope/internal/wire"
)

// DefaultTool is the executable invoked on the remote host.
const DefaultTool = "bit"

// Options configures a Client.
type Options struct {
	// Tool is the remote executable; DefaultTool when empty.
	Tool string

	Signer          ssh.Signer
	HostKeyCallback ssh.HostKeyCallback
	DialTimeout     time.Duration
	ExecTimeout     time.Duration
}

// Client is the remote scope client. Create it with New.
type Client struct {
	mu       sync.Mutex
	endpoint config.Endpoint
	opts     Options
	conn     *transport.Conn
	tracker  *transport.StateTracker
}

// New returns a disconnected client for ep.
func New(ep config.Endpoint, opts Options) *Client {
	if opts.Tool == "" {
		opts.Tool = DefaultTool
	}
	return &Client{
		endpoint: ep,
		opts:     opts,
		tracker:  transport.NewStateTracker(),
	}
}

// Endpoint returns the endpoint the client talks to.
func (c *Client) Endpoint() config.Endpoint {
	return c.endpoint
}

// State returns the connection state.
func (c *Client) State() transport.State {
	return c.tracker.State()
}

// StateHistory returns the recorded connection state transitions, oldest
// first.
func (c *Client) StateHistory() []transport.Transition {
	return c.tracker.Transitions()
}

// OnStateChange registers cb for connection state changes.
func (c *Client) OnStateChange(cb transport.StateCallback) {
	c.tracker.OnChange(cb)
}

// Connect opens the connection. It fails with KindUsage if the client is
// already connected and with KindConnection if the remote cannot be reached
// or refuses the key.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.Closed() {
		return usageError("", "client is already connected")
	}

	conn, err := transport.Connect(ctx, c.endpoint, transport.Options{
		Signer:          c.opts.Signer,
		HostKeyCallback: c.opts.HostKeyCallback,
		DialTimeout:     c.opts.DialTimeout,
		ExecTimeout:     c.opts.ExecTimeout,
		Tracker:         c.tracker,
	})
	if err != nil {
		return connectionError(err)
	}
	c.conn = conn
	return nil
}

// Close releases the connection. Calling it again, or on a client that
// never connected, is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	return conn.Close()
}

// exec sends one command and classifies the outcome.
func (c *Client) exec(ctx context.Context, op, callerID string, args ...string) (transport.Outcome, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return transport.Outcome{}, usageError(op, "client is not connected")
	}

	line := wire.BuildCommandLine(c.opts.Tool, op, c.endpoint.Path, args...)
	out, err := conn.Exec(ctx, line)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return out, usageError(op, "connection is closed")
		}
		return out, unexpectedNetworkError(op, transport.StatusNone, "", err)
	}
	if err := Classify(op, out, callerID); err != nil {
		log.Printf("[remote] %s on %s failed: %v", op, logging.SanitizeForLog(c.endpoint.String()), err)
		return out, err
	}
	return out, nil
}

// singleItem decodes the one item of a single-object payload. ok is false
// when the payload is empty or the nil sentinel.
func singleItem(payload string) (data string, ok bool, err error) {
	items, err := wire.UnpackDecoded(payload)
	if err != nil {
		return "", false, err
	}
	switch len(items) {
	case 0:
		return "", false, nil
	case 1:
		return string(items[0]), true, nil
	default:
		return "", false, fmt.Errorf("expected one item, got %d", len(items))
	}
}

// Push sends objects to the remote scope and returns the objects the
// remote acknowledged.
func (c *Client) Push(ctx context.Context, objects *component.Objects) (*component.Objects, error) {
	if objects == nil {
		return nil, usageError(wire.OpPut, "no objects to push")
	}
	serialized, err := objects.Serialize()
	if err != nil {
		return nil, fmt.Errorf("remote %s: %w", wire.OpPut, err)
	}

	out, err := c.exec(ctx, wire.OpPut, "", serialized)
	if err != nil {
		return nil, err
	}

	data, ok, err := singleItem(out.Stdout)
	if err != nil {
		return nil, decodeError(wire.OpPut, err)
	}
	if !ok {
		return nil, decodeError(wire.OpPut, fmt.Errorf("empty acknowledgement"))
	}
	ack, err := component.ParseObjects(data)
	if err != nil {
		return nil, decodeError(wire.OpPut, err)
	}
	if ack == nil {
		return nil, decodeError(wire.OpPut, fmt.Errorf("null acknowledgement"))
	}
	return ack, nil
}

// DescribeScope reads the remote scope's metadata. Every failure is
// reported as KindRemoteScopeNotFound wrapping the underlying error.
func (c *Client) DescribeScope(ctx context.Context) (*component.ScopeDescriptor, error) {
	d, err := c.describeScope(ctx)
	if err != nil {
		log.Printf("[remote] describe scope %s: %v", logging.SanitizeForLog(c.endpoint.String()), err)
		var e *Error
		if errors.As(err, &e) && e.Kind == KindRemoteScopeNotFound {
			return nil, e
		}
		return nil, remoteScopeNotFound(wire.OpScope, transport.StatusNone, err)
	}
	return d, nil
}

func (c *Client) describeScope(ctx context.Context) (*component.ScopeDescriptor, error) {
	out, err := c.exec(ctx, wire.OpScope, "")
	if err != nil {
		return nil, err
	}
	data, ok, err := singleItem(out.Stdout)
	if err != nil {
		return nil, decodeError(wire.OpScope, err)
	}
	if !ok {
		return nil, decodeError(wire.OpScope, fmt.Errorf("empty scope descriptor"))
	}
	d, err := component.ParseScopeDescriptor(data)
	if err != nil {
		return nil, decodeError(wire.OpScope, err)
	}
	return d, nil
}

// List returns every component in the remote scope. Items the remote sends
// as nil are skipped.
func (c *Client) List(ctx context.Context) ([]*component.Component, error) {
	out, err := c.exec(ctx, wire.OpList, "")
	if err != nil {
		return nil, err
	}
	items, err := wire.UnpackDecoded(out.Stdout)
	if err != nil {
		return nil, decodeError(wire.OpList, err)
	}

	comps := make([]*component.Component, 0, len(items))
	for i, it := range items {
		comp, err := component.ParseComponent(string(it))
		if err != nil {
			return nil, decodeError(wire.OpList, fmt.Errorf("item %d: %w", i, err))
		}
		if comp == nil {
			continue
		}
		comps = append(comps, comp)
	}
	return comps, nil
}

// Search runs a query against the remote scope's index, optionally
// rebuilding the index first.
func (c *Client) Search(ctx context.Context, query string, reindex bool) ([]component.SearchResult, error) {
	out, err := c.exec(ctx, wire.OpSearch, "", query, strconv.FormatBool(reindex))
	if err != nil {
		return nil, err
	}
	data, ok, err := singleItem(out.Stdout)
	if err != nil {
		return nil, decodeError(wire.OpSearch, err)
	}
	if !ok {
		return nil, nil
	}
	results, err := component.ParseSearchResults(data)
	if err != nil {
		return nil, decodeError(wire.OpSearch, err)
	}
	return results, nil
}

// Show returns the component with the given id, or nil if the remote
// replies with an empty payload.
func (c *Client) Show(ctx context.Context, id component.BitID) (*component.Component, error) {
	out, err := c.exec(ctx, wire.OpShow, id.String(), id.String())
	if err != nil {
		return nil, err
	}
	data, ok, err := singleItem(out.Stdout)
	if err != nil {
		return nil, decodeError(wire.OpShow, err)
	}
	if !ok {
		return nil, nil
	}
	comp, err := component.ParseComponent(data)
	if err != nil {
		return nil, decodeError(wire.OpShow, err)
	}
	return comp, nil
}

// Fetch downloads the objects of the given components, and of their
// dependencies unless noDependencies is set. Results are in the order the
// remote sends them, which need not match ids.
func (c *Client) Fetch(ctx context.Context, ids []component.BitID, noDependencies bool) ([]*component.Objects, error) {
	if len(ids) == 0 {
		return nil, usageError(wire.OpFetch, "no ids")
	}
	args := make([]string, 0, len(ids)+1)
	if noDependencies {
		args = append(args, wire.FlagNoDependencies)
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.String())
	}
	args = append(args, names...)

	out, err := c.exec(ctx, wire.OpFetch, strings.Join(names, ", "), args...)
	if err != nil {
		return nil, err
	}
	items, err := wire.UnpackDecoded(out.Stdout)
	if err != nil {
		return nil, decodeError(wire.OpFetch, err)
	}

	bundles := make([]*component.Objects, 0, len(items))
	for i, it := range items {
		o, err := component.ParseObjects(string(it))
		if err != nil {
			return nil, decodeError(wire.OpFetch, fmt.Errorf("item %d: %w", i, err))
		}
		if o == nil {
			continue
		}
		bundles = append(bundles, o)
	}
	return bundles, nil
}
