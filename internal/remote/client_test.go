package remote

import (
	"context"
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/remotescope/internal/component"
	"github.com/gluk-w/remotescope/internal/sshkeys"
	"github.com/gluk-w/remotescope/internal/sshtest"
	"github.com/gluk-w/remotescope/internal/transport"
	"github.com/gluk-w/remotescope/internal/wire"
)

// fakeScope answers decoded commands the way a remote scope would.
type fakeScope struct {
	mu       sync.Mutex
	handlers map[string]func(args []string) sshtest.Reply
	paths    []string
	args     [][]string
}

func newFakeScope() *fakeScope {
	return &fakeScope{handlers: map[string]func(args []string) sshtest.Reply{}}
}

func (f *fakeScope) on(op string, h func(args []string) sshtest.Reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[op] = h
}

func (f *fakeScope) handle(cmd string) sshtest.Reply {
	tool, op, path, args, err := wire.ParseCommandLine(cmd)
	if err != nil || tool != "bit" {
		return sshtest.Reply{Stderr: "bad command", Status: 2}
	}
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.args = append(f.args, args)
	h, ok := f.handlers[op]
	f.mu.Unlock()
	if !ok {
		return sshtest.Reply{Stderr: "unknown operation " + op, Status: 1}
	}
	return h(args)
}

func (f *fakeScope) lastArgs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.args) == 0 {
		return nil
	}
	return f.args[len(f.args)-1]
}

func packed(items ...string) sshtest.Reply {
	raw := make([][]byte, len(items))
	for i, it := range items {
		raw[i] = []byte(it)
	}
	return sshtest.Reply{Stdout: wire.Pack(raw...)}
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func newTestClient(t *testing.T, path string) (*Client, *fakeScope, *sshtest.Server) {
	t.Helper()
	scope := newFakeScope()
	srv := sshtest.Start(t, scope.handle)
	c := New(srv.Endpoint(path), Options{
		Signer:          srv.ClientKey,
		HostKeyCallback: sshkeys.PinnedFingerprint(ssh.FingerprintSHA256(srv.HostKey)),
		DialTimeout:     5 * time.Second,
	})
	return c, scope, srv
}

func connected(t *testing.T, path string) (*Client, *fakeScope, *sshtest.Server) {
	t.Helper()
	c, scope, srv := newTestClient(t, path)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, scope, srv
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

// --- lifecycle ---

func TestOperationsRequireConnection(t *testing.T) {
	c, _, _ := newTestClient(t, "/srv/scope")
	ctx := context.Background()
	id := component.BitID{Box: "a", Name: "b"}

	_, err := c.List(ctx)
	assertKind(t, err, KindUsage)
	_, err = c.Show(ctx, id)
	assertKind(t, err, KindUsage)
	_, err = c.Search(ctx, "q", false)
	assertKind(t, err, KindUsage)
	_, err = c.Fetch(ctx, []component.BitID{id}, false)
	assertKind(t, err, KindUsage)
	_, err = c.Push(ctx, &component.Objects{Component: []byte("x")})
	assertKind(t, err, KindUsage)

	// DescribeScope collapses everything into RemoteScopeNotFound but keeps
	// the usage error in the chain.
	_, err = c.DescribeScope(ctx)
	assertKind(t, err, KindRemoteScopeNotFound)
	if !errors.Is(err, ErrUsage) {
		t.Errorf("expected usage error in chain, got %v", err)
	}
}

func TestCloseTwiceAndExecAfterClose(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpList, func([]string) sshtest.Reply { return packed() })

	if _, err := c.List(context.Background()); err != nil {
		t.Fatalf("List: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if c.State() != transport.StateClosed {
		t.Errorf("expected closed state, got %s", c.State())
	}

	_, err := c.List(context.Background())
	assertKind(t, err, KindUsage)
	if errors.Is(err, ErrUnexpectedNetwork) {
		t.Error("exec after close must not look like a network error")
	}
}

func TestCloseWithoutConnect(t *testing.T) {
	c, _, _ := newTestClient(t, "/srv/scope")
	if err := c.Close(); err != nil {
		t.Errorf("Close on unconnected client: %v", err)
	}
}

func TestConnectTwiceIsUsageError(t *testing.T) {
	c, _, _ := connected(t, "/srv/scope")
	assertKind(t, c.Connect(context.Background()), KindUsage)
}

func TestReconnectAfterClose(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpList, func([]string) sshtest.Reply { return packed() })
	c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if _, err := c.List(context.Background()); err != nil {
		t.Errorf("List after reconnect: %v", err)
	}
}

func TestStateHistory(t *testing.T) {
	c, _, _ := connected(t, "/srv/scope")
	c.Close()

	want := []transport.State{transport.StateConnecting, transport.StateConnected, transport.StateClosed}
	hist := c.StateHistory()
	if len(hist) != len(want) {
		t.Fatalf("expected %d transitions, got %+v", len(want), hist)
	}
	for i, tr := range hist {
		if tr.To != want[i] {
			t.Errorf("transition %d: got %s -> %s, want -> %s", i, tr.From, tr.To, want[i])
		}
	}
	if hist[0].From != transport.StateDisconnected {
		t.Errorf("expected history to start from disconnected, got %s", hist[0].From)
	}
}

func TestConnectFailure(t *testing.T) {
	c, _, srv := newTestClient(t, "/srv/scope")
	srv.Close()

	err := c.Connect(context.Background())
	assertKind(t, err, KindConnection)
	var connErr *transport.ConnectError
	if !errors.As(err, &connErr) {
		t.Errorf("expected *transport.ConnectError in chain, got %v", err)
	}
	if c.State() != transport.StateFailed {
		t.Errorf("expected failed state, got %s", c.State())
	}
}

func TestWorkingPathIsNormalized(t *testing.T) {
	c, scope, srv := connected(t, "scopes/dev")
	scope.on(wire.OpList, func([]string) sshtest.Reply { return packed() })

	if _, err := c.List(context.Background()); err != nil {
		t.Fatalf("List: %v", err)
	}
	scope.mu.Lock()
	path := scope.paths[0]
	scope.mu.Unlock()
	if path != "~/scopes/dev" {
		t.Errorf("expected home-relative path, got %q", path)
	}
	if !strings.HasPrefix(srv.Commands()[0], "bit _list ") {
		t.Errorf("unexpected command line: %q", srv.Commands()[0])
	}
}

// --- push ---

func TestPushEchoesObjects(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpPut, func(args []string) sshtest.Reply {
		if len(args) != 1 {
			return sshtest.Reply{Status: 1}
		}
		return packed(args[0])
	})

	objects := &component.Objects{
		Component: []byte(`{"box":"ui","name":"button"}`),
		Objects:   [][]byte{[]byte("version 1"), []byte("source")},
	}
	got, err := c.Push(context.Background(), objects)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if !reflect.DeepEqual(got, objects) {
		t.Errorf("Push returned %+v, want %+v", got, objects)
	}
}

func TestPushUnreadableAcknowledgement(t *testing.T) {
	for name, reply := range map[string]sshtest.Reply{
		"garbage text":   {Stdout: "this is not base64 !!"},
		"not json":       {Stdout: b64("{broken")},
		"empty":          {Stdout: ""},
		"null sentinel":  packed("null"),
		"too many items": packed(`{"component":"eA=="}`, `{"component":"eA=="}`),
	} {
		t.Run(name, func(t *testing.T) {
			c, scope, _ := connected(t, "/srv/scope")
			scope.on(wire.OpPut, func([]string) sshtest.Reply { return reply })

			_, err := c.Push(context.Background(), &component.Objects{Component: []byte("x")})
			assertKind(t, err, KindDecode)
		})
	}
}

func TestPushNilObjects(t *testing.T) {
	c, _, _ := connected(t, "/srv/scope")
	_, err := c.Push(context.Background(), nil)
	assertKind(t, err, KindUsage)
}

// --- describe scope ---

func TestDescribeScope(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpScope, func([]string) sshtest.Reply {
		return packed(`{"name":"prod","groupName":"bit","version":"1"}`)
	})

	d, err := c.DescribeScope(context.Background())
	if err != nil {
		t.Fatalf("DescribeScope: %v", err)
	}
	if d.Name != "prod" || d.GroupName != "bit" {
		t.Errorf("unexpected descriptor: %+v", d)
	}
}

func TestDescribeScopeFailuresCollapse(t *testing.T) {
	tests := map[string]sshtest.Reply{
		"scope missing":   {Status: 129},
		"permission":      {Status: 128},
		"other status":    {Status: 3, Stderr: "boom"},
		"no exit status":  {NoStatus: true},
		"malformed json":  packed("{not json"),
		"missing name":    packed(`{"groupName":"bit"}`),
		"bad base64":      {Stdout: "%%%"},
		"empty":           {Stdout: ""},
		"component error": {Status: 127},
	}
	for name, reply := range tests {
		t.Run(name, func(t *testing.T) {
			c, scope, _ := connected(t, "/srv/scope")
			scope.on(wire.OpScope, func([]string) sshtest.Reply { return reply })

			_, err := c.DescribeScope(context.Background())
			assertKind(t, err, KindRemoteScopeNotFound)
		})
	}
}

func TestDescribeScopeNetworkFailure(t *testing.T) {
	c, _, srv := connected(t, "/srv/scope")
	srv.Close()

	_, err := c.DescribeScope(context.Background())
	assertKind(t, err, KindRemoteScopeNotFound)
}

// --- list ---

func TestListDropsNilItems(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpList, func([]string) sshtest.Reply {
		return packed(
			`{"box":"ui","name":"button","version":"1"}`,
			"null",
			`{"box":"ui","name":"icon","version":"2"}`,
			"",
			`{"box":"util","name":"fmt"}`,
		)
	})

	comps, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, comp := range comps {
		names = append(names, comp.ID().String())
	}
	want := []string{"ui/button@1", "ui/icon@2", "util/fmt"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("List = %v, want %v", names, want)
	}
}

func TestListEmpty(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpList, func([]string) sshtest.Reply { return sshtest.Reply{} })

	comps, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(comps) != 0 {
		t.Errorf("expected no components, got %d", len(comps))
	}
}

func TestListDecodeError(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpList, func([]string) sshtest.Reply {
		return packed(`{"box":"ui","name":"button"}`, "{bad")
	})
	_, err := c.List(context.Background())
	assertKind(t, err, KindDecode)
}

// --- search ---

func TestSearchRendersFlag(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpSearch, func(args []string) sshtest.Reply {
		return packed(`[{"id":"ui/button","name":"button","box":"ui","score":1.5}]`)
	})

	for _, reindex := range []bool{true, false} {
		res, err := c.Search(context.Background(), "red button", reindex)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(res) != 1 || res[0].ID != "ui/button" {
			t.Errorf("unexpected results: %+v", res)
		}
		args := scope.lastArgs()
		want := []string{"red button", "false"}
		if reindex {
			want[1] = "true"
		}
		if !reflect.DeepEqual(args, want) {
			t.Errorf("search args = %q, want %q", args, want)
		}
	}
}

func TestSearchEmptyQueryKeepsArgumentPositions(t *testing.T) {
	c, scope, srv := connected(t, "/srv/scope")
	scope.on(wire.OpSearch, func([]string) sshtest.Reply { return packed() })

	if _, err := c.Search(context.Background(), "", true); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if args := scope.lastArgs(); !reflect.DeepEqual(args, []string{"", "true"}) {
		t.Errorf("search args = %q, want [\"\" \"true\"]", args)
	}
	want := "bit _search " + wire.EncodeArg("/srv/scope") + " '' " + wire.EncodeArg("true")
	if cmds := srv.Commands(); len(cmds) != 1 || cmds[0] != want {
		t.Errorf("command line = %q, want %q", cmds, want)
	}
}

func TestSearchNoResults(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpSearch, func([]string) sshtest.Reply { return sshtest.Reply{} })

	res, err := c.Search(context.Background(), "nothing", false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 0 {
		t.Errorf("expected no results, got %+v", res)
	}
}

// --- show ---

func TestShowFound(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpShow, func(args []string) sshtest.Reply {
		return packed(`{"box":"ui","name":"button","version":"1.0.0","lang":"javascript"}`)
	})

	id := component.BitID{Box: "ui", Name: "button", Version: "1.0.0"}
	comp, err := c.Show(context.Background(), id)
	if err != nil {
		t.Fatalf("Show: %v", err)
	}
	if comp == nil || comp.Lang != "javascript" {
		t.Errorf("unexpected component: %+v", comp)
	}
	if args := scope.lastArgs(); len(args) != 1 || args[0] != "ui/button@1.0.0" {
		t.Errorf("unexpected show args: %q", args)
	}
}

func TestShowEmptyPayloadIsNotFound(t *testing.T) {
	for name, reply := range map[string]sshtest.Reply{
		"empty":         {},
		"whitespace":    {Stdout: "\n"},
		"header only":   {Stdout: wire.PackHeader + "\n"},
		"null sentinel": packed("null"),
	} {
		t.Run(name, func(t *testing.T) {
			c, scope, _ := connected(t, "/srv/scope")
			scope.on(wire.OpShow, func([]string) sshtest.Reply { return reply })

			comp, err := c.Show(context.Background(), component.BitID{Box: "a", Name: "b"})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if comp != nil {
				t.Errorf("expected nil component, got %+v", comp)
			}
		})
	}
}

func TestShowComponentNotFound(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	id := component.BitID{Box: "a", Name: "b", Version: "1"}

	scope.on(wire.OpShow, func([]string) sshtest.Reply { return sshtest.Reply{Status: 127} })
	_, err := c.Show(context.Background(), id)
	assertKind(t, err, KindComponentNotFound)
	var e *Error
	errors.As(err, &e)
	if e.ID != "a/b@1" {
		t.Errorf("expected caller id, got %q", e.ID)
	}

	scope.on(wire.OpShow, func([]string) sshtest.Reply {
		return sshtest.Reply{Stderr: `{"id":"a/dep@2"}`, Status: 127}
	})
	_, err = c.Show(context.Background(), id)
	errors.As(err, &e)
	if e.ID != "a/dep@2" {
		t.Errorf("expected remote-reported id, got %q", e.ID)
	}
	if !strings.Contains(err.Error(), "component a/dep@2 not found") {
		t.Errorf("unexpected message: %v", err)
	}
}

// --- fetch ---

func TestFetchNoDependencies(t *testing.T) {
	c, scope, srv := connected(t, "/srv/scope")
	bundle := &component.Objects{Component: []byte("comp"), Objects: [][]byte{[]byte("obj")}}
	serialized, err := bundle.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	scope.on(wire.OpFetch, func([]string) sshtest.Reply { return packed(serialized) })

	id, err := component.ParseBitID("a/b@1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Fetch(context.Background(), []component.BitID{id}, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 || !reflect.DeepEqual(got[0], bundle) {
		t.Errorf("Fetch = %+v, want [%+v]", got, bundle)
	}

	want := "bit _fetch " + wire.EncodeArg("/srv/scope") + " " + wire.EncodeArg("-n") + " " + wire.EncodeArg("a/b@1.0.0")
	if cmds := srv.Commands(); len(cmds) != 1 || cmds[0] != want {
		t.Errorf("command line = %q, want %q", cmds, want)
	}
}

func TestFetchWithoutIDs(t *testing.T) {
	c, _, srv := connected(t, "/srv/scope")
	for _, noDeps := range []bool{false, true} {
		_, err := c.Fetch(context.Background(), nil, noDeps)
		assertKind(t, err, KindUsage)
	}
	if cmds := srv.Commands(); len(cmds) != 0 {
		t.Errorf("expected no remote command, got %q", cmds)
	}
}

func TestFetchWithDependenciesKeepsIDOrder(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpFetch, func([]string) sshtest.Reply { return packed() })

	ids := []component.BitID{{Box: "z", Name: "last"}, {Box: "a", Name: "first"}}
	if _, err := c.Fetch(context.Background(), ids, false); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	want := []string{"z/last", "a/first"}
	if args := scope.lastArgs(); !reflect.DeepEqual(args, want) {
		t.Errorf("fetch args = %q, want %q", args, want)
	}
}

func TestFetchDropsNilAndPreservesOrder(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpFetch, func([]string) sshtest.Reply {
		return packed(
			`{"component":"`+b64("second")+`"}`,
			"null",
			`{"component":"`+b64("first")+`"}`,
		)
	})

	got, err := c.Fetch(context.Background(), []component.BitID{{Box: "a", Name: "first"}, {Box: "a", Name: "second"}}, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 || string(got[0].Component) != "second" || string(got[1].Component) != "first" {
		t.Errorf("unexpected bundles: %+v", got)
	}
}

func TestFetchComponentNotFoundUsesCallerIDs(t *testing.T) {
	c, scope, _ := connected(t, "/srv/scope")
	scope.on(wire.OpFetch, func([]string) sshtest.Reply { return sshtest.Reply{Status: 127} })

	_, err := c.Fetch(context.Background(), []component.BitID{{Box: "a", Name: "b"}}, false)
	assertKind(t, err, KindComponentNotFound)
	if !errors.Is(err, ErrComponentNotFound) {
		t.Error("expected errors.Is to match ErrComponentNotFound")
	}
	var e *Error
	errors.As(err, &e)
	if e.ID != "a/b" {
		t.Errorf("expected id a/b, got %q", e.ID)
	}
}

func TestPermissionDenied(t *testing.T) {
	for _, status := range []int{128, 130} {
		c, scope, _ := connected(t, "/srv/scope")
		scope.on(wire.OpList, func([]string) sshtest.Reply {
			return sshtest.Reply{Stderr: "not allowed", Status: status}
		})
		_, err := c.List(context.Background())
		assertKind(t, err, KindPermissionDenied)
	}
}

func TestExecTimeoutIsNetworkError(t *testing.T) {
	scope := newFakeScope()
	scope.on(wire.OpList, func([]string) sshtest.Reply { return sshtest.Reply{Delay: 2 * time.Second} })
	srv := sshtest.Start(t, scope.handle)
	c := New(srv.Endpoint("/srv/scope"), Options{
		Signer:          srv.ClientKey,
		HostKeyCallback: sshkeys.PinnedFingerprint(ssh.FingerprintSHA256(srv.HostKey)),
		ExecTimeout:     100 * time.Millisecond,
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	_, err := c.List(context.Background())
	assertKind(t, err, KindUnexpectedNetwork)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}

	// The connection was torn down by the timeout.
	_, err = c.List(context.Background())
	assertKind(t, err, KindUsage)
}
