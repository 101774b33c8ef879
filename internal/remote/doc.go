// Package remote is the client for a component scope hosted on another
// machine. Each method turns into exactly one command line executed over
// the client's SSH connection (see package wire for the format), and the
// reply is decoded into component values or a typed *Error.
//
// # Lifecycle
//
//	c := remote.New(endpoint, remote.Options{Signer: signer, HostKeyCallback: cb})
//	if err := c.Connect(ctx); err != nil { ... }
//	defer c.Close()
//	comps, err := c.List(ctx)
//
// A client holds at most one connection and runs one command at a time;
// concurrent callers are serialized. Every method fails with KindUsage
// while the client is not connected, as do Push without objects and Fetch
// without ids.
//
// # Errors
//
// Non-zero exit statuses are mapped by Classify. DescribeScope reports every
// failure as KindRemoteScopeNotFound and keeps the real cause as the wrapped
// error. Push reports an unreadable acknowledgement as KindDecode.
package remote
