package remote

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gluk-w/remotescope/internal/transport"
)

// Kind classifies a remote client failure.
type Kind int

const (
	KindUnexpectedNetwork Kind = iota + 1
	KindConnection
	KindUsage
	KindComponentNotFound
	KindPermissionDenied
	KindRemoteScopeNotFound
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindUnexpectedNetwork:
		return "unexpected network error"
	case KindConnection:
		return "connection error"
	case KindUsage:
		return "usage error"
	case KindComponentNotFound:
		return "component not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindRemoteScopeNotFound:
		return "remote scope not found"
	case KindDecode:
		return "decode error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Exit statuses the remote tool uses to signal known failures.
const (
	statusComponentNotFound   = 127
	statusPermissionDenied    = 128
	statusRemoteScopeNotFound = 129
	statusPermissionDeniedAlt = 130
)

// Error is the single error type returned by Client.
type Error struct {
	Kind Kind
	// Op is the remote operation, e.g. "_fetch". Empty for sentinels.
	Op string
	// ID is the component id for KindComponentNotFound.
	ID string
	// Status is the remote exit status when one was received.
	Status int
	Detail string
	Err    error
}

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrUnexpectedNetwork   = &Error{Kind: KindUnexpectedNetwork}
	ErrConnection          = &Error{Kind: KindConnection}
	ErrUsage               = &Error{Kind: KindUsage}
	ErrComponentNotFound   = &Error{Kind: KindComponentNotFound}
	ErrPermissionDenied    = &Error{Kind: KindPermissionDenied}
	ErrRemoteScopeNotFound = &Error{Kind: KindRemoteScopeNotFound}
	ErrDecode              = &Error{Kind: KindDecode}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString("remote ")
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind == KindComponentNotFound && e.ID != "" {
		fmt.Fprintf(&b, "component %s not found", e.ID)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of the outermost *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func connectionError(err error) *Error {
	return &Error{Kind: KindConnection, Err: err}
}

func usageError(op, detail string) *Error {
	return &Error{Kind: KindUsage, Op: op, Detail: detail, Status: transport.StatusNone}
}

func unexpectedNetworkError(op string, status int, detail string, err error) *Error {
	return &Error{Kind: KindUnexpectedNetwork, Op: op, Status: status, Detail: detail, Err: err}
}

func decodeError(op string, err error) *Error {
	return &Error{Kind: KindDecode, Op: op, Err: err}
}

func remoteScopeNotFound(op string, status int, err error) *Error {
	return &Error{Kind: KindRemoteScopeNotFound, Op: op, Status: status, Err: err}
}

// Classify maps an Outcome to nil on success or to the *Error for its
// status. callerID names the component the caller asked about and is used
// for ComponentNotFound when the remote does not report one.
func Classify(op string, out transport.Outcome, callerID string) error {
	detail := strings.TrimSpace(out.Stderr)
	switch out.Status {
	case 0:
		return nil
	case transport.StatusNone:
		return unexpectedNetworkError(op, out.Status, "remote command ended without a result", nil)
	case statusComponentNotFound:
		id := reportedID(out)
		if id == "" {
			id = callerID
		}
		return &Error{Kind: KindComponentNotFound, Op: op, ID: id, Status: out.Status}
	case statusPermissionDenied, statusPermissionDeniedAlt:
		return &Error{Kind: KindPermissionDenied, Op: op, Status: out.Status, Detail: detail}
	case statusRemoteScopeNotFound:
		return remoteScopeNotFound(op, out.Status, nil)
	default:
		return unexpectedNetworkError(op, out.Status, fmt.Sprintf("exit status %d: %s", out.Status, detail), nil)
	}
}

// reportedID extracts the component id the remote reported with a
// not-found failure: a JSON object {"id": ...} on stderr or stdout, either
// raw or base64-encoded.
func reportedID(out transport.Outcome) string {
	for _, s := range []string{out.Stderr, out.Stdout} {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if id := idFromJSON(s); id != "" {
			return id
		}
		if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
			if id := idFromJSON(string(raw)); id != "" {
				return id
			}
		}
	}
	return ""
}

func idFromJSON(s string) string {
	var v struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return ""
	}
	return v.ID
}
