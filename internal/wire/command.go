package wire

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Operation names understood by the remote tool.
const (
	OpPut    = "_put"
	OpScope  = "_scope"
	OpList   = "_list"
	OpSearch = "_search"
	OpShow   = "_show"
	OpFetch  = "_fetch"
)

// FlagNoDependencies asks _fetch to return only the requested components.
const FlagNoDependencies = "-n"

// EmptyArg stands for an empty argument on the command line. Base64 of
// "" is itself empty, which a shell would drop as a word.
const EmptyArg = "''"

// EncodeArg base64-encodes a single argument.
func EncodeArg(s string) string {
	if s == "" {
		return EmptyArg
	}
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// DecodeArg reverses EncodeArg.
func DecodeArg(s string) (string, error) {
	if s == EmptyArg {
		return "", nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("decode argument: %w", err)
	}
	return string(b), nil
}

// NormalizeWorkingPath makes path resolvable on the remote side. Absolute
// and home-relative paths are kept; anything else is taken relative to the
// remote user's home directory.
func NormalizeWorkingPath(path string) string {
	switch {
	case strings.HasPrefix(path, "/"), path == "~", strings.HasPrefix(path, "~/"):
		return path
	default:
		return "~/" + path
	}
}

// BuildCommandLine renders the command line for op.
func BuildCommandLine(tool, op, workingPath string, args ...string) string {
	parts := make([]string, 0, len(args)+3)
	parts = append(parts, tool, op, EncodeArg(NormalizeWorkingPath(workingPath)))
	for _, a := range args {
		parts = append(parts, EncodeArg(a))
	}
	return strings.Join(parts, " ")
}

// ParseCommandLine splits a command line built by BuildCommandLine back into
// its tool, operation, working path and decoded arguments. The remote side
// of the protocol uses it; tests use it to inspect what a client sent.
func ParseCommandLine(line string) (tool, op, workingPath string, args []string, err error) {
	fields := strings.Split(line, " ")
	if len(fields) < 3 {
		return "", "", "", nil, fmt.Errorf("parse command line: expected at least 3 fields, got %d", len(fields))
	}
	tool, op = fields[0], fields[1]
	if workingPath, err = DecodeArg(fields[2]); err != nil {
		return "", "", "", nil, fmt.Errorf("parse command line: working path: %w", err)
	}
	args = make([]string, 0, len(fields)-3)
	for i, f := range fields[3:] {
		a, err := DecodeArg(f)
		if err != nil {
			return "", "", "", nil, fmt.Errorf("parse command line: argument %d: %w", i, err)
		}
		args = append(args, a)
	}
	return tool, op, workingPath, args, nil
}
