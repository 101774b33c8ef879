// Package component holds the domain values exchanged with a remote scope
// and their string (de)serialization. The remote client treats all of them
// as opaque strings on the wire; this package owns their format.
package component

import (
	"fmt"
	"strings"
)

// BitID identifies a component: an optional scope, a box, a name and an
// optional version.
type BitID struct {
	Scope   string `json:"scope,omitempty"`
	Box     string `json:"box"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// String returns the canonical form "[scope/]box/name[@version]".
func (id BitID) String() string {
	var b strings.Builder
	if id.Scope != "" {
		b.WriteString(id.Scope)
		b.WriteByte('/')
	}
	b.WriteString(id.Box)
	b.WriteByte('/')
	b.WriteString(id.Name)
	if id.Version != "" {
		b.WriteByte('@')
		b.WriteString(id.Version)
	}
	return b.String()
}

// ParseBitID parses the canonical form produced by String.
func ParseBitID(s string) (BitID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return BitID{}, fmt.Errorf("parse bit id: empty id")
	}

	var id BitID
	rest := s
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		id.Version = rest[at+1:]
		rest = rest[:at]
		if id.Version == "" {
			return BitID{}, fmt.Errorf("parse bit id %q: empty version", s)
		}
	}

	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 2:
		id.Box, id.Name = parts[0], parts[1]
	case 3:
		id.Scope, id.Box, id.Name = parts[0], parts[1], parts[2]
	default:
		return BitID{}, fmt.Errorf("parse bit id %q: expected [scope/]box/name[@version]", s)
	}
	for _, p := range parts {
		if p == "" {
			return BitID{}, fmt.Errorf("parse bit id %q: empty segment", s)
		}
	}
	return id, nil
}

// ParseBitIDs parses every id in ss.
func ParseBitIDs(ss []string) ([]BitID, error) {
	ids := make([]BitID, 0, len(ss))
	for _, s := range ss {
		id, err := ParseBitID(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
