package component

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Objects is a serialized component together with the objects it refers
// to (versions, sources, dependencies), as moved by push and fetch.
type Objects struct {
	Component []byte   `json:"component"`
	Objects   [][]byte `json:"objects"`
}

// Component is the consumer-facing view of a component stored in a scope.
type Component struct {
	Scope        string   `json:"scope,omitempty"`
	Box          string   `json:"box"`
	Name         string   `json:"name"`
	Version      string   `json:"version,omitempty"`
	Lang         string   `json:"lang,omitempty"`
	Compiler     string   `json:"compiler,omitempty"`
	Tester       string   `json:"tester,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Files        []string `json:"files,omitempty"`
	Docs         string   `json:"docs,omitempty"`
}

// ID returns the component's identifier.
func (c *Component) ID() BitID {
	return BitID{Scope: c.Scope, Box: c.Box, Name: c.Name, Version: c.Version}
}

// ScopeDescriptor is the metadata a remote scope reports about itself.
type ScopeDescriptor struct {
	Name      string `json:"name"`
	GroupName string `json:"groupName,omitempty"`
	Version   string `json:"version,omitempty"`
}

// SearchResult is one hit returned by a scope search.
type SearchResult struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Box         string  `json:"box"`
	Description string  `json:"description,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

// Serialize renders objects in the string form the remote stores.
func (o *Objects) Serialize() (string, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("serialize component objects: %w", err)
	}
	return string(data), nil
}

// ParseObjects reverses Serialize. The null sentinel yields nil, nil.
func ParseObjects(s string) (*Objects, error) {
	if isNull(s) {
		return nil, nil
	}
	var o Objects
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return nil, fmt.Errorf("parse component objects: %w", err)
	}
	if o.Component == nil {
		return nil, fmt.Errorf("parse component objects: missing component")
	}
	return &o, nil
}

// Serialize renders the component as JSON.
func (c *Component) Serialize() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("serialize component: %w", err)
	}
	return string(data), nil
}

// ParseComponent reverses Component.Serialize. The null sentinel yields nil, nil.
func ParseComponent(s string) (*Component, error) {
	if isNull(s) {
		return nil, nil
	}
	var c Component
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return nil, fmt.Errorf("parse component: %w", err)
	}
	if c.Name == "" || c.Box == "" {
		return nil, fmt.Errorf("parse component: missing box or name")
	}
	return &c, nil
}

// ParseScopeDescriptor decodes scope metadata.
func ParseScopeDescriptor(s string) (*ScopeDescriptor, error) {
	var d ScopeDescriptor
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("parse scope descriptor: %w", err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("parse scope descriptor: missing name")
	}
	return &d, nil
}

// ParseSearchResults decodes a JSON array of search hits. The null
// sentinel yields no results.
func ParseSearchResults(s string) ([]SearchResult, error) {
	if isNull(s) {
		return nil, nil
	}
	var results []SearchResult
	if err := json.Unmarshal([]byte(s), &results); err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}
	return results, nil
}

func isNull(s string) bool {
	t := bytes.TrimSpace([]byte(s))
	return len(t) == 0 || string(t) == "null"
}
