// Package transport is the client side of the arena session protocol. It owns
// the connection to the server, buffers inbound events decoded from the wire,
// and dispatches them to scoped listener registrations when polled.
package transport

import (
	"fmt"
	"sort"
)

// User is a participant as reported by the server. IDs are server-assigned
// and unique for the lifetime of a zone login.
type User struct {
	ID   int
	Name string
}

// String returns "name(#id)".
func (u User) String() string {
	return fmt.Sprintf("%s(#%d)", u.Name, u.ID)
}

// Vec3 is a point or extent in room space.
type Vec3 struct {
	X, Y, Z float64
}

// MapBounds is the axis-aligned box users may occupy.
type MapBounds struct {
	Min, Max Vec3
}

// Extension names the server-side room extension bound to a room.
type Extension struct {
	ID    string
	Class string
}

// RoomSpec describes a room for a create-room request. It is immutable once sent.
type RoomSpec struct {
	Name           string
	MaxUsers       int
	AreaOfInterest Vec3
	Bounds         MapBounds
	Extension      Extension
}

// SourceConfig is the connect target read from a connection config source.
type SourceConfig struct {
	Host      string `yaml:"host" toml:"host"`
	Port      int    `yaml:"port" toml:"port"`
	Zone      string `yaml:"zone" toml:"zone"`
	Transport string `yaml:"transport" toml:"transport"`
	// Path is the WebSocket request path; ignored by gRPC.
	Path string `yaml:"path" toml:"path"`
}

// Addr returns the "host:port" connect address.
func (c SourceConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Variable is a named, typed user variable. Value is one of float64, bool, int or string.
type Variable struct {
	Name  string
	Value any
}

// Double returns a float64 variable.
func Double(name string, v float64) Variable { return Variable{Name: name, Value: v} }

// Bool returns a bool variable.
func Bool(name string, v bool) Variable { return Variable{Name: name, Value: v} }

// Int returns an int variable.
func Int(name string, v int) Variable { return Variable{Name: name, Value: v} }

// String returns a string variable.
func String(name string, v string) Variable { return Variable{Name: name, Value: v} }

// Variables is a user's variable set keyed by name.
type Variables map[string]any

// Float returns the named variable as float64. Missing or non-numeric
// variables read as 0.
func (v Variables) Float(name string) float64 {
	switch x := v[name].(type) {
	case float64:
		return x
	case int:
		return float64(x)
	default:
		return 0
	}
}

// Bool returns the named variable as bool; missing reads as false.
func (v Variables) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

// Int returns the named variable as int; doubles are truncated.
func (v Variables) Int(name string) int {
	switch x := v[name].(type) {
	case int:
		return x
	case float64:
		return int(x)
	default:
		return 0
	}
}

// String returns the named variable as string; missing reads as "".
func (v Variables) String(name string) string {
	s, _ := v[name].(string)
	return s
}

// Has reports whether the named variable is set.
func (v Variables) Has(name string) bool {
	_, ok := v[name]
	return ok
}

// Clone returns an independent copy.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}

// Merge applies vars and returns the sorted names whose value changed.
// A nil Value removes the variable.
func (v Variables) Merge(vars []Variable) []string {
	var changed []string
	for _, nv := range vars {
		old, had := v[nv.Name]
		if nv.Value == nil {
			if had {
				delete(v, nv.Name)
				changed = append(changed, nv.Name)
			}
			continue
		}
		if had && old == nv.Value {
			continue
		}
		v[nv.Name] = nv.Value
		changed = append(changed, nv.Name)
	}
	sort.Strings(changed)
	return changed
}

// List returns the variables sorted by name.
func (v Variables) List() []Variable {
	names := make([]string, 0, len(v))
	for k := range v {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]Variable, 0, len(names))
	for _, n := range names {
		out = append(out, Variable{Name: n, Value: v[n]})
	}
	return out
}
