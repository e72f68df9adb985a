// Package model holds the data types shared across the Server Watcher,
// Reconciler, and LB Manager.
package model

import "sort"

// DesiredServer is a backend application instance registered under the
// service-discovery directory. Identified by its ZK registration id.
type DesiredServer struct {
	ID      string // registration id (opaque string from ZK)
	Kind    string // registration type tag ("host" from the watcher); lbmanager.Render puts "clear" in the clear backend, anything else in the secure one
	Address string // IPv4 or IPv6 literal
	Enabled bool   // should receive traffic
}

// Equal reports whether d and other describe the same desired server by
// value (id, address, kind, enabled) — used by the emission rule to decide
// whether a canonical set actually changed.
func (d DesiredServer) Equal(other DesiredServer) bool {
	return d.ID == other.ID && d.Kind == other.Kind &&
		d.Address == other.Address && d.Enabled == other.Enabled
}

// ServerSet is the canonical, de-duplicated mapping from registration id to
// desired server. At most one entry per id.
type ServerSet map[string]DesiredServer

// Equal reports whether s and other contain exactly the same entries by
// value. Two consecutively emitted sets must not be Equal under the
// emission rule.
func (s ServerSet) Equal(other ServerSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id, d := range s {
		od, ok := other[id]
		if !ok || !d.Equal(od) {
			return false
		}
	}
	return true
}

// Clone returns a deep, independent copy of s.
func (s ServerSet) Clone() ServerSet {
	out := make(ServerSet, len(s))
	for id, d := range s {
		out[id] = d
	}
	return out
}

// SortedIDs returns s's ids in stable sorted order.
func (s ServerSet) SortedIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LiveRow is a single row extracted from HAProxy's CSV stats.
type LiveRow struct {
	PxName string // pool name
	SvName string // "<registration-id>:<port>"
	Addr   string
	Status string // UP, DOWN, MAINT, ...
	Type   string // HAProxy row type code: "0" frontend, "1" backend, "2" server
	Fields map[string]string
}

// RegistrationID extracts the registration id prefix from svname
// ("<registration-id>:<port>").
func (r LiveRow) RegistrationID() string {
	for i := 0; i < len(r.SvName); i++ {
		if r.SvName[i] == ':' {
			return r.SvName[:i]
		}
	}
	return r.SvName
}

const (
	StatusUp    = "UP"
	StatusMaint = "MAINT"
)

// RowTypeFrontend, RowTypeBackend, RowTypeServer are HAProxy's CSV "type"
// column codes.
const (
	RowTypeFrontend = "0"
	RowTypeBackend  = "1"
	RowTypeServer   = "2"
)
