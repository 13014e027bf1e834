package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Scope is a named capability an identity is permitted to exercise. The
// vocabulary is closed: read, write, admin.
type Scope string

const (
	ScopeRead  Scope = "read"
	ScopeWrite Scope = "write"
	ScopeAdmin Scope = "admin"
)

// ParseScope validates a scope string against the closed vocabulary.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeRead, ScopeWrite, ScopeAdmin:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// ScopeSet is an unordered set of scopes. It serializes to a
// comma-separated string for storage.
type ScopeSet []Scope

// ParseScopeSet builds a ScopeSet from raw strings, rejecting anything
// outside the closed vocabulary and dropping duplicates.
func ParseScopeSet(raw []string) (ScopeSet, error) {
	seen := make(map[Scope]bool, len(raw))
	set := make(ScopeSet, 0, len(raw))
	for _, r := range raw {
		s, err := ParseScope(strings.TrimSpace(r))
		if err != nil {
			return nil, err
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		set = append(set, s)
	}
	return set, nil
}

// Has reports whether the set literally contains s, ignoring implication.
func (ss ScopeSet) Has(s Scope) bool {
	for _, have := range ss {
		if have == s {
			return true
		}
	}
	return false
}

// Satisfies reports whether the set grants the required capability.
// admin implies everything; write implies read; read implies only itself.
// This is a fixed lattice, not a general policy engine.
func (ss ScopeSet) Satisfies(required Scope) bool {
	if ss.Has(ScopeAdmin) {
		return true
	}
	switch required {
	case ScopeRead:
		return ss.Has(ScopeRead) || ss.Has(ScopeWrite)
	case ScopeWrite:
		return ss.Has(ScopeWrite)
	case ScopeAdmin:
		return false
	}
	return false
}

// Strings returns the scopes as plain strings for JSON responses.
func (ss ScopeSet) Strings() []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// Value implements driver.Valuer so a ScopeSet can be stored in a TEXT
// column as "read,write".
func (ss ScopeSet) Value() (driver.Value, error) {
	return strings.Join(ss.Strings(), ","), nil
}

// Scan implements sql.Scanner for the comma-separated storage format.
// Unknown scopes in the column are an error: the vocabulary is closed at
// write time, so a bad value means the row was tampered with.
func (ss *ScopeSet) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*ss = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into ScopeSet", src)
	}
	if raw == "" {
		*ss = nil
		return nil
	}
	parsed, err := ParseScopeSet(strings.Split(raw, ","))
	if err != nil {
		return err
	}
	*ss = parsed
	return nil
}

// SessionScopes is the scope set granted to session-authenticated users.
// Session identities are implicitly trusted at full read/write capability.
func SessionScopes() ScopeSet {
	return ScopeSet{ScopeRead, ScopeWrite}
}
