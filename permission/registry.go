package permission

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Registry maps path prefixes to the role required to access them.
//
// Matching is segment aware: the prefix "/admin" guards "/admin" and "/admin/users" but
// not "/administrator". When several prefixes match, the longest one wins.
type Registry struct {
	mu     sync.RWMutex
	rules  []rule
	frozen bool
}

type rule struct {
	prefix string
	role   Role
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a frozen registry guarding "/<role>" and "/api/<role>" for every
// platform role.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, role := range Roles() {
		_ = r.Register("/"+string(role), role)
		_ = r.Register("/api/"+string(role), role)
	}
	r.Freeze()
	return r
}

// Register adds a namespace rule. Must be called before [Registry.Freeze].
func (r *Registry) Register(prefix string, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New("registry frozen")
	}
	if !role.Valid() {
		return ErrUnknownRole
	}
	prefix = normalizePrefix(prefix)
	if prefix == "" {
		return errors.New("namespace prefix cannot be empty")
	}
	for _, existing := range r.rules {
		if existing.prefix == prefix {
			return errors.New("namespace already registered")
		}
	}

	r.rules = append(r.rules, rule{prefix: prefix, role: role})
	sort.SliceStable(r.rules, func(i, j int) bool {
		return len(r.rules[i].prefix) > len(r.rules[j].prefix)
	})
	return nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether the registry accepts registrations.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Required returns the role guarding path, or false when path is outside every namespace.
func (r *Registry) Required(path string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rl := range r.rules {
		if MatchPrefix(path, rl.prefix) {
			return rl.role, true
		}
	}
	return "", false
}

// MatchPrefix reports whether path equals prefix or lies below it on a segment boundary.
func MatchPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

func normalizePrefix(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
