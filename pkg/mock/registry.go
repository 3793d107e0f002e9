package mock

import (
	"sync"

	"github.com/snarelabs/snare/pkg/endpoint"
)

// Registry stores expectations grouped by canonical endpoint key. Group
// order and the global registration order are both preserved: group
// order drives first-registered-wins selection, global order drives the
// scope-filter scan. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	all    []*Expectation
	groups map[string][]*Expectation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string][]*Expectation)}
}

// Add normalizes and registers an expectation: endpoint canonicalized,
// method uppercased, use count defaulted to one.
func (r *Registry) Add(e *Expectation) {
	e.Endpoint = endpoint.Normalize(e.Endpoint)
	e.Method = canonicalMethod(e.Method)
	if e.RemainingUses <= 0 {
		e.RemainingUses = 1
	}

	key := e.Endpoint.Key()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, e)
	r.groups[key] = append(r.groups[key], e)
}

// Remove drops the specific expectation from the registry. Persistent
// expectations are left in place.
func (r *Registry) Remove(e *Expectation) {
	if e.Persistent {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(e)
}

// RemoveAll clears every group, the full reset between test cases.
func (r *Registry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = nil
	r.groups = make(map[string][]*Expectation)
}

// Lookup returns the ordered expectation group for an endpoint. When any
// registered expectation carries a scope filter that accepts the
// requested canonical key, the first such expectation's entire endpoint
// group is returned instead, and filtered is true so callers can mark
// the redirect in diagnostics.
func (r *Registry) Lookup(ep endpoint.Endpoint) (list []*Expectation, filtered bool) {
	key := ep.Key()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.all {
		if e.ScopeFilter != nil && e.ScopeFilter(key) {
			return snapshot(r.groups[e.Endpoint.Key()]), true
		}
	}
	return snapshot(r.groups[key]), false
}

// Consume records one completed simulated exchange against e. Persistent
// expectations only bump their use counter. Otherwise the remaining-use
// counter is decremented and, on reaching zero, the expectation is
// removed; the decrement and removal are atomic, so a shared final use
// retires the expectation exactly once. Returns whether the expectation
// was removed and how many uses it has left.
func (r *Registry) Consume(e *Expectation) (removed bool, remaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e.TimesUsed++
	if e.Persistent {
		return false, e.RemainingUses
	}
	if e.RemainingUses > 0 {
		e.RemainingUses--
	}
	if e.RemainingUses > 0 {
		return false, e.RemainingUses
	}
	return r.removeLocked(e), 0
}

// All returns a snapshot of every registered expectation in global
// registration order.
func (r *Registry) All() []*Expectation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshot(r.all)
}

// Pending lists the request lines of expectations that have not served
// a single exchange yet.
func (r *Registry) Pending() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []string
	for _, e := range r.all {
		if e.TimesUsed == 0 {
			pending = append(pending, e.String())
		}
	}
	return pending
}

// Done reports whether every registered expectation served at least one
// exchange.
func (r *Registry) Done() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.all {
		if e.TimesUsed == 0 {
			return false
		}
	}
	return true
}

func (r *Registry) removeLocked(e *Expectation) bool {
	found := false
	for i, cur := range r.all {
		if cur == e {
			r.all = append(r.all[:i], r.all[i+1:]...)
			found = true
			break
		}
	}

	key := e.Endpoint.Key()
	group := r.groups[key]
	for i, cur := range group {
		if cur == e {
			group = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(group) == 0 {
		delete(r.groups, key)
	} else {
		r.groups[key] = group
	}
	return found
}

func snapshot(list []*Expectation) []*Expectation {
	if len(list) == 0 {
		return nil
	}
	out := make([]*Expectation, len(list))
	copy(out, list)
	return out
}
