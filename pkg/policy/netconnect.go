// Package policy decides what happens to requests no expectation
// matched: forward to the real network or fail with a blocked-host
// error. The policy is engine-wide mutable state, changed only through
// the explicit enable/disable operations.
package policy

import (
	"sync"

	"github.com/snarelabs/snare/internal/errx"
	"github.com/snarelabs/snare/pkg/api"
	"github.com/snarelabs/snare/pkg/endpoint"
	"github.com/snarelabs/snare/pkg/match"
)

// Mode is the tri-state net-connect setting.
type Mode int

const (
	// AllowAll forwards every unmatched request.
	AllowAll Mode = iota
	// DenyAll blocks every unmatched request.
	DenyAll
	// AllowMatching forwards unmatched requests whose canonical host
	// satisfies the configured pattern and blocks the rest.
	AllowMatching
)

func (m Mode) String() string {
	switch m {
	case DenyAll:
		return "deny-all"
	case AllowMatching:
		return "allow-matching"
	default:
		return "allow-all"
	}
}

// NetConnect holds the current policy. Safe for concurrent use.
// The zero value behaves like AllowAll; NewNetConnect makes that
// starting state explicit.
type NetConnect struct {
	mu      sync.RWMutex
	mode    Mode
	pattern match.Matcher
}

// NewNetConnect returns a policy that allows all real connections.
func NewNetConnect() *NetConnect {
	return &NetConnect{mode: AllowAll}
}

// Enable switches to allow-all.
func (p *NetConnect) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = AllowAll
	p.pattern = nil
}

// EnableMatching allows only hosts the matcher accepts. The matcher is
// tested against the canonical hostname:port form.
func (p *NetConnect) EnableMatching(m match.Matcher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = AllowMatching
	p.pattern = m
}

// EnableHosts allows only the named hosts, compared by hostname with
// any port ignored.
func (p *NetConnect) EnableHosts(hosts ...string) {
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		allowed[endpoint.Endpoint{Host: h}.Hostname()] = struct{}{}
	}
	p.EnableMatching(match.Predicate(func(host string) bool {
		_, ok := allowed[endpoint.Endpoint{Host: host}.Hostname()]
		return ok
	}))
}

// Disable switches to deny-all.
func (p *NetConnect) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = DenyAll
	p.pattern = nil
}

// Mode returns the current tri-state setting.
func (p *NetConnect) Mode() Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

// Verdict decides the fate of an unmatched request to host (canonical
// hostname:port). nil means forward; otherwise the error wraps
// api.ErrNetConnectBlocked and names the blocked host.
func (p *NetConnect) Verdict(host string) error {
	p.mu.RLock()
	mode, pattern := p.mode, p.pattern
	p.mu.RUnlock()

	switch mode {
	case AllowAll:
		return nil
	case AllowMatching:
		if pattern != nil && pattern.Match(host) {
			return nil
		}
	}
	return errx.With(api.ErrNetConnectBlocked, " for %q", host)
}
