package deliberation

import (
	"fmt"
	"sync"

	"delphi/pkg/errors"
	"delphi/pkg/logger"
)

// Analyst capability names
const (
	CapabilityMarket       = "market"
	CapabilityFundamentals = "fundamentals"
	CapabilityNews         = "news"
	CapabilitySocial       = "social"
)

// DefaultCapabilities is the documented fallback when market restrictions
// leave a request empty
var DefaultCapabilities = []string{CapabilityMarket, CapabilityFundamentals}

// StageHandle binds a resolved capability to its agent
type StageHandle struct {
	Capability string
	Agent      Agent
}

// Registry maps capability names to callable agents and validates
// availability against per-market restrictions. The restriction table is
// read-only from the engine's perspective.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]Agent
	restricted map[string]map[string]bool // market -> disallowed capabilities
	log        *logger.Logger
}

// NewRegistry constructs an empty registry
func NewRegistry() *Registry {
	return &Registry{
		agents:     make(map[string]Agent),
		restricted: make(map[string]map[string]bool),
		log:        logger.Get().With("component", "stage_registry"),
	}
}

// Register adds or replaces a capability entry
func (r *Registry) Register(capability string, ag Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[capability] = ag
}

// AddMarket declares a market and the capabilities it disallows. A market
// must be declared to be accepted at submission, even with no restrictions.
func (r *Registry) AddMarket(market string, disallowed ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := make(map[string]bool, len(disallowed))
	for _, c := range disallowed {
		set[c] = true
	}
	r.restricted[market] = set
}

// KnownMarket reports whether the market was declared
func (r *Registry) KnownMarket(market string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.restricted[market]
	return ok
}

// Capabilities returns registered capability names
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]string, 0, len(r.agents))
	for c := range r.agents {
		res = append(res, c)
	}
	return res
}

// ResolveStages maps requested capability names to stage handles in the
// caller's order, deduplicated. Capabilities restricted for the market or
// not registered are dropped silently; each drop is returned as an
// advisory note, never an error. An empty result falls back to the
// documented default set.
func (r *Registry) ResolveStages(requested []string, market string) ([]StageHandle, []string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	disallowed, ok := r.restricted[market]
	if !ok {
		return nil, nil, errors.Wrapf(errors.ErrUnknownMarket, "market %q", market)
	}

	var (
		stages     []StageHandle
		advisories []string
		seen       = make(map[string]bool)
	)

	appendStage := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true

		if disallowed[name] {
			advisories = append(advisories, fmt.Sprintf("capability %q is not supported for market %q", name, market))
			return
		}

		ag, registered := r.agents[name]
		if !registered {
			advisories = append(advisories, fmt.Sprintf("capability %q is not registered", name))
			return
		}

		stages = append(stages, StageHandle{Capability: name, Agent: ag})
	}

	for _, name := range requested {
		appendStage(name)
	}

	if len(stages) == 0 {
		r.log.Warnf("No usable capabilities for market %q, falling back to defaults", market)
		for _, name := range DefaultCapabilities {
			appendStage(name)
		}
	}

	return stages, advisories, nil
}
