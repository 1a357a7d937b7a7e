// Package fanout implements the multi-network fan-out of SPEC_FULL.md
// §4.9: joining parallel (network, operator) slices by networkIdentifier
// and mapping a function over each dimension independently.
package fanout

import "fmt"

// Identified is anything keyed by a CAIP-2 network identifier.
type Identified interface {
	NetworkIdentifier() string
}

// Set holds the validated 1:1 join between a slice of networks and a
// slice of operators, indexed by their shared networkIdentifier.
type Set[N Identified, O Identified] struct {
	networks  map[string]N
	operators map[string]O
	order     []string
}

// New validates that networks and operators have equal length and that
// every index pairs a matching networkIdentifier, per §4.9's startup
// validation; any violation is returned as a fatal configuration error.
func New[N Identified, O Identified](networks []N, operators []O) (*Set[N, O], error) {
	if len(networks) != len(operators) {
		return nil, fmt.Errorf("fanout: %d networks but %d operators: counts must match", len(networks), len(operators))
	}
	set := &Set[N, O]{
		networks:  make(map[string]N, len(networks)),
		operators: make(map[string]O, len(operators)),
	}
	for i := range networks {
		netID := networks[i].NetworkIdentifier()
		opID := operators[i].NetworkIdentifier()
		if netID != opID {
			return nil, fmt.Errorf("fanout: index %d: network identifier %q does not match operator identifier %q", i, netID, opID)
		}
		if _, dup := set.networks[netID]; dup {
			return nil, fmt.Errorf("fanout: duplicate network identifier %q", netID)
		}
		set.networks[netID] = networks[i]
		set.operators[netID] = operators[i]
		set.order = append(set.order, netID)
	}
	return set, nil
}

// MapNetworks applies f to every network, keyed by networkIdentifier.
func (s *Set[N, O]) MapNetworks(f func(N) error) map[string]error {
	out := make(map[string]error)
	for _, id := range s.order {
		if err := f(s.networks[id]); err != nil {
			out[id] = err
		}
	}
	return out
}

// MapOperators applies f to every operator, keyed by networkIdentifier.
func (s *Set[N, O]) MapOperators(f func(O) error) map[string]error {
	out := make(map[string]error)
	for _, id := range s.order {
		if err := f(s.operators[id]); err != nil {
			out[id] = err
		}
	}
	return out
}

// MapPairs applies f to every (network, operator) pair joined by
// networkIdentifier.
func (s *Set[N, O]) MapPairs(f func(N, O) error) map[string]error {
	out := make(map[string]error)
	for _, id := range s.order {
		if err := f(s.networks[id], s.operators[id]); err != nil {
			out[id] = err
		}
	}
	return out
}

// NetworkIdentifiers returns every joined networkIdentifier, in input order.
func (s *Set[N, O]) NetworkIdentifiers() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Network returns the network value for a networkIdentifier.
func (s *Set[N, O]) Network(id string) (N, bool) {
	n, ok := s.networks[id]
	return n, ok
}

// Operator returns the operator value for a networkIdentifier.
func (s *Set[N, O]) Operator(id string) (O, bool) {
	o, ok := s.operators[id]
	return o, ok
}
