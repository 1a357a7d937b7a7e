// Package rules implements the indexing rule engine of §4.3: storage
// passthrough to the persistence adapter, merge-with-global resolution,
// and the worthiness predicate Worthy. reconciler.Pass does not call
// Worthy: it manages every deployment whose basis is always, rules or
// dips, with no threshold check.
package rules

import (
	"strconv"

	"github.com/graphprotocol/indexer-sub006/core"
)

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

// Store is the subset of db.Store the rule engine depends on.
type Store interface {
	UpsertRule(rule core.IndexingRule) (core.IndexingRule, error)
	FetchRules(network, identifier string, merged bool) ([]core.IndexingRule, error)
	DeleteRules(network string, identifiers []string) error
}

// Engine resolves and stores indexing rules for a set of networks.
type Engine struct {
	store Store
}

// New constructs a rule engine over the given persistence adapter.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// Set upserts a rule. If rule.Identifier is empty it defaults to
// core.GlobalIdentifier, matching the "setting a rule with no identifier
// updates the network's global rule" convenience of the management API.
func (e *Engine) Set(rule core.IndexingRule) (core.IndexingRule, error) {
	if rule.Identifier == "" {
		rule.Identifier = core.GlobalIdentifier
	}
	return e.store.UpsertRule(rule)
}

// Get returns the merged rule for identifier on network: every unset
// field falls back to the network's global rule.
func (e *Engine) Get(network, identifier string) (core.IndexingRule, error) {
	rules, err := e.store.FetchRules(network, identifier, true)
	if err != nil {
		return core.IndexingRule{}, err
	}
	if len(rules) == 0 {
		return core.Merge(core.IndexingRule{Identifier: identifier, ProtocolNetwork: network},
			core.DefaultIndexingRule(network)), nil
	}
	return rules[0], nil
}

// List returns every merged rule configured for network.
func (e *Engine) List(network string) ([]core.IndexingRule, error) {
	return e.store.FetchRules(network, "", true)
}

// Delete removes the named rules; deleting the global identifier resets
// it to core.DefaultIndexingRule rather than leaving the network ruleless.
func (e *Engine) Delete(network string, identifiers []string) error {
	return e.store.DeleteRules(network, identifiers)
}

// UpsertDecisionBasis implements §4.7 step 5: after a successful batch
// action against deploymentID, the executor calls this so a later
// reconciler pass keeps treating the deployment the way the just-executed
// action implies (e.g. an allocate the reconciler didn't originate still
// gets an "always" rule so it isn't immediately torn down next pass). It
// is a no-op when a deployment-specific rule for this identifier already
// exists: an operator's explicit rule always wins.
func (e *Engine) UpsertDecisionBasis(network, deploymentID, decisionBasis string) error {
	existing, err := e.store.FetchRules(network, deploymentID, false)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	_, err = e.store.UpsertRule(core.IndexingRule{
		Identifier:      deploymentID,
		IdentifierType:  core.IdentifierDeployment,
		ProtocolNetwork: network,
		DecisionBasis:   core.DecisionBasis(decisionBasis),
	})
	return err
}

// Worthy reports whether, given a merged rule and the deployment's
// observed network signal, the deployment should be indexed. It
// implements the decision-basis branch of §4.3: "never"/"always" short-
// circuit; "rules" applies the economic thresholds; "offchain" and "dips"
// are owned by external collaborators and always report false here (the
// reconciler treats them as already-decided elsewhere).
func Worthy(rule core.IndexingRule, signal Signal) bool {
	switch rule.DecisionBasis {
	case core.DecisionNever:
		return false
	case core.DecisionAlways:
		return true
	case core.DecisionOffchain, core.DecisionDips:
		return false
	case core.DecisionRules:
		return worthyByRules(rule, signal)
	default:
		return false
	}
}

// Signal is the network-observed state a rules decision is made against.
type Signal struct {
	Signal       float64
	AverageQueryFees float64
	Stake        float64
}

func worthyByRules(rule core.IndexingRule, signal Signal) bool {
	if rule.MinSignal != nil {
		if min, err := parseFloat(*rule.MinSignal); err == nil && signal.Signal < min {
			return false
		}
	}
	if rule.MaxSignal != nil {
		if max, err := parseFloat(*rule.MaxSignal); err == nil && signal.Signal > max {
			return false
		}
	}
	if rule.MinStake != nil {
		if min, err := parseFloat(*rule.MinStake); err == nil && signal.Stake < min {
			return false
		}
	}
	if rule.MinAverageQueryFees != nil {
		if min, err := parseFloat(*rule.MinAverageQueryFees); err == nil && signal.AverageQueryFees < min {
			return false
		}
	}
	return true
}
