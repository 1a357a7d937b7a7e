// Package core holds the data model shared by every component of the
// indexer management core: indexing rules, actions, cost models, POI
// disputes, and the read-only allocation projection.
package core

import "time"

// GlobalIdentifier is the sentinel identifier of the per-network default
// rule. A global rule always exists for each configured network; deleting
// it recreates it at DefaultIndexingRule values in the same transaction.
const GlobalIdentifier = "global"

// IdentifierType classifies what IndexingRule.Identifier names.
type IdentifierType string

const (
	IdentifierDeployment IdentifierType = "deployment"
	IdentifierSubgraph   IdentifierType = "subgraph"
	IdentifierGroup      IdentifierType = "group"
)

// DecisionBasis selects how the reconciler treats a deployment.
type DecisionBasis string

const (
	DecisionRules    DecisionBasis = "rules"
	DecisionNever    DecisionBasis = "never"
	DecisionAlways   DecisionBasis = "always"
	DecisionOffchain DecisionBasis = "offchain"
	DecisionDips     DecisionBasis = "dips"
)

// IndexingRule is a declarative statement of economic conditions under
// which a deployment (or the "global" sentinel) should be indexed.
//
// Numeric decision parameters are pointers so that "unset" (null) is
// distinguishable from the zero value, which the merge semantics of §4.3
// depend on: a deployment rule's unset field falls back to the global
// rule's value, whereas an explicit zero must not.
type IndexingRule struct {
	Identifier      string         `gorm:"column:identifier;primaryKey"`
	IdentifierType  IdentifierType `gorm:"column:identifier_type"`
	ProtocolNetwork string         `gorm:"column:protocol_network;primaryKey"`

	AllocationAmount        *string  `gorm:"column:allocation_amount"`
	ParallelAllocations     *int     `gorm:"column:parallel_allocations"`
	MaxAllocationPercentage *float64 `gorm:"column:max_allocation_percentage"`
	MinSignal               *string `gorm:"column:min_signal"`
	MaxSignal                *string `gorm:"column:max_signal"`
	MinStake                 *string `gorm:"column:min_stake"`
	MinAverageQueryFees      *string `gorm:"column:min_average_query_fees"`
	AllocationLifetime       *int    `gorm:"column:allocation_lifetime"`
	AutoRenewal              *bool   `gorm:"column:auto_renewal"`
	Custom                   *string `gorm:"column:custom"`

	DecisionBasis    DecisionBasis `gorm:"column:decision_basis"`
	RequireSupported *bool         `gorm:"column:require_supported"`
	Safety           *bool         `gorm:"column:safety"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the GORM table name so AutoMigrate matches §6's layout.
func (IndexingRule) TableName() string { return "indexing_rules" }

// DefaultIndexingRule is the value a network's global rule is reset to on
// deletion (§4.2, §8 property 2).
func DefaultIndexingRule(network string) IndexingRule {
	allocationAmount := "0"
	parallel := 1
	maxPct := 1.0
	autoRenewal := true
	requireSupported := true
	safety := true
	return IndexingRule{
		Identifier:              GlobalIdentifier,
		IdentifierType:          IdentifierGroup,
		ProtocolNetwork:         network,
		AllocationAmount:        &allocationAmount,
		ParallelAllocations:     &parallel,
		MaxAllocationPercentage: &maxPct,
		AllocationLifetime:      intPtr(28),
		AutoRenewal:             &autoRenewal,
		DecisionBasis:           DecisionRules,
		RequireSupported:        &requireSupported,
		Safety:                  &safety,
	}
}

func intPtr(v int) *int { return &v }

// Merge produces the deployment rule with every null/unset field replaced
// by the corresponding global field. Neither input is mutated. Merge is
// idempotent: Merge(Merge(d, g), g) == Merge(d, g), since Merge never
// leaves a field null when g has a value for it.
func Merge(deployment, global IndexingRule) IndexingRule {
	merged := deployment
	if merged.AllocationAmount == nil {
		merged.AllocationAmount = global.AllocationAmount
	}
	if merged.ParallelAllocations == nil {
		merged.ParallelAllocations = global.ParallelAllocations
	}
	if merged.MaxAllocationPercentage == nil {
		merged.MaxAllocationPercentage = global.MaxAllocationPercentage
	}
	if merged.MinSignal == nil {
		merged.MinSignal = global.MinSignal
	}
	if merged.MaxSignal == nil {
		merged.MaxSignal = global.MaxSignal
	}
	if merged.MinStake == nil {
		merged.MinStake = global.MinStake
	}
	if merged.MinAverageQueryFees == nil {
		merged.MinAverageQueryFees = global.MinAverageQueryFees
	}
	if merged.AllocationLifetime == nil {
		merged.AllocationLifetime = global.AllocationLifetime
	}
	if merged.AutoRenewal == nil {
		merged.AutoRenewal = global.AutoRenewal
	}
	if merged.Custom == nil {
		merged.Custom = global.Custom
	}
	if merged.DecisionBasis == "" {
		merged.DecisionBasis = global.DecisionBasis
	}
	if merged.RequireSupported == nil {
		merged.RequireSupported = global.RequireSupported
	}
	if merged.Safety == nil {
		merged.Safety = global.Safety
	}
	return merged
}
