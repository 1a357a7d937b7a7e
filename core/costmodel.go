package core

import "time"

// CostModel is one entry in the append-only per-deployment pricing history.
// The latest row (by ID) per deployment is the active version; the
// "global" sentinel deployment supplies defaults when no deployment-
// specific model exists.
type CostModel struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Deployment   string    `gorm:"column:deployment;index"`
	Model        string    `gorm:"column:model"`
	Variables    string    `gorm:"column:variables"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName pins the GORM table name so AutoMigrate matches §6's layout.
func (CostModel) TableName() string { return "cost_models_history" }

// POIDispute is a store-only record of a disputed proof of indexing,
// keyed by (AllocationID, ProtocolNetwork). Upserts merge proof fields
// rather than overwrite wholesale.
type POIDispute struct {
	AllocationID       string `gorm:"column:allocation_id;primaryKey"`
	ProtocolNetwork    string `gorm:"column:protocol_network;primaryKey"`
	SubgraphDeployment string `gorm:"column:subgraph_deployment"`
	AllocationIndexer  string `gorm:"column:allocation_indexer"`
	AllocationAmount   string `gorm:"column:allocation_amount"`
	AllocationProof    string `gorm:"column:allocation_proof"`
	ClosedEpoch        int64  `gorm:"column:closed_epoch"`
	ClosedEpochStartBlockHash string `gorm:"column:closed_epoch_start_block_hash"`
	ClosedEpochStartBlockNumber int64 `gorm:"column:closed_epoch_start_block_number"`
	ClosedEpochReferenceProof   string `gorm:"column:closed_epoch_reference_proof"`
	PreviousEpochStartBlockHash string `gorm:"column:previous_epoch_start_block_hash"`
	PreviousEpochStartBlockNumber int64 `gorm:"column:previous_epoch_start_block_number"`
	PreviousEpochReferenceProof   string `gorm:"column:previous_epoch_reference_proof"`
	Status string `gorm:"column:status"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the GORM table name so AutoMigrate matches §6's layout.
func (POIDispute) TableName() string { return "poi_disputes" }

// Merge applies non-empty fields from update onto existing, per the
// "upserts must merge proof fields" invariant of §3.
func (existing POIDispute) Merge(update POIDispute) POIDispute {
	merged := existing
	if update.SubgraphDeployment != "" {
		merged.SubgraphDeployment = update.SubgraphDeployment
	}
	if update.AllocationIndexer != "" {
		merged.AllocationIndexer = update.AllocationIndexer
	}
	if update.AllocationAmount != "" {
		merged.AllocationAmount = update.AllocationAmount
	}
	if update.AllocationProof != "" {
		merged.AllocationProof = update.AllocationProof
	}
	if update.ClosedEpoch != 0 {
		merged.ClosedEpoch = update.ClosedEpoch
	}
	if update.ClosedEpochStartBlockHash != "" {
		merged.ClosedEpochStartBlockHash = update.ClosedEpochStartBlockHash
	}
	if update.ClosedEpochStartBlockNumber != 0 {
		merged.ClosedEpochStartBlockNumber = update.ClosedEpochStartBlockNumber
	}
	if update.ClosedEpochReferenceProof != "" {
		merged.ClosedEpochReferenceProof = update.ClosedEpochReferenceProof
	}
	if update.PreviousEpochStartBlockHash != "" {
		merged.PreviousEpochStartBlockHash = update.PreviousEpochStartBlockHash
	}
	if update.PreviousEpochStartBlockNumber != 0 {
		merged.PreviousEpochStartBlockNumber = update.PreviousEpochStartBlockNumber
	}
	if update.PreviousEpochReferenceProof != "" {
		merged.PreviousEpochReferenceProof = update.PreviousEpochReferenceProof
	}
	if update.Status != "" {
		merged.Status = update.Status
	}
	return merged
}
