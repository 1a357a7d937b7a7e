package core

import "time"

// ActionStatus is the lifecycle state of a queued mutation. Status
// transitions move only forward; actions are never deleted implicitly.
type ActionStatus string

const (
	ActionQueued    ActionStatus = "queued"
	ActionApproved  ActionStatus = "approved"
	ActionDeploying ActionStatus = "deploying"
	ActionPending   ActionStatus = "pending"
	ActionSuccess   ActionStatus = "success"
	ActionFailed    ActionStatus = "failed"
	ActionCanceled  ActionStatus = "canceled"
)

// NonTerminal reports whether the status is one of the statuses that block
// a second action on the same (deploymentID, protocolNetwork) per §3.
func (s ActionStatus) NonTerminal() bool {
	switch s {
	case ActionQueued, ActionApproved, ActionDeploying, ActionPending:
		return true
	default:
		return false
	}
}

func (s ActionStatus) Terminal() bool { return !s.NonTerminal() }

// ActionType is the closed set of mutation kinds. Per §9's design note,
// this set is never extended openly; every dispatch site switches over
// exactly these three.
type ActionType string

const (
	ActionAllocate   ActionType = "allocate"
	ActionUnallocate ActionType = "unallocate"
	ActionReallocate ActionType = "reallocate"
)

// Action is a pending or completed state change against the chain.
type Action struct {
	ID              int64        `gorm:"column:id;primaryKey;autoIncrement"`
	Status          ActionStatus `gorm:"column:status"`
	Type            ActionType   `gorm:"column:type"`
	DeploymentID    string       `gorm:"column:deployment_id"`
	AllocationID    *string      `gorm:"column:allocation_id"`
	Amount          *string      `gorm:"column:amount"`
	PoI             *string      `gorm:"column:poi"`
	Force           bool         `gorm:"column:force"`
	Priority        int          `gorm:"column:priority"`
	Source          string       `gorm:"column:source"`
	Reason          string       `gorm:"column:reason"`
	IsLegacy        bool         `gorm:"column:is_legacy"`
	SyncingNetwork  bool         `gorm:"column:syncing_network"`
	Transaction     *string      `gorm:"column:transaction"`
	FailureReason   *string      `gorm:"column:failure_reason"`
	ProtocolNetwork string       `gorm:"column:protocol_network"`

	// CreatedAt/UpdatedAt are nil until the action is persisted: a
	// freshly-prepared-but-not-yet-stored action may be returned with both
	// unset (SPEC_FULL.md §9 open question (a)); the persistence adapter
	// stamps both inside the same transaction that assigns ID.
	CreatedAt *time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt *time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the GORM table name so AutoMigrate matches §6's layout.
func (Action) TableName() string { return "actions" }

// RequiredFields reports the type-specific fields §3 requires before an
// action of this type may be queued.
func (a Action) RequiredFields() error {
	switch a.Type {
	case ActionAllocate:
		if a.DeploymentID == "" || a.Amount == nil {
			return NewValidationError("allocate action requires deploymentID and amount")
		}
	case ActionUnallocate:
		if a.DeploymentID == "" || a.AllocationID == nil {
			return NewValidationError("unallocate action requires deploymentID and allocationID")
		}
	case ActionReallocate:
		if a.DeploymentID == "" || a.AllocationID == nil || a.Amount == nil {
			return NewValidationError("reallocate action requires deploymentID, allocationID and amount")
		}
	default:
		return NewValidationError("unrecognized action type: " + string(a.Type))
	}
	return nil
}

// ActionFilter describes a query against the Actions table. Every
// non-nil/non-empty field narrows the result; zero value means "no filter
// on this column". It covers IDs, status, type, deployment, allocation,
// source and protocol network, plus a relative time filter on UpdatedAt;
// the other Action columns cannot be filtered on.
type ActionFilter struct {
	IDs             []int64
	Statuses        []ActionStatus
	Types           []ActionType
	DeploymentID    string
	AllocationID    string
	Source          string
	ProtocolNetwork string
	UpdatedSince    *time.Time
}

// OrderDirection is the sort direction for findActions/fetch.
type OrderDirection string

const (
	OrderAscending  OrderDirection = "asc"
	OrderDescending OrderDirection = "desc"
)
