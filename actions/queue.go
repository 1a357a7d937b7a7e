// Package actions implements the action queue of §4.5: queuing,
// approving, canceling, deleting, and fetching Action rows, plus the
// time-bounded throttle gate of §4.6 that rate-limits how often the same
// deployment may be re-queued.
package actions

import (
	"fmt"
	"time"

	"github.com/graphprotocol/indexer-sub006/core"
	"github.com/graphprotocol/indexer-sub006/queue"
)

// Store is the subset of db.Store the action queue depends on.
type Store interface {
	FindActions(filter core.ActionFilter, orderBy string, orderDir core.OrderDirection) ([]core.Action, error)
	UpsertAction(action core.Action) (core.Action, error)
}

// Monitor is the subset of the network monitor the action queue consults
// to reject actions against deployments or allocations it cannot validate.
type Monitor interface {
	KnowsDeployment(deploymentID, network string) bool
	AllocationActive(allocationID, network string) bool
}

// Publisher is the subset of queue.EventPublisher the action queue reports
// status transitions to. Optional: a nil Publisher just skips publication.
type Publisher interface {
	Publish(event queue.ActionEvent) error
}

// Queue manages the lifecycle of queued actions.
type Queue struct {
	store          Store
	monitor        Monitor
	publisher      Publisher
	throttleWindow time.Duration
	now            func() time.Time
}

// New constructs an action queue with the given throttle window: once an
// action against a deployment reaches a terminal status, a new action of
// the same type against the same deployment is rejected until the window
// has elapsed, unless Force is set. monitor may be nil, in which case the
// deployment/allocation validation checks are skipped (useful for tests
// exercising the queue in isolation from the network monitor).
func New(store Store, monitor Monitor, throttleWindow time.Duration) *Queue {
	return &Queue{store: store, monitor: monitor, throttleWindow: throttleWindow, now: time.Now}
}

// WithPublisher attaches an event publisher that every subsequent status
// transition (queued, approved, canceled) is reported to, per SPEC_FULL.md
// §2.3. Returns q for chaining at construction time.
func (q *Queue) WithPublisher(publisher Publisher) *Queue {
	q.publisher = publisher
	return q
}

func (q *Queue) publish(action core.Action) {
	if q.publisher == nil {
		return
	}
	reason := ""
	if action.FailureReason != nil {
		reason = *action.FailureReason
	}
	// Publication failures are not fatal: the action itself is already
	// durably stored, so the event is best-effort.
	_ = q.publisher.Publish(queue.ActionEvent{
		ActionID:        action.ID,
		DeploymentID:    action.DeploymentID,
		ProtocolNetwork: action.ProtocolNetwork,
		Status:          action.Status,
		Reason:          reason,
		OccurredAt:      q.now().UTC(),
	})
}

// Enqueue validates and stores a new action at core.ActionQueued. It
// enforces the deployment/allocation validation rules of §4.5 against the
// network monitor, the non-terminal duplicate rule (delegated to the
// store, which closes the race in a transaction: a second action from a
// different source is rejected, from the same source it overwrites), and
// the throttle gate here, ahead of the store call, since throttling is a
// courtesy rejection rather than a correctness invariant.
func (q *Queue) Enqueue(action core.Action) (core.Action, error) {
	action.Status = core.ActionQueued
	if err := action.RequiredFields(); err != nil {
		return core.Action{}, err
	}
	if q.monitor != nil {
		if !q.monitor.KnowsDeployment(action.DeploymentID, action.ProtocolNetwork) {
			return core.Action{}, core.NewValidationError(
				fmt.Sprintf("deployment %s is not known to the network monitor on %s", action.DeploymentID, action.ProtocolNetwork))
		}
		if action.AllocationID != nil && *action.AllocationID != "" {
			if !q.monitor.AllocationActive(*action.AllocationID, action.ProtocolNetwork) {
				return core.Action{}, core.NewValidationError(
					fmt.Sprintf("allocation %s is not currently active on %s", *action.AllocationID, action.ProtocolNetwork))
			}
		}
	}
	if !action.Force {
		throttled, err := q.throttled(action.Type, action.DeploymentID, action.ProtocolNetwork)
		if err != nil {
			return core.Action{}, err
		}
		if throttled {
			return core.Action{}, core.NewConstraintError(fmt.Sprintf(
				"Recently executed '%s' action found in queue targeting '%s'", action.Type, action.DeploymentID))
		}
	}
	saved, err := q.store.UpsertAction(action)
	if err != nil {
		return core.Action{}, err
	}
	q.publish(saved)
	return saved, nil
}

// throttled reports whether a terminal action of the same type against the
// same deployment completed within the throttle window.
func (q *Queue) throttled(actionType core.ActionType, deploymentID, network string) (bool, error) {
	since := q.now().Add(-q.throttleWindow)
	recent, err := q.store.FindActions(core.ActionFilter{
		DeploymentID:    deploymentID,
		ProtocolNetwork: network,
		Types:           []core.ActionType{actionType},
		UpdatedSince:    &since,
	}, "updated_at", core.OrderDescending)
	if err != nil {
		return false, err
	}
	for _, a := range recent {
		if a.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// Approve moves each named action from queued to approved, making it
// eligible for the next batch submission.
func (q *Queue) Approve(ids []int64) ([]core.Action, error) {
	return q.transition(ids, core.ActionApproved)
}

// Cancel moves each named non-terminal action to canceled.
func (q *Queue) Cancel(ids []int64) ([]core.Action, error) {
	return q.transition(ids, core.ActionCanceled)
}

func (q *Queue) transition(ids []int64, to core.ActionStatus) ([]core.Action, error) {
	found, err := q.get(ids)
	if err != nil {
		return nil, err
	}
	transitioned := make([]core.Action, 0, len(found))
	for _, existing := range found {
		if existing.Status.Terminal() {
			return nil, core.NewConstraintError(fmt.Sprintf("action %d is already in a terminal state", existing.ID))
		}
		existing.Status = to
		saved, err := q.store.UpsertAction(existing)
		if err != nil {
			return nil, err
		}
		q.publish(saved)
		transitioned = append(transitioned, saved)
	}
	return transitioned, nil
}

// get fetches every action named by ids, failing unless all of them are
// found.
func (q *Queue) get(ids []int64) ([]core.Action, error) {
	found, err := q.store.FindActions(core.ActionFilter{IDs: ids}, "", "")
	if err != nil {
		return nil, err
	}
	if len(found) != len(ids) {
		by := make(map[int64]bool, len(found))
		for _, a := range found {
			by[a.ID] = true
		}
		var missing []int64
		for _, id := range ids {
			if !by[id] {
				missing = append(missing, id)
			}
		}
		return nil, core.NewConstraintError(fmt.Sprintf("No action items found with id in %v", missing))
	}
	return found, nil
}

// NotifyResult reports a batch-submission outcome (success or failed) to
// the event publisher. Callers that persist an executor result directly
// through the store, bypassing Approve/Cancel, use this to still get the
// terminal transition published.
func (q *Queue) NotifyResult(action core.Action) {
	q.publish(action)
}

// Fetch returns actions matching filter, defaulting to (priority DESC, id
// ASC) ordering when orderBy is empty, as §4.7's batch submission expects.
func (q *Queue) Fetch(filter core.ActionFilter, orderBy string, orderDir core.OrderDirection) ([]core.Action, error) {
	return q.store.FindActions(filter, orderBy, orderDir)
}

// ApprovedForBatch returns every approved action on network, ready for the
// next batch submission.
func (q *Queue) ApprovedForBatch(network string) ([]core.Action, error) {
	return q.store.FindActions(core.ActionFilter{
		Statuses:        []core.ActionStatus{core.ActionApproved},
		ProtocolNetwork: network,
	}, "", "")
}
