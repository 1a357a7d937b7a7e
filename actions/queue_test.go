package actions

import (
	"strings"
	"testing"
	"time"

	"github.com/graphprotocol/indexer-sub006/core"
)

type fakeStore struct {
	rows   []core.Action
	nextID int64
}

func (f *fakeStore) FindActions(filter core.ActionFilter, orderBy string, orderDir core.OrderDirection) ([]core.Action, error) {
	var out []core.Action
	for _, a := range f.rows {
		if filter.DeploymentID != "" && a.DeploymentID != filter.DeploymentID {
			continue
		}
		if filter.ProtocolNetwork != "" && a.ProtocolNetwork != filter.ProtocolNetwork {
			continue
		}
		if len(filter.IDs) > 0 {
			match := false
			for _, id := range filter.IDs {
				if a.ID == id {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		if len(filter.Statuses) > 0 {
			match := false
			for _, s := range filter.Statuses {
				if a.Status == s {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		if filter.UpdatedSince != nil {
			if a.UpdatedAt == nil || a.UpdatedAt.Before(*filter.UpdatedSince) {
				continue
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) UpsertAction(action core.Action) (core.Action, error) {
	if action.ID == 0 {
		for i, a := range f.rows {
			if a.DeploymentID == action.DeploymentID && a.ProtocolNetwork == action.ProtocolNetwork && !a.Status.Terminal() {
				if a.Source != action.Source {
					return core.Action{}, core.NewConstraintError("a non-terminal action from a different source already targets this deployment")
				}
				now := time.Now()
				action.ID = a.ID
				action.CreatedAt = a.CreatedAt
				action.UpdatedAt = &now
				f.rows[i] = action
				return action, nil
			}
		}
		f.nextID++
		action.ID = f.nextID
		now := time.Now()
		action.CreatedAt = &now
		action.UpdatedAt = &now
		f.rows = append(f.rows, action)
		return action, nil
	}
	for i, a := range f.rows {
		if a.ID == action.ID {
			now := time.Now()
			action.UpdatedAt = &now
			f.rows[i] = action
			return action, nil
		}
	}
	return core.Action{}, core.NewConstraintError("not found")
}

type fakeMonitor struct {
	knownDeployments map[string]bool
	activeAllocs     map[string]bool
}

func (f *fakeMonitor) KnowsDeployment(deploymentID, network string) bool {
	if f.knownDeployments == nil {
		return true
	}
	return f.knownDeployments[deploymentID]
}

func (f *fakeMonitor) AllocationActive(allocationID, network string) bool {
	if f.activeAllocs == nil {
		return true
	}
	return f.activeAllocs[allocationID]
}

func TestEnqueueRequiresFields(t *testing.T) {
	q := New(&fakeStore{}, nil, time.Hour)
	_, err := q.Enqueue(core.Action{Type: core.ActionAllocate, ProtocolNetwork: "eip155:1"})
	if err == nil {
		t.Fatal("expected validation error for missing amount")
	}
}

func TestEnqueueThenApprove(t *testing.T) {
	amount := "1"
	q := New(&fakeStore{}, nil, time.Hour)
	queued, err := q.Enqueue(core.Action{
		Type: core.ActionAllocate, DeploymentID: "Qmx", Amount: &amount, ProtocolNetwork: "eip155:1",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	approved, err := q.Approve([]int64{queued.ID})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if len(approved) != 1 || approved[0].Status != core.ActionApproved {
		t.Errorf("approved = %+v, want one action with status approved", approved)
	}
}

func TestCancelTerminalActionFails(t *testing.T) {
	amount := "1"
	q := New(&fakeStore{}, nil, time.Hour)
	queued, _ := q.Enqueue(core.Action{
		Type: core.ActionAllocate, DeploymentID: "Qmx", Amount: &amount, ProtocolNetwork: "eip155:1",
	})
	if _, err := q.Cancel([]int64{queued.ID}); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if _, err := q.Cancel([]int64{queued.ID}); err == nil {
		t.Fatal("expected error canceling an already-terminal action")
	}
}

func TestApproveMissingIDReportsAllMissing(t *testing.T) {
	q := New(&fakeStore{}, nil, time.Hour)
	_, err := q.Approve([]int64{404, 405})
	if err == nil {
		t.Fatal("expected error for unknown action ids")
	}
	if !strings.Contains(err.Error(), "[404 405]") {
		t.Errorf("error = %q, want both missing ids reported", err.Error())
	}
}

func TestEnqueueRejectsUnknownDeployment(t *testing.T) {
	amount := "1"
	monitor := &fakeMonitor{knownDeployments: map[string]bool{}}
	q := New(&fakeStore{}, monitor, time.Hour)
	_, err := q.Enqueue(core.Action{
		Type: core.ActionAllocate, DeploymentID: "Qmunknown", Amount: &amount, ProtocolNetwork: "eip155:1",
	})
	if err == nil {
		t.Fatal("expected error for deployment unknown to the network monitor")
	}
}

func TestEnqueueRejectsInactiveAllocation(t *testing.T) {
	allocationID := "0xallocation"
	monitor := &fakeMonitor{
		knownDeployments: map[string]bool{"Qmx": true},
		activeAllocs:     map[string]bool{},
	}
	q := New(&fakeStore{}, monitor, time.Hour)
	_, err := q.Enqueue(core.Action{
		Type: core.ActionUnallocate, DeploymentID: "Qmx", AllocationID: &allocationID, ProtocolNetwork: "eip155:1",
	})
	if err == nil {
		t.Fatal("expected error for allocation not active on chain")
	}
}

func TestEnqueueFromDifferentSourceRejectsConflict(t *testing.T) {
	amount := "1"
	q := New(&fakeStore{}, nil, time.Hour)
	_, err := q.Enqueue(core.Action{
		Type: core.ActionAllocate, DeploymentID: "Qmx", Amount: &amount, ProtocolNetwork: "eip155:1", Source: "rules",
	})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	_, err = q.Enqueue(core.Action{
		Type: core.ActionAllocate, DeploymentID: "Qmx", Amount: &amount, ProtocolNetwork: "eip155:1", Source: "manual", Force: true,
	})
	if err == nil {
		t.Fatal("expected conflict rejecting insertion from a different source")
	}
}

func TestEnqueueFromSameSourceOverwrites(t *testing.T) {
	amount := "1"
	other := "2"
	q := New(&fakeStore{}, nil, time.Hour)
	first, err := q.Enqueue(core.Action{
		Type: core.ActionAllocate, DeploymentID: "Qmx", Amount: &amount, ProtocolNetwork: "eip155:1", Source: "rules",
	})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	second, err := q.Enqueue(core.Action{
		Type: core.ActionAllocate, DeploymentID: "Qmx", Amount: &other, ProtocolNetwork: "eip155:1", Source: "rules", Force: true,
	})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected overwrite of id %d, got new id %d", first.ID, second.ID)
	}
	if *second.Amount != other {
		t.Errorf("amount = %q, want %q", *second.Amount, other)
	}
}
