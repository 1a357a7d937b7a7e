package db

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/graphprotocol/indexer-sub006/core"
)

// newTestStore opens an in-memory sqlite database and runs the same
// AutoMigrate path Open uses, so the CRUD operations below exercise real
// GORM/SQL semantics without a live Postgres instance. Clause.OnConflict
// with explicit columns behaves the same way on sqlite's upsert support
// as it does against Postgres.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&core.IndexingRule{},
		&core.Action{},
		&core.CostModel{},
		&core.POIDispute{},
	))
	return &Store{db: gdb}
}

func TestOpenAcceptsLogger(t *testing.T) {
	_ = DefaultConfig("postgres://localhost/test")
	_ = logrus.NewEntry(logrus.New())
}

func TestUpsertAndFetchRules(t *testing.T) {
	s := newTestStore(t)

	global := core.DefaultIndexingRule("eip155:1")
	_, err := s.UpsertRule(global)
	require.NoError(t, err)

	lifetime := 5
	deployment := core.IndexingRule{
		Identifier:         "Qmdeployment",
		IdentifierType:     core.IdentifierDeployment,
		ProtocolNetwork:    "eip155:1",
		AllocationLifetime: &lifetime,
	}
	_, err = s.UpsertRule(deployment)
	require.NoError(t, err)

	rules, err := s.FetchRules("eip155:1", "", true)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	var merged core.IndexingRule
	for _, r := range rules {
		if r.Identifier == "Qmdeployment" {
			merged = r
		}
	}
	assert.Equal(t, 5, *merged.AllocationLifetime)
	require.NotNil(t, merged.AllocationAmount)
	assert.Equal(t, "0", *merged.AllocationAmount)
}

func TestDeleteRulesResetsGlobal(t *testing.T) {
	s := newTestStore(t)
	global := core.DefaultIndexingRule("eip155:1")
	*global.AllocationAmount = "123"
	_, err := s.UpsertRule(global)
	require.NoError(t, err)

	err = s.DeleteRules("eip155:1", []string{core.GlobalIdentifier})
	require.NoError(t, err)

	rules, err := s.FetchRules("eip155:1", core.GlobalIdentifier, false)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "0", *rules[0].AllocationAmount)
}

func TestUpsertActionRejectsConcurrentNonTerminalFromDifferentSource(t *testing.T) {
	s := newTestStore(t)
	amount := "100"

	first := core.Action{
		Status:          core.ActionQueued,
		Type:            core.ActionAllocate,
		DeploymentID:    "Qmx",
		Amount:          &amount,
		ProtocolNetwork: "eip155:1",
		Source:          "rules",
	}
	_, err := s.UpsertAction(first)
	require.NoError(t, err)

	second := first
	second.Source = "manual"
	_, err = s.UpsertAction(second)
	require.Error(t, err)
	kind, ok := core.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, core.KindConstraint, kind)
}

func TestUpsertActionFromSameSourceOverwrites(t *testing.T) {
	s := newTestStore(t)
	amount := "100"
	other := "200"

	first := core.Action{
		Status:          core.ActionQueued,
		Type:            core.ActionAllocate,
		DeploymentID:    "Qmx",
		Amount:          &amount,
		ProtocolNetwork: "eip155:1",
		Source:          "rules",
	}
	created, err := s.UpsertAction(first)
	require.NoError(t, err)

	second := first
	second.Amount = &other
	updated, err := s.UpsertAction(second)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, other, *updated.Amount)

	all, err := s.FindActions(core.ActionFilter{DeploymentID: "Qmx", ProtocolNetwork: "eip155:1"}, "", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestFindActionsDefaultOrdering(t *testing.T) {
	s := newTestStore(t)
	amount := "1"
	for i, priority := range []int{1, 5, 3} {
		a := core.Action{
			Status:          core.ActionQueued,
			Type:            core.ActionAllocate,
			DeploymentID:    "Qm" + string(rune('a'+i)),
			Amount:          &amount,
			Priority:        priority,
			ProtocolNetwork: "eip155:1",
		}
		_, err := s.UpsertAction(a)
		require.NoError(t, err)
	}

	actions, err := s.FindActions(core.ActionFilter{ProtocolNetwork: "eip155:1"}, "", "")
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, 5, actions[0].Priority)
	assert.Equal(t, 3, actions[1].Priority)
	assert.Equal(t, 1, actions[2].Priority)
}

func TestLatestCostModelFallsBackToGlobal(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpsertCostModel(core.CostModel{Deployment: "global", Model: "default()", Variables: "{}"})
	require.NoError(t, err)

	model, err := s.LatestCostModel("Qmnotpresent")
	require.NoError(t, err)
	assert.Equal(t, "global", model.Deployment)

	_, err = s.UpsertCostModel(core.CostModel{Deployment: "Qmx", Model: "flat()", Variables: "{}"})
	require.NoError(t, err)
	_, err = s.UpsertCostModel(core.CostModel{Deployment: "Qmx", Model: "flat2()", Variables: "{}"})
	require.NoError(t, err)

	model, err = s.LatestCostModel("Qmx")
	require.NoError(t, err)
	assert.Equal(t, "flat2()", model.Model)
}

func TestUpsertDisputeMergesProofFields(t *testing.T) {
	s := newTestStore(t)
	first := core.POIDispute{
		AllocationID:       "0xabc",
		ProtocolNetwork:    "eip155:1",
		SubgraphDeployment: "Qmx",
		AllocationProof:    "proof1",
		Status:             "potential",
	}
	_, err := s.UpsertDispute(first)
	require.NoError(t, err)

	update := core.POIDispute{
		AllocationID:    "0xabc",
		ProtocolNetwork: "eip155:1",
		Status:          "valid",
	}
	merged, err := s.UpsertDispute(update)
	require.NoError(t, err)
	assert.Equal(t, "valid", merged.Status)
	assert.Equal(t, "proof1", merged.AllocationProof)
	assert.Equal(t, "Qmx", merged.SubgraphDeployment)
}
