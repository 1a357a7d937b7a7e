// Package db provides the relational persistence adapter: typed CRUD for
// indexing rules, actions, cost models, and POI disputes, backed by
// PostgreSQL through GORM.
//
// Schema evolution is additive-only (SPEC_FULL.md §6): new columns get
// defaults, enumerated-type widenings preserve old stored values, and no
// migration ever drops a column that has already shipped. AutoMigrate is
// the whole migration story here; real schema *down*-migrations remain an
// external, narrowly-contracted collaborator (§1) outside this module.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/graphprotocol/indexer-sub006/core"
)

// Store wraps a GORM connection scoped to the four tables of §6's
// persistent state layout.
type Store struct {
	db *gorm.DB
}

// Config configures a PostgreSQL connection for the persistence adapter.
type Config struct {
	URL             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns production-sane pool settings.
func DefaultConfig(url string) Config {
	return Config{
		URL:             url,
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
	}
}

// Open connects to PostgreSQL, configures the connection pool, and runs
// AutoMigrate for IndexingRules, Actions, CostModelsHistory, and
// POIDisputes. It is safe to call at every process start: AutoMigrate is
// idempotent and additive-only.
func Open(cfg Config, log *logrus.Entry) (*Store, error) {
	gdb, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, core.NewFatalError("failed to open postgres connection: " + err.Error())
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, core.NewFatalError("failed to access underlying sql.DB: " + err.Error())
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := gdb.AutoMigrate(
		&core.IndexingRule{},
		&core.Action{},
		&core.CostModel{},
		&core.POIDispute{},
	); err != nil {
		return nil, core.NewFatalError("failed to migrate schema: " + err.Error())
	}

	log.Info("persistence adapter connected and migrated")
	return &Store{db: gdb}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn inside a single GORM transaction. Every multi-row
// mutation in this package goes through this helper so that readers never
// observe partial writes (§5).
func (s *Store) Transaction(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// UpsertRule inserts or replaces an indexing rule, keyed on
// (identifier, protocol_network). Null-valued columns in rule overwrite
// any previously stored value: callers that want merge-on-write semantics
// must fetch, call core.Merge, and write the result back themselves — the
// store itself never merges silently.
func (s *Store) UpsertRule(rule core.IndexingRule) (core.IndexingRule, error) {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}, {Name: "protocol_network"}},
		UpdateAll: true,
	}).Create(&rule).Error
	if err != nil {
		return core.IndexingRule{}, core.NewExecutionError("upsert rule: " + err.Error())
	}
	return rule, nil
}

// FetchRules returns the rules for a network, optionally narrowed to a
// single identifier. When merged is true, every non-global rule is
// combined with that network's global rule via core.Merge before return;
// the stored rows themselves are untouched.
func (s *Store) FetchRules(network string, identifier string, merged bool) ([]core.IndexingRule, error) {
	q := s.db.Where("protocol_network = ?", network)
	if identifier != "" {
		q = q.Where("identifier = ?", identifier)
	}
	var rules []core.IndexingRule
	if err := q.Order("identifier asc").Find(&rules).Error; err != nil {
		return nil, core.NewExecutionError("fetch rules: " + err.Error())
	}
	if !merged {
		return rules, nil
	}

	var global core.IndexingRule
	found := s.db.Where("protocol_network = ? AND identifier = ?", network, core.GlobalIdentifier).
		First(&global)
	if found.Error != nil && !errors.Is(found.Error, gorm.ErrRecordNotFound) {
		return nil, core.NewExecutionError("fetch global rule: " + found.Error.Error())
	}

	out := make([]core.IndexingRule, len(rules))
	for i, r := range rules {
		if r.Identifier == core.GlobalIdentifier {
			out[i] = r
			continue
		}
		out[i] = core.Merge(r, global)
	}
	return out, nil
}

// DeleteRules removes the named rules from a network. Deleting the global
// identifier is special-cased per §4.2/§8 property 2: the row is deleted
// and immediately reinserted at core.DefaultIndexingRule values, in the
// same transaction, so a global rule always exists for a configured
// network.
func (s *Store) DeleteRules(network string, identifiers []string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		deletesGlobal := false
		rest := make([]string, 0, len(identifiers))
		for _, id := range identifiers {
			if id == core.GlobalIdentifier {
				deletesGlobal = true
				continue
			}
			rest = append(rest, id)
		}
		if len(rest) > 0 {
			if err := tx.Where("protocol_network = ? AND identifier IN ?", network, rest).
				Delete(&core.IndexingRule{}).Error; err != nil {
				return core.NewExecutionError("delete rules: " + err.Error())
			}
		}
		if deletesGlobal {
			if err := tx.Where("protocol_network = ? AND identifier = ?", network, core.GlobalIdentifier).
				Delete(&core.IndexingRule{}).Error; err != nil {
				return core.NewExecutionError("delete global rule: " + err.Error())
			}
			reset := core.DefaultIndexingRule(network)
			if err := tx.Create(&reset).Error; err != nil {
				return core.NewExecutionError("reset global rule: " + err.Error())
			}
		}
		return nil
	})
}

// buildActionQuery applies an ActionFilter's narrowing columns to q.
func buildActionQuery(q *gorm.DB, filter core.ActionFilter) *gorm.DB {
	if len(filter.IDs) > 0 {
		q = q.Where("id IN ?", filter.IDs)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if len(filter.Types) > 0 {
		q = q.Where("type IN ?", filter.Types)
	}
	if filter.DeploymentID != "" {
		q = q.Where("deployment_id = ?", filter.DeploymentID)
	}
	if filter.AllocationID != "" {
		q = q.Where("allocation_id = ?", filter.AllocationID)
	}
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if filter.ProtocolNetwork != "" {
		q = q.Where("protocol_network = ?", filter.ProtocolNetwork)
	}
	if filter.UpdatedSince != nil {
		q = q.Where("updated_at >= ?", *filter.UpdatedSince)
	}
	return q
}

// FindActions returns the actions matching filter, ordered by orderBy
// (a column name) in orderDir. An empty orderBy defaults to
// (priority DESC, id ASC), the batch ordering of §4.7/§8.
func (s *Store) FindActions(filter core.ActionFilter, orderBy string, orderDir core.OrderDirection) ([]core.Action, error) {
	q := buildActionQuery(s.db, filter)
	if orderBy == "" {
		q = q.Order("priority desc").Order("id asc")
	} else {
		dir := "asc"
		if orderDir == core.OrderDescending {
			dir = "desc"
		}
		q = q.Order(fmt.Sprintf("%s %s", orderBy, dir))
	}
	var actions []core.Action
	if err := q.Find(&actions).Error; err != nil {
		return nil, core.NewExecutionError("find actions: " + err.Error())
	}
	return actions, nil
}

// UpsertAction inserts a new action, or updates an existing one by ID.
// New actions enforce the non-terminal duplicate rule of §3: at most one
// non-terminal action may target a given (deploymentID, protocolNetwork).
// A second insertion from the same source overwrites that row in place
// (same ID, fresh field values); a second insertion from a different
// source is rejected. The conflict check and the write run in the same
// transaction to close the race between them.
func (s *Store) UpsertAction(action core.Action) (core.Action, error) {
	if action.ID != 0 {
		if err := s.db.Model(&core.Action{}).Where("id = ?", action.ID).Updates(&action).Error; err != nil {
			return core.Action{}, core.NewExecutionError("update action: " + err.Error())
		}
		return action, nil
	}

	if err := action.RequiredFields(); err != nil {
		return core.Action{}, err
	}

	nonTerminal := []core.ActionStatus{core.ActionQueued, core.ActionApproved, core.ActionDeploying, core.ActionPending}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var conflicting core.Action
		found := tx.Model(&core.Action{}).
			Where("deployment_id = ? AND protocol_network = ? AND status IN ?",
				action.DeploymentID, action.ProtocolNetwork, nonTerminal).
			First(&conflicting)
		if found.Error != nil && !errors.Is(found.Error, gorm.ErrRecordNotFound) {
			return core.NewExecutionError("check action uniqueness: " + found.Error.Error())
		}
		if found.Error == nil {
			if conflicting.Source != action.Source {
				return core.NewConstraintError(
					fmt.Sprintf("a non-terminal action from source %q already targets this deployment", conflicting.Source))
			}
			action.ID = conflicting.ID
			action.CreatedAt = conflicting.CreatedAt
			if err := tx.Model(&core.Action{}).Where("id = ?", action.ID).Select("*").Updates(&action).Error; err != nil {
				return core.NewExecutionError("overwrite action: " + err.Error())
			}
			return nil
		}
		if err := tx.Create(&action).Error; err != nil {
			return core.NewExecutionError("insert action: " + err.Error())
		}
		return nil
	})
	if err != nil {
		return core.Action{}, err
	}
	return action, nil
}

// LatestCostModel returns the most recently inserted cost model row for a
// deployment (by ID, per the append-only history of §3), or the "global"
// sentinel deployment's latest row when none exists for deployment.
func (s *Store) LatestCostModel(deployment string) (core.CostModel, error) {
	var model core.CostModel
	err := s.db.Where("deployment = ?", deployment).Order("id desc").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = s.db.Where("deployment = ?", "global").Order("id desc").First(&model).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.CostModel{}, core.NewConstraintError("no cost model for deployment or global default")
	}
	if err != nil {
		return core.CostModel{}, core.NewExecutionError("latest cost model: " + err.Error())
	}
	return model, nil
}

// UpsertCostModel appends a new cost model version. Per the Open Question
// decision in DESIGN.md, deletion is a direct row DELETE rather than a
// tombstone append, since this append-only table already carries its own
// audit trail.
func (s *Store) UpsertCostModel(model core.CostModel) (core.CostModel, error) {
	if err := s.db.Create(&model).Error; err != nil {
		return core.CostModel{}, core.NewExecutionError("insert cost model: " + err.Error())
	}
	return model, nil
}

// DeleteCostModel removes every history row for a deployment.
func (s *Store) DeleteCostModel(deployment string) error {
	if err := s.db.Where("deployment = ?", deployment).Delete(&core.CostModel{}).Error; err != nil {
		return core.NewExecutionError("delete cost model: " + err.Error())
	}
	return nil
}

// UpsertDispute stores a POI dispute, merging proof fields onto any
// existing row for the same (allocationID, protocolNetwork) per
// core.POIDispute.Merge.
func (s *Store) UpsertDispute(dispute core.POIDispute) (core.POIDispute, error) {
	var existing core.POIDispute
	found := s.db.Where("allocation_id = ? AND protocol_network = ?",
		dispute.AllocationID, dispute.ProtocolNetwork).First(&existing)
	if found.Error != nil && !errors.Is(found.Error, gorm.ErrRecordNotFound) {
		return core.POIDispute{}, core.NewExecutionError("fetch existing dispute: " + found.Error.Error())
	}
	merged := dispute
	if found.Error == nil {
		merged = existing.Merge(dispute)
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "allocation_id"}, {Name: "protocol_network"}},
		UpdateAll: true,
	}).Create(&merged).Error
	if err != nil {
		return core.POIDispute{}, core.NewExecutionError("upsert dispute: " + err.Error())
	}
	return merged, nil
}

// NotifyCostModelUpdate publishes a PostgreSQL NOTIFY on the
// cost_models_update_notification channel (§6), so that subscribers
// recompile the affected deployment's cost model without polling.
func (s *Store) NotifyCostModelUpdate(deployment string) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return core.NewExecutionError("access raw connection: " + err.Error())
	}
	_, err = sqlDB.Exec(`SELECT pg_notify('cost_models_update_notification', $1)`, deployment)
	if err != nil {
		return core.NewExecutionError("notify cost model update: " + err.Error())
	}
	return nil
}

// ListenCostModelUpdates opens a dedicated connection, issues LISTEN on
// cost_models_update_notification, and returns that connection. It does
// not read or dispatch notifications itself; closing the returned
// *sql.Conn ends the subscription.
func (s *Store) ListenCostModelUpdates() (*sql.Conn, error) {
	sqlDB, err := s.db.DB()
	if err != nil {
		return nil, core.NewExecutionError("access raw connection: " + err.Error())
	}
	conn, err := sqlDB.Conn(context.Background())
	if err != nil {
		return nil, core.NewExecutionError("acquire dedicated connection: " + err.Error())
	}
	if _, err := conn.ExecContext(context.Background(), `LISTEN cost_models_update_notification`); err != nil {
		conn.Close()
		return nil, core.NewExecutionError("listen cost model updates: " + err.Error())
	}
	return conn, nil
}
