// Package entity declares the queryable entity kinds: for each kind its table,
// identity column, filterable fields, sort keys, projection schema and the
// constructor of its domain object. Definitions are built per dialect because
// every column expression is quoted up front.
package entity

import (
	"time"

	"chainquery/internal/cache"
	"chainquery/internal/engine"
	"chainquery/internal/filter"
	"chainquery/internal/projection"
	"chainquery/internal/query"
	"chainquery/internal/sqlutil"
)

// Quote holds the prices requested for a row, keyed by symbol.
type Quote = map[string]float64

// table quotes columns and joins relative to one table alias.
type table struct {
	d     sqlutil.Dialect
	alias string
}

func (t table) col(name string) string {
	return t.d.Column(t.alias, name)
}

// as names a column pulled from a joined table so it cannot collide with base
// table columns in the result set.
func (t table) as(name string) projection.Column {
	return projection.Column{Expr: t.col(name), As: t.alias + name}
}

// leftJoin joins table name as t where its Id equals on.
func (t table) leftJoin(name, on string) string {
	return t.leftJoinOn(name, "Id", on)
}

func (t table) leftJoinOn(name, column, on string) string {
	return "LEFT JOIN " + t.d.Table(name, t.alias) + " ON " + t.col(column) + " = " + on
}

// Register adds a repository for every entity kind to reg.
func Register(reg *engine.Registry, cfg engine.Config) {
	d := cfg.Dialect
	reg.Register(engine.NewRepository(cfg, Blocks(d)))
	reg.Register(engine.NewRepository(cfg, Transactions(d)))
	reg.Register(engine.NewRepository(cfg, Delegations(d)))
	reg.Register(engine.NewRepository(cfg, Ballots(d)))
	reg.Register(engine.NewRepository(cfg, Commitments(d)))
	reg.Register(engine.NewRepository(cfg, PublishOps(d)))
	reg.Register(engine.NewRepository(cfg, Refutations(d)))
	reg.Register(engine.NewRepository(cfg, Migrations(d)))
	reg.Register(engine.NewRepository(cfg, Statistics(d)))
}

// operationSchema holds the fields shared by every operation table.
func operationSchema(t table) projection.Schema {
	return projection.Schema{
		"id":        projection.Int(t.col("Id"), ""),
		"level":     projection.Int(t.col("Level"), ""),
		"timestamp": projection.LevelTime(t.col("Level"), ""),
		"hash":      projection.Str(t.col("OpHash"), ""),
		"quote":     projection.Quote(t.col("Level"), ""),
	}
}

func operationFilters(t table) filter.Columns {
	return filter.Columns{
		"id":        {Expr: t.col("Id"), Kind: filter.KindInt},
		"level":     {Expr: t.col("Level"), Kind: filter.KindInt},
		"timestamp": {Expr: t.col("Timestamp"), Kind: filter.KindTime},
		"hash":      {Expr: t.col("OpHash"), Kind: filter.KindString},
	}
}

func operationSorts(t table) query.SortMap {
	return query.SortMap{
		"id":    sortBy(t, "Id"),
		"level": sortBy(t, "Level"),
	}
}

func sortBy(t table, name string) query.SortColumns {
	return query.By(t.col(name))
}

// managerFields adds the fee, gas and status fields of manager operations.
func managerFields(t table, s projection.Schema, f filter.Columns) {
	s["counter"] = projection.Int(t.col("Counter"), "")
	s["sender"] = projection.Account(t.col("SenderId"), "")
	s["gasLimit"] = projection.Int(t.col("GasLimit"), "")
	s["gasUsed"] = projection.Int(t.col("GasUsed"), "")
	s["storageLimit"] = projection.Int(t.col("StorageLimit"), "")
	s["bakerFee"] = projection.Int(t.col("BakerFee"), "")
	s["status"] = projection.Enum(t.col("Status"), "", OpStatuses)
	s["errors"] = projection.Str(t.col("Errors"), "")

	f["sender"] = filter.Column{Expr: t.col("SenderId"), Kind: filter.KindAccount}
	f["counter"] = filter.Column{Expr: t.col("Counter"), Kind: filter.KindInt}
	f["status"] = filter.Column{Expr: t.col("Status"), Kind: filter.KindEnum, Enum: OpStatuses.Codes()}
}

// Operation holds the fields shared by every operation.
type Operation struct {
	ID        int64     `json:"id"`
	Level     int64     `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash,omitempty"`
	Quote     Quote     `json:"quote,omitempty"`
}

var operationDefaults = []string{"id", "level", "timestamp", "hash", "quote"}

func buildOperation(r projection.Record) Operation {
	return Operation{
		ID:        projection.Get[int64](r, "id"),
		Level:     projection.Get[int64](r, "level"),
		Timestamp: projection.Get[time.Time](r, "timestamp"),
		Hash:      projection.Get[string](r, "hash"),
		Quote:     projection.Get[Quote](r, "quote"),
	}
}

// Manager holds the fields shared by manager operations.
type Manager struct {
	Counter      int64        `json:"counter"`
	Sender       *cache.Alias `json:"sender"`
	GasLimit     int64        `json:"gasLimit"`
	GasUsed      int64        `json:"gasUsed"`
	StorageLimit int64        `json:"storageLimit"`
	BakerFee     int64        `json:"bakerFee"`
	Status       string       `json:"status"`
	Errors       string       `json:"errors,omitempty"`
}

var managerDefaults = []string{"counter", "sender", "gasLimit", "gasUsed", "storageLimit", "bakerFee", "status", "errors"}

func buildManager(r projection.Record) Manager {
	return Manager{
		Counter:      projection.Get[int64](r, "counter"),
		Sender:       projection.Get[*cache.Alias](r, "sender"),
		GasLimit:     projection.Get[int64](r, "gasLimit"),
		GasUsed:      projection.Get[int64](r, "gasUsed"),
		StorageLimit: projection.Get[int64](r, "storageLimit"),
		BakerFee:     projection.Get[int64](r, "bakerFee"),
		Status:       projection.Get[string](r, "status"),
		Errors:       projection.Get[string](r, "errors"),
	}
}

func concat(lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
