package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chainquery/internal/cache"
	"chainquery/internal/dbexec"
	"chainquery/internal/engine"
	"chainquery/internal/filter"
	"chainquery/internal/projection"
	"chainquery/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// BigMapActions names the stored big map update actions.
var BigMapActions = projection.NewEnumTable(map[int64]string{
	0: "allocate",
	1: "add_key",
	2: "update_key",
	3: "remove_key",
	4: "remove",
})

// BigMapDiff is one big map update caused by a migration.
type BigMapDiff struct {
	Bigmap int64           `json:"bigmap"`
	Action string          `json:"action"`
	Key    json.RawMessage `json:"key,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
}

// Migration is a balance or contract change applied by a protocol upgrade.
type Migration struct {
	ID            int64           `json:"id"`
	Level         int64           `json:"level"`
	Timestamp     time.Time       `json:"timestamp"`
	Block         string          `json:"block"`
	Kind          string          `json:"kind"`
	Account       *cache.Alias    `json:"account"`
	BalanceChange int64           `json:"balanceChange"`
	Storage       json.RawMessage `json:"storage,omitempty"`
	Diffs         []BigMapDiff    `json:"diffs,omitempty"`
	Quote         Quote           `json:"quote,omitempty"`
}

// Migrations describes the MigrationOps table. Storage values and big map
// diffs are read by follow-up batch queries.
func Migrations(d sqlutil.Dialect) engine.Definition[Migration] {
	o := table{d: d, alias: "o"}
	b := table{d: d, alias: "b"}
	storages := storageLoader(d)
	updates := diffLoader(d)

	schema := projection.Schema{
		"id":            projection.Int(o.col("Id"), ""),
		"level":         projection.Int(o.col("Level"), ""),
		"timestamp":     projection.LevelTime(o.col("Level"), ""),
		"block":         projection.Str(b.col("Hash"), "bHash").With(b.leftJoinOn("Blocks", "Level", o.col("Level"))),
		"kind":          projection.Enum(o.col("Kind"), "", MigrationKinds),
		"account":       projection.Account(o.col("AccountId"), ""),
		"balanceChange": projection.Int(o.col("BalanceChange"), ""),
		"storage":       projection.Deferred(o.col("StorageId"), "", storages),
		"diffs": {
			Columns: []projection.Column{{Expr: o.col("Id")}, {Expr: o.col("BigMapUpdates")}},
			Load:    updates,
			Extract: func(v projection.Values, s *projection.Scope) (any, error) {
				if v.Int64(1) == 0 {
					return nil, nil
				}
				diffs, _ := s.Loaded(updates.Name, v.Int64(0))
				return diffs, nil
			},
		},
		"quote": projection.Quote(o.col("Level"), ""),
	}

	filters := operationFilters(o)
	delete(filters, "hash")
	filters["kind"] = filter.Column{Expr: o.col("Kind"), Kind: filter.KindEnum, Enum: MigrationKinds.Codes()}
	filters["account"] = filter.Column{Expr: o.col("AccountId"), Kind: filter.KindAccount}
	filters["balanceChange"] = filter.Column{Expr: o.col("BalanceChange"), Kind: filter.KindInt}

	sorts := operationSorts(o)
	sorts["balanceChange"] = sortBy(o, "BalanceChange")

	return engine.Definition[Migration]{
		Name:     "migrations",
		Table:    "MigrationOps",
		Alias:    o.alias,
		Identity: o.col("Id"),
		Filters:  filters,
		Sorts:    sorts,
		Schema:   schema,
		Default: []string{
			"id", "level", "timestamp", "block", "kind", "account", "balanceChange",
			"storage", "diffs", "quote",
		},
		Build: func(r projection.Record) Migration {
			return Migration{
				ID:            projection.Get[int64](r, "id"),
				Level:         projection.Get[int64](r, "level"),
				Timestamp:     projection.Get[time.Time](r, "timestamp"),
				Block:         projection.Get[string](r, "block"),
				Kind:          projection.Get[string](r, "kind"),
				Account:       projection.Get[*cache.Alias](r, "account"),
				BalanceChange: projection.Get[int64](r, "balanceChange"),
				Storage:       projection.Get[json.RawMessage](r, "storage"),
				Diffs:         projection.Get[[]BigMapDiff](r, "diffs"),
				Quote:         projection.Get[Quote](r, "quote"),
			}
		},
	}
}

func storageLoader(d sqlutil.Dialect) *projection.Loader {
	return &projection.Loader{
		Name: "storages",
		Fetch: func(ctx context.Context, exec dbexec.QueryExecutor, keys []int64) (map[int64]any, error) {
			query, args, err := sq.Select(d.Quote("Id"), d.Quote("JsonValue")).
				From(d.Quote("Storages")).
				Where(d.AnyOf(d.Quote("Id"), anySlice(keys))).
				PlaceholderFormat(d.Placeholder).
				ToSql()
			if err != nil {
				return nil, err
			}
			rows, err := exec.QueryContext(ctx, query, args...)
			if err != nil {
				return nil, fmt.Errorf("failed to load storages: %w", err)
			}
			defer rows.Close()

			out := make(map[int64]any, len(keys))
			for rows.Next() {
				var id int64
				var value sql.NullString
				if err := rows.Scan(&id, &value); err != nil {
					return nil, err
				}
				if value.Valid {
					out[id] = json.RawMessage(value.String)
				}
			}
			return out, rows.Err()
		},
	}
}

func diffLoader(d sqlutil.Dialect) *projection.Loader {
	return &projection.Loader{
		Name: "bigmap_updates",
		Fetch: func(ctx context.Context, exec dbexec.QueryExecutor, keys []int64) (map[int64]any, error) {
			query, args, err := sq.Select(
				d.Quote("MigrationId"), d.Quote("BigMapPtr"), d.Quote("Action"),
				d.Quote("JsonKey"), d.Quote("JsonValue"),
			).
				From(d.Quote("BigMapUpdates")).
				Where(d.AnyOf(d.Quote("MigrationId"), anySlice(keys))).
				OrderBy(d.Quote("Id")).
				PlaceholderFormat(d.Placeholder).
				ToSql()
			if err != nil {
				return nil, err
			}
			rows, err := exec.QueryContext(ctx, query, args...)
			if err != nil {
				return nil, fmt.Errorf("failed to load big map updates: %w", err)
			}
			defer rows.Close()

			grouped := make(map[int64][]BigMapDiff, len(keys))
			for rows.Next() {
				var (
					migration, ptr, action int64
					key, value             sql.NullString
				)
				if err := rows.Scan(&migration, &ptr, &action, &key, &value); err != nil {
					return nil, err
				}
				name, ok := BigMapActions.Name(action)
				if !ok {
					return nil, fmt.Errorf("%w: big map action %d", projection.ErrUnknownEnum, action)
				}
				diff := BigMapDiff{Bigmap: ptr, Action: name}
				if key.Valid {
					diff.Key = json.RawMessage(key.String)
				}
				if value.Valid {
					diff.Value = json.RawMessage(value.String)
				}
				grouped[migration] = append(grouped[migration], diff)
			}
			if err := rows.Err(); err != nil {
				return nil, err
			}
			out := make(map[int64]any, len(grouped))
			for id, diffs := range grouped {
				out[id] = diffs
			}
			return out, nil
		},
	}
}

func anySlice(keys []int64) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}
