package entity

import (
	"time"

	"chainquery/internal/engine"
	"chainquery/internal/filter"
	"chainquery/internal/projection"
	"chainquery/internal/query"
	"chainquery/internal/sqlutil"
)

// Stats is the supply snapshot at a level.
type Stats struct {
	Level             int64     `json:"level"`
	Timestamp         time.Time `json:"timestamp"`
	TotalSupply       int64     `json:"totalSupply"`
	CirculatingSupply int64     `json:"circulatingSupply"`
	TotalBootstrapped int64     `json:"totalBootstrapped"`
	TotalCommitments  int64     `json:"totalCommitments"`
	TotalCreated      int64     `json:"totalCreated"`
	TotalBurned       int64     `json:"totalBurned"`
	TotalBanished     int64     `json:"totalBanished"`
	TotalActivated    int64     `json:"totalActivated"`
	TotalFrozen       int64     `json:"totalFrozen"`
	Quote             Quote     `json:"quote,omitempty"`
}

// signed sums columns, subtracting those flagged negative. NULLs count as zero.
func signed(cols []projection.Column, negative ...bool) *projection.Field {
	return &projection.Field{
		Columns: cols,
		Extract: func(v projection.Values, _ *projection.Scope) (any, error) {
			var total int64
			for i := 0; i < v.Len(); i++ {
				n, _, err := v.CheckedInt64(i)
				if err != nil {
					return nil, err
				}
				if i < len(negative) && negative[i] {
					total -= n
				} else {
					total += n
				}
			}
			return total, nil
		},
	}
}

// Statistics describes the Statistics table.
func Statistics(d sqlutil.Dialect) engine.Definition[Stats] {
	s := table{d: d, alias: "s"}
	supply := []projection.Column{
		{Expr: s.col("TotalBootstrapped")},
		{Expr: s.col("TotalCommitments")},
		{Expr: s.col("TotalCreated")},
		{Expr: s.col("TotalBurned")},
		{Expr: s.col("TotalBanished")},
	}
	supplySigns := []bool{false, false, false, true, true}

	schema := projection.Schema{
		"level":             projection.Int(s.col("Level"), ""),
		"timestamp":         projection.LevelTime(s.col("Level"), ""),
		"totalSupply":       signed(supply, supplySigns...),
		"circulatingSupply": signed(append(append([]projection.Column(nil), supply...), projection.Column{Expr: s.col("TotalFrozen")}), append(supplySigns, true)...),
		"totalBootstrapped": projection.Int(s.col("TotalBootstrapped"), ""),
		"totalCommitments":  projection.Int(s.col("TotalCommitments"), ""),
		"totalCreated":      projection.Int(s.col("TotalCreated"), ""),
		"totalBurned":       projection.Int(s.col("TotalBurned"), ""),
		"totalBanished":     projection.Int(s.col("TotalBanished"), ""),
		"totalActivated":    projection.Int(s.col("TotalActivated"), ""),
		"totalFrozen":       projection.Int(s.col("TotalFrozen"), ""),
		"quote":             projection.Quote(s.col("Level"), ""),
	}

	return engine.Definition[Stats]{
		Name:     "statistics",
		Table:    "Statistics",
		Alias:    s.alias,
		Identity: s.col("Id"),
		Filters: filter.Columns{
			"level":     {Expr: s.col("Level"), Kind: filter.KindInt},
			"timestamp": {Expr: s.col("Date"), Kind: filter.KindTime},
		},
		Sorts:  query.SortMap{"level": sortBy(s, "Level")},
		Schema: schema,
		Default: []string{
			"level", "timestamp", "totalSupply", "circulatingSupply", "totalBootstrapped",
			"totalCommitments", "totalCreated", "totalBurned", "totalBanished",
			"totalActivated", "totalFrozen", "quote",
		},
		Build: func(r projection.Record) Stats {
			return Stats{
				Level:             projection.Get[int64](r, "level"),
				Timestamp:         projection.Get[time.Time](r, "timestamp"),
				TotalSupply:       projection.Get[int64](r, "totalSupply"),
				CirculatingSupply: projection.Get[int64](r, "circulatingSupply"),
				TotalBootstrapped: projection.Get[int64](r, "totalBootstrapped"),
				TotalCommitments:  projection.Get[int64](r, "totalCommitments"),
				TotalCreated:      projection.Get[int64](r, "totalCreated"),
				TotalBurned:       projection.Get[int64](r, "totalBurned"),
				TotalBanished:     projection.Get[int64](r, "totalBanished"),
				TotalActivated:    projection.Get[int64](r, "totalActivated"),
				TotalFrozen:       projection.Get[int64](r, "totalFrozen"),
				Quote:             projection.Get[Quote](r, "quote"),
			}
		},
	}
}
