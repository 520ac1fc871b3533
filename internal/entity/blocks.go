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

// Block is a baked block.
type Block struct {
	ID                 int64        `json:"id"`
	Level              int64        `json:"level"`
	Hash               string       `json:"hash"`
	Timestamp          time.Time    `json:"timestamp"`
	Proto              int64        `json:"proto"`
	PayloadRound       int64        `json:"payloadRound"`
	BlockRound         int64        `json:"blockRound"`
	Validations        int64        `json:"validations"`
	Deposit            int64        `json:"deposit"`
	RewardDelegated    int64        `json:"rewardDelegated"`
	RewardStakedOwn    int64        `json:"rewardStakedOwn"`
	RewardStakedEdge   int64        `json:"rewardStakedEdge"`
	RewardStakedShared int64        `json:"rewardStakedShared"`
	Fees               int64        `json:"fees"`
	NonceRevealed      bool         `json:"nonceRevealed"`
	Proposer           *cache.Alias `json:"proposer"`
	Producer           *cache.Alias `json:"producer"`
	Quote              Quote        `json:"quote,omitempty"`
}

// Blocks describes the Blocks table.
func Blocks(d sqlutil.Dialect) engine.Definition[Block] {
	b := table{d: d, alias: "b"}
	delegated := projection.Int(b.col("RewardDelegated"), "")
	producer := projection.Account(b.col("ProducerId"), "")

	schema := projection.Schema{
		"id":                 projection.Int(b.col("Id"), ""),
		"level":              projection.Int(b.col("Level"), ""),
		"hash":               projection.Str(b.col("Hash"), ""),
		"timestamp":          projection.Time(b.col("Timestamp"), ""),
		"proto":              projection.Int(b.col("ProtoCode"), ""),
		"payloadRound":       projection.Int(b.col("PayloadRound"), ""),
		"blockRound":         projection.Int(b.col("BlockRound"), ""),
		"validations":        projection.Int(b.col("Validations"), ""),
		"deposit":            projection.Int(b.col("Deposit"), ""),
		"rewardDelegated":    delegated,
		"rewardStakedOwn":    projection.Int(b.col("RewardStakedOwn"), ""),
		"rewardStakedEdge":   projection.Int(b.col("RewardStakedEdge"), ""),
		"rewardStakedShared": projection.Int(b.col("RewardStakedShared"), ""),
		"fees":               projection.Int(b.col("Fees"), ""),
		"nonceRevealed":      projection.Bool(b.col("RevelationId")+" IS NOT NULL", "nonceRevealed"),
		"proposer":           projection.Account(b.col("ProposerId"), ""),
		"producer":           producer,
		"quote":              projection.Quote(b.col("Level"), ""),

		// deprecated names
		"baker":        producer,
		"rewardLiquid": delegated,
		"reward": projection.Sum(
			projection.Column{Expr: b.col("RewardDelegated")},
			projection.Column{Expr: b.col("RewardStakedOwn")},
			projection.Column{Expr: b.col("RewardStakedEdge")},
			projection.Column{Expr: b.col("RewardStakedShared")},
		),
	}

	return engine.Definition[Block]{
		Name:     "blocks",
		Table:    "Blocks",
		Alias:    b.alias,
		Identity: b.col("Id"),
		Filters: filter.Columns{
			"id":         {Expr: b.col("Id"), Kind: filter.KindInt},
			"level":      {Expr: b.col("Level"), Kind: filter.KindInt},
			"hash":       {Expr: b.col("Hash"), Kind: filter.KindString},
			"timestamp":  {Expr: b.col("Timestamp"), Kind: filter.KindTime},
			"proposer":   {Expr: b.col("ProposerId"), Kind: filter.KindAccount},
			"producer":   {Expr: b.col("ProducerId"), Kind: filter.KindAccount},
			"baker":      {Expr: b.col("ProducerId"), Kind: filter.KindAccount},
			"revelation": {Expr: b.col("RevelationId"), Kind: filter.KindInt},
		},
		Sorts: query.SortMap{
			"id":              query.By(b.col("Id")),
			"level":           query.By(b.col("Level")),
			"payloadRound":    query.By(b.col("PayloadRound")),
			"validations":     query.By(b.col("Validations")),
			"rewardDelegated": query.By(b.col("RewardDelegated")),
			"fees":            query.By(b.col("Fees")),
		},
		Schema: schema,
		Default: []string{
			"id", "level", "hash", "timestamp", "proto", "payloadRound", "blockRound",
			"validations", "deposit", "rewardDelegated", "rewardStakedOwn", "rewardStakedEdge",
			"rewardStakedShared", "fees", "nonceRevealed", "proposer", "producer", "quote",
		},
		Build: func(r projection.Record) Block {
			return Block{
				ID:                 projection.Get[int64](r, "id"),
				Level:              projection.Get[int64](r, "level"),
				Hash:               projection.Get[string](r, "hash"),
				Timestamp:          projection.Get[time.Time](r, "timestamp"),
				Proto:              projection.Get[int64](r, "proto"),
				PayloadRound:       projection.Get[int64](r, "payloadRound"),
				BlockRound:         projection.Get[int64](r, "blockRound"),
				Validations:        projection.Get[int64](r, "validations"),
				Deposit:            projection.Get[int64](r, "deposit"),
				RewardDelegated:    projection.Get[int64](r, "rewardDelegated"),
				RewardStakedOwn:    projection.Get[int64](r, "rewardStakedOwn"),
				RewardStakedEdge:   projection.Get[int64](r, "rewardStakedEdge"),
				RewardStakedShared: projection.Get[int64](r, "rewardStakedShared"),
				Fees:               projection.Get[int64](r, "fees"),
				NonceRevealed:      projection.Get[bool](r, "nonceRevealed"),
				Proposer:           projection.Get[*cache.Alias](r, "proposer"),
				Producer:           projection.Get[*cache.Alias](r, "producer"),
				Quote:              projection.Get[Quote](r, "quote"),
			}
		},
	}
}
