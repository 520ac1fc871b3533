package entity

import (
	"chainquery/internal/cache"
	"chainquery/internal/engine"
	"chainquery/internal/filter"
	"chainquery/internal/projection"
	"chainquery/internal/sqlutil"
)

// Transaction is a transfer or contract call.
type Transaction struct {
	Operation
	Manager
	Initiator    *cache.Alias `json:"initiator,omitempty"`
	Target       *cache.Alias `json:"target"`
	Amount       int64        `json:"amount"`
	Entrypoint   string       `json:"entrypoint,omitempty"`
	HasInternals bool         `json:"hasInternals"`
}

// Transactions describes the TransactionOps table. Filters on sender, target
// and initiator can be combined through anyof.
func Transactions(d sqlutil.Dialect) engine.Definition[Transaction] {
	o := table{d: d, alias: "o"}
	schema := operationSchema(o)
	filters := operationFilters(o)
	managerFields(o, schema, filters)

	schema["initiator"] = projection.Account(o.col("InitiatorId"), "")
	schema["target"] = projection.Account(o.col("TargetId"), "")
	schema["amount"] = projection.Int(o.col("Amount"), "")
	schema["entrypoint"] = projection.Str(o.col("Entrypoint"), "")
	schema["hasInternals"] = projection.Bool(o.col("InternalOperations")+" > 0", "hasInternals")

	filters["initiator"] = filter.Column{Expr: o.col("InitiatorId"), Kind: filter.KindAccount}
	filters["target"] = filter.Column{Expr: o.col("TargetId"), Kind: filter.KindAccount}
	filters["amount"] = filter.Column{Expr: o.col("Amount"), Kind: filter.KindInt}
	filters["entrypoint"] = filter.Column{Expr: o.col("Entrypoint"), Kind: filter.KindString}

	sorts := operationSorts(o)
	sorts["amount"] = sortBy(o, "Amount")
	sorts["bakerFee"] = sortBy(o, "BakerFee")
	sorts["gasUsed"] = sortBy(o, "GasUsed")

	return engine.Definition[Transaction]{
		Name:     "transactions",
		Table:    "TransactionOps",
		Alias:    o.alias,
		Identity: o.col("Id"),
		Filters:  filters,
		Sorts:    sorts,
		Schema:   schema,
		Default:  concat(operationDefaults, managerDefaults, []string{"initiator", "target", "amount", "entrypoint", "hasInternals"}),
		Build: func(r projection.Record) Transaction {
			return Transaction{
				Operation:    buildOperation(r),
				Manager:      buildManager(r),
				Initiator:    projection.Get[*cache.Alias](r, "initiator"),
				Target:       projection.Get[*cache.Alias](r, "target"),
				Amount:       projection.Get[int64](r, "amount"),
				Entrypoint:   projection.Get[string](r, "entrypoint"),
				HasInternals: projection.Get[bool](r, "hasInternals"),
			}
		},
	}
}
