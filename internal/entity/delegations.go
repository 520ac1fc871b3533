package entity

import (
	"chainquery/internal/cache"
	"chainquery/internal/engine"
	"chainquery/internal/filter"
	"chainquery/internal/projection"
	"chainquery/internal/sqlutil"
)

// Delegation changes an account's delegate.
type Delegation struct {
	Operation
	Manager
	Initiator    *cache.Alias `json:"initiator,omitempty"`
	PrevDelegate *cache.Alias `json:"prevDelegate"`
	NewDelegate  *cache.Alias `json:"newDelegate"`
	Amount       int64        `json:"amount"`
}

// Delegations describes the DelegationOps table.
func Delegations(d sqlutil.Dialect) engine.Definition[Delegation] {
	o := table{d: d, alias: "o"}
	schema := operationSchema(o)
	filters := operationFilters(o)
	managerFields(o, schema, filters)

	schema["initiator"] = projection.Account(o.col("InitiatorId"), "")
	schema["prevDelegate"] = projection.Account(o.col("PrevDelegateId"), "")
	schema["newDelegate"] = projection.Account(o.col("DelegateId"), "")
	schema["amount"] = projection.Int(o.col("Amount"), "")

	filters["initiator"] = filter.Column{Expr: o.col("InitiatorId"), Kind: filter.KindAccount}
	filters["prevDelegate"] = filter.Column{Expr: o.col("PrevDelegateId"), Kind: filter.KindAccount}
	filters["newDelegate"] = filter.Column{Expr: o.col("DelegateId"), Kind: filter.KindAccount}
	filters["amount"] = filter.Column{Expr: o.col("Amount"), Kind: filter.KindInt}

	sorts := operationSorts(o)
	sorts["amount"] = sortBy(o, "Amount")

	return engine.Definition[Delegation]{
		Name:     "delegations",
		Table:    "DelegationOps",
		Alias:    o.alias,
		Identity: o.col("Id"),
		Filters:  filters,
		Sorts:    sorts,
		Schema:   schema,
		Default:  concat(operationDefaults, managerDefaults, []string{"initiator", "prevDelegate", "newDelegate", "amount"}),
		Build: func(r projection.Record) Delegation {
			return Delegation{
				Operation:    buildOperation(r),
				Manager:      buildManager(r),
				Initiator:    projection.Get[*cache.Alias](r, "initiator"),
				PrevDelegate: projection.Get[*cache.Alias](r, "prevDelegate"),
				NewDelegate:  projection.Get[*cache.Alias](r, "newDelegate"),
				Amount:       projection.Get[int64](r, "amount"),
			}
		},
	}
}
