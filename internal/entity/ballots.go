package entity

import (
	"chainquery/internal/cache"
	"chainquery/internal/engine"
	"chainquery/internal/filter"
	"chainquery/internal/projection"
	"chainquery/internal/sqlutil"
)

// Ballot is a baker's vote on a protocol proposal.
type Ballot struct {
	Operation
	Period      int64        `json:"period"`
	Proposal    string       `json:"proposal,omitempty"`
	Delegate    *cache.Alias `json:"delegate"`
	VotingPower int64        `json:"votingPower"`
	Vote        string       `json:"vote"`
}

// Ballots describes the BallotOps table. The proposal hash comes from the
// Proposals table.
func Ballots(d sqlutil.Dialect) engine.Definition[Ballot] {
	o := table{d: d, alias: "o"}
	p := table{d: d, alias: "p"}
	proposals := p.leftJoin("Proposals", o.col("ProposalId"))

	schema := operationSchema(o)
	schema["period"] = projection.Int(o.col("Period"), "")
	schema["proposal"] = projection.Str(p.col("Hash"), "pHash").With(proposals)
	schema["delegate"] = projection.Account(o.col("SenderId"), "")
	schema["votingPower"] = projection.Int(o.col("VotingPower"), "")
	schema["vote"] = projection.Enum(o.col("Vote"), "", Votes)

	filters := operationFilters(o)
	filters["period"] = filter.Column{Expr: o.col("Period"), Kind: filter.KindInt}
	filters["proposal"] = filter.Column{Expr: o.col("ProposalId"), Kind: filter.KindInt}
	filters["delegate"] = filter.Column{Expr: o.col("SenderId"), Kind: filter.KindAccount}
	filters["votingPower"] = filter.Column{Expr: o.col("VotingPower"), Kind: filter.KindInt}
	filters["vote"] = filter.Column{Expr: o.col("Vote"), Kind: filter.KindEnum, Enum: Votes.Codes()}

	sorts := operationSorts(o)
	sorts["votingPower"] = sortBy(o, "VotingPower")

	return engine.Definition[Ballot]{
		Name:     "ballots",
		Table:    "BallotOps",
		Alias:    o.alias,
		Identity: o.col("Id"),
		Filters:  filters,
		Sorts:    sorts,
		Schema:   schema,
		Default:  concat(operationDefaults, []string{"period", "proposal", "delegate", "votingPower", "vote"}),
		Build: func(r projection.Record) Ballot {
			return Ballot{
				Operation:   buildOperation(r),
				Period:      projection.Get[int64](r, "period"),
				Proposal:    projection.Get[string](r, "proposal"),
				Delegate:    projection.Get[*cache.Alias](r, "delegate"),
				VotingPower: projection.Get[int64](r, "votingPower"),
				Vote:        projection.Get[string](r, "vote"),
			}
		},
	}
}
