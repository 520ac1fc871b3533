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

// CommitmentInfo is the summary of a smart rollup commitment embedded in
// other rows.
type CommitmentInfo struct {
	ID         int64        `json:"id"`
	Initiator  *cache.Alias `json:"initiator"`
	InboxLevel int64        `json:"inboxLevel"`
	State      string       `json:"state"`
	Hash       string       `json:"hash"`
}

// commitmentInfo is a sub-object field over the commitment joined as c. Its
// subfields read single columns; selecting it whole builds a CommitmentInfo.
func commitmentInfo(c table, join string) *projection.Field {
	id := c.as("Id")
	initiator := c.as("InitiatorId")
	initiator.Kind = projection.AccountID
	inbox := c.as("InboxLevel")
	state := c.as("State")
	hash := c.as("Hash")

	return projection.Object(
		[]projection.Column{id, initiator, inbox, state, hash},
		func(v projection.Values, s *projection.Scope) (any, error) {
			info := &CommitmentInfo{
				ID:         v.Int64(0),
				InboxLevel: v.Int64(2),
				State:      v.String(3),
				Hash:       v.String(4),
			}
			if id, ok := v.NullInt64(1); ok {
				a, err := s.Alias(id)
				if err != nil {
					return nil, err
				}
				info.Initiator = &a
			}
			return info, nil
		},
		projection.Schema{
			"id":         projection.Int(id.Expr, id.As),
			"initiator":  projection.Account(initiator.Expr, initiator.As),
			"inboxLevel": projection.Int(inbox.Expr, inbox.As),
			"state":      projection.Str(state.Expr, state.As),
			"hash":       projection.Str(hash.Expr, hash.As),
		},
	).With(join)
}

// Commitment is a smart rollup state commitment.
type Commitment struct {
	ID            int64           `json:"id"`
	Initiator     *cache.Alias    `json:"initiator"`
	Rollup        *cache.Alias    `json:"rollup"`
	InboxLevel    int64           `json:"inboxLevel"`
	State         string          `json:"state"`
	Hash          string          `json:"hash"`
	Ticks         int64           `json:"ticks"`
	FirstLevel    int64           `json:"firstLevel"`
	FirstTime     time.Time       `json:"firstTime"`
	LastLevel     int64           `json:"lastLevel"`
	LastTime      time.Time       `json:"lastTime"`
	Stakers       int64           `json:"stakers"`
	ActiveStakers int64           `json:"activeStakers"`
	Successors    int64           `json:"successors"`
	Status        string          `json:"status"`
	Predecessor   *CommitmentInfo `json:"predecessor,omitempty"`
}

// Commitments describes the SmartRollupCommitments table.
func Commitments(d sqlutil.Dialect) engine.Definition[Commitment] {
	c := table{d: d, alias: "c"}
	pc := table{d: d, alias: "pc"}

	schema := projection.Schema{
		"id":            projection.Int(c.col("Id"), ""),
		"initiator":     projection.Account(c.col("InitiatorId"), ""),
		"rollup":        projection.Account(c.col("SmartRollupId"), ""),
		"inboxLevel":    projection.Int(c.col("InboxLevel"), ""),
		"state":         projection.Str(c.col("State"), ""),
		"hash":          projection.Str(c.col("Hash"), ""),
		"ticks":         projection.Int(c.col("Ticks"), ""),
		"firstLevel":    projection.Int(c.col("FirstLevel"), ""),
		"firstTime":     projection.LevelTime(c.col("FirstLevel"), ""),
		"lastLevel":     projection.Int(c.col("LastLevel"), ""),
		"lastTime":      projection.LevelTime(c.col("LastLevel"), ""),
		"stakers":       projection.Int(c.col("Stakers"), ""),
		"activeStakers": projection.Int(c.col("ActiveStakers"), ""),
		"successors":    projection.Int(c.col("Successors"), ""),
		"status":        projection.Enum(c.col("Status"), "", CommitmentStatuses),
		"predecessor":   commitmentInfo(pc, pc.leftJoin("SmartRollupCommitments", c.col("PredecessorId"))),
	}

	return engine.Definition[Commitment]{
		Name:     "sr_commitments",
		Table:    "SmartRollupCommitments",
		Alias:    c.alias,
		Identity: c.col("Id"),
		Filters: filter.Columns{
			"id":          {Expr: c.col("Id"), Kind: filter.KindInt},
			"initiator":   {Expr: c.col("InitiatorId"), Kind: filter.KindAccount},
			"rollup":      {Expr: c.col("SmartRollupId"), Kind: filter.KindAccount},
			"inboxLevel":  {Expr: c.col("InboxLevel"), Kind: filter.KindInt},
			"hash":        {Expr: c.col("Hash"), Kind: filter.KindString},
			"firstLevel":  {Expr: c.col("FirstLevel"), Kind: filter.KindInt},
			"lastLevel":   {Expr: c.col("LastLevel"), Kind: filter.KindInt},
			"status":      {Expr: c.col("Status"), Kind: filter.KindEnum, Enum: CommitmentStatuses.Codes()},
			"predecessor": {Expr: c.col("PredecessorId"), Kind: filter.KindInt},
		},
		Sorts: query.SortMap{
			"id":            sortBy(c, "Id"),
			"inboxLevel":    sortBy(c, "InboxLevel"),
			"firstLevel":    sortBy(c, "FirstLevel"),
			"lastLevel":     sortBy(c, "LastLevel"),
			"ticks":         sortBy(c, "Ticks"),
			"activeStakers": sortBy(c, "ActiveStakers"),
		},
		Schema: schema,
		Default: []string{
			"id", "initiator", "rollup", "inboxLevel", "state", "hash", "ticks",
			"firstLevel", "firstTime", "lastLevel", "lastTime", "stakers", "activeStakers",
			"successors", "status", "predecessor",
		},
		Build: func(r projection.Record) Commitment {
			return Commitment{
				ID:            projection.Get[int64](r, "id"),
				Initiator:     projection.Get[*cache.Alias](r, "initiator"),
				Rollup:        projection.Get[*cache.Alias](r, "rollup"),
				InboxLevel:    projection.Get[int64](r, "inboxLevel"),
				State:         projection.Get[string](r, "state"),
				Hash:          projection.Get[string](r, "hash"),
				Ticks:         projection.Get[int64](r, "ticks"),
				FirstLevel:    projection.Get[int64](r, "firstLevel"),
				FirstTime:     projection.Get[time.Time](r, "firstTime"),
				LastLevel:     projection.Get[int64](r, "lastLevel"),
				LastTime:      projection.Get[time.Time](r, "lastTime"),
				Stakers:       projection.Get[int64](r, "stakers"),
				ActiveStakers: projection.Get[int64](r, "activeStakers"),
				Successors:    projection.Get[int64](r, "successors"),
				Status:        projection.Get[string](r, "status"),
				Predecessor:   projection.Get[*CommitmentInfo](r, "predecessor"),
			}
		},
	}
}

// PublishOp publishes a commitment for a smart rollup.
type PublishOp struct {
	Operation
	Manager
	Rollup     *cache.Alias    `json:"rollup"`
	Commitment *CommitmentInfo `json:"commitment"`
	Bond       int64           `json:"bond"`
}

// PublishOps describes the SmartRollupPublishOps table.
func PublishOps(d sqlutil.Dialect) engine.Definition[PublishOp] {
	o := table{d: d, alias: "o"}
	c := table{d: d, alias: "c"}

	schema := operationSchema(o)
	filters := operationFilters(o)
	managerFields(o, schema, filters)
	schema["rollup"] = projection.Account(o.col("SmartRollupId"), "")
	schema["commitment"] = commitmentInfo(c, c.leftJoin("SmartRollupCommitments", o.col("CommitmentId")))
	schema["bond"] = projection.Int(o.col("Bond"), "")

	filters["rollup"] = filter.Column{Expr: o.col("SmartRollupId"), Kind: filter.KindAccount}
	filters["commitment"] = filter.Column{Expr: o.col("CommitmentId"), Kind: filter.KindInt}
	filters["bond"] = filter.Column{Expr: o.col("Bond"), Kind: filter.KindInt}

	sorts := operationSorts(o)
	sorts["bond"] = sortBy(o, "Bond")

	return engine.Definition[PublishOp]{
		Name:     "sr_publish_ops",
		Table:    "SmartRollupPublishOps",
		Alias:    o.alias,
		Identity: o.col("Id"),
		Filters:  filters,
		Sorts:    sorts,
		Schema:   schema,
		Default:  concat(operationDefaults, managerDefaults, []string{"rollup", "commitment", "bond"}),
		Build: func(r projection.Record) PublishOp {
			return PublishOp{
				Operation:  buildOperation(r),
				Manager:    buildManager(r),
				Rollup:     projection.Get[*cache.Alias](r, "rollup"),
				Commitment: projection.Get[*CommitmentInfo](r, "commitment"),
				Bond:       projection.Get[int64](r, "bond"),
			}
		},
	}
}

// Refutation is a refutation game between two stakers of a smart rollup.
type Refutation struct {
	ID                  int64           `json:"id"`
	Rollup              *cache.Alias    `json:"rollup"`
	Initiator           *cache.Alias    `json:"initiator"`
	Opponent            *cache.Alias    `json:"opponent"`
	InitiatorCommitment *CommitmentInfo `json:"initiatorCommitment"`
	OpponentCommitment  *CommitmentInfo `json:"opponentCommitment"`
	FirstLevel          int64           `json:"firstLevel"`
	FirstTime           time.Time       `json:"firstTime"`
	LastLevel           int64           `json:"lastLevel"`
	LastTime            time.Time       `json:"lastTime"`
	InitiatorReward     int64           `json:"initiatorReward"`
	InitiatorLoss       int64           `json:"initiatorLoss"`
	OpponentReward      int64           `json:"opponentReward"`
	OpponentLoss        int64           `json:"opponentLoss"`
	InitiatorStatus     string          `json:"initiatorStatus"`
	OpponentStatus      string          `json:"opponentStatus"`
}

// Refutations describes the RefutationGames table.
func Refutations(d sqlutil.Dialect) engine.Definition[Refutation] {
	g := table{d: d, alias: "g"}
	ic := table{d: d, alias: "ic"}
	oc := table{d: d, alias: "oc"}

	schema := projection.Schema{
		"id":                  projection.Int(g.col("Id"), ""),
		"rollup":              projection.Account(g.col("SmartRollupId"), ""),
		"initiator":           projection.Account(g.col("InitiatorId"), ""),
		"opponent":            projection.Account(g.col("OpponentId"), ""),
		"initiatorCommitment": commitmentInfo(ic, ic.leftJoin("SmartRollupCommitments", g.col("InitiatorCommitmentId"))),
		"opponentCommitment":  commitmentInfo(oc, oc.leftJoin("SmartRollupCommitments", g.col("OpponentCommitmentId"))),
		"firstLevel":          projection.Int(g.col("FirstLevel"), ""),
		"firstTime":           projection.LevelTime(g.col("FirstLevel"), ""),
		"lastLevel":           projection.Int(g.col("LastLevel"), ""),
		"lastTime":            projection.LevelTime(g.col("LastLevel"), ""),
		"initiatorReward":     projection.Int(g.col("InitiatorReward"), ""),
		"initiatorLoss":       projection.Int(g.col("InitiatorLoss"), ""),
		"opponentReward":      projection.Int(g.col("OpponentReward"), ""),
		"opponentLoss":        projection.Int(g.col("OpponentLoss"), ""),
		"initiatorStatus":     projection.Enum(g.col("InitiatorStatus"), "", RefutationGameStatuses),
		"opponentStatus":      projection.Enum(g.col("OpponentStatus"), "", RefutationGameStatuses),
	}
	statuses := RefutationGameStatuses.Codes()

	return engine.Definition[Refutation]{
		Name:     "sr_refutations",
		Table:    "RefutationGames",
		Alias:    g.alias,
		Identity: g.col("Id"),
		Filters: filter.Columns{
			"id":                  {Expr: g.col("Id"), Kind: filter.KindInt},
			"rollup":              {Expr: g.col("SmartRollupId"), Kind: filter.KindAccount},
			"initiator":           {Expr: g.col("InitiatorId"), Kind: filter.KindAccount},
			"opponent":            {Expr: g.col("OpponentId"), Kind: filter.KindAccount},
			"initiatorCommitment": {Expr: g.col("InitiatorCommitmentId"), Kind: filter.KindInt},
			"opponentCommitment":  {Expr: g.col("OpponentCommitmentId"), Kind: filter.KindInt},
			"firstLevel":          {Expr: g.col("FirstLevel"), Kind: filter.KindInt},
			"lastLevel":           {Expr: g.col("LastLevel"), Kind: filter.KindInt},
			"initiatorStatus":     {Expr: g.col("InitiatorStatus"), Kind: filter.KindEnum, Enum: statuses},
			"opponentStatus":      {Expr: g.col("OpponentStatus"), Kind: filter.KindEnum, Enum: statuses},
		},
		Sorts: query.SortMap{
			"id":         sortBy(g, "Id"),
			"firstLevel": sortBy(g, "FirstLevel"),
			"lastLevel":  sortBy(g, "LastLevel"),
		},
		Schema: schema,
		Default: []string{
			"id", "rollup", "initiator", "opponent", "initiatorCommitment", "opponentCommitment",
			"firstLevel", "firstTime", "lastLevel", "lastTime", "initiatorReward", "initiatorLoss",
			"opponentReward", "opponentLoss", "initiatorStatus", "opponentStatus",
		},
		Build: func(r projection.Record) Refutation {
			return Refutation{
				ID:                  projection.Get[int64](r, "id"),
				Rollup:              projection.Get[*cache.Alias](r, "rollup"),
				Initiator:           projection.Get[*cache.Alias](r, "initiator"),
				Opponent:            projection.Get[*cache.Alias](r, "opponent"),
				InitiatorCommitment: projection.Get[*CommitmentInfo](r, "initiatorCommitment"),
				OpponentCommitment:  projection.Get[*CommitmentInfo](r, "opponentCommitment"),
				FirstLevel:          projection.Get[int64](r, "firstLevel"),
				FirstTime:           projection.Get[time.Time](r, "firstTime"),
				LastLevel:           projection.Get[int64](r, "lastLevel"),
				LastTime:            projection.Get[time.Time](r, "lastTime"),
				InitiatorReward:     projection.Get[int64](r, "initiatorReward"),
				InitiatorLoss:       projection.Get[int64](r, "initiatorLoss"),
				OpponentReward:      projection.Get[int64](r, "opponentReward"),
				OpponentLoss:        projection.Get[int64](r, "opponentLoss"),
				InitiatorStatus:     projection.Get[string](r, "initiatorStatus"),
				OpponentStatus:      projection.Get[string](r, "opponentStatus"),
			}
		},
	}
}
