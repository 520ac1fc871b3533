package entity

import "chainquery/internal/projection"

// Stored enum codes and their API names.
var (
	OpStatuses = projection.NewEnumTable(map[int64]string{
		1: "applied",
		2: "backtracked",
		3: "skipped",
		4: "failed",
	})

	Votes = projection.NewEnumTable(map[int64]string{
		0: "yay",
		1: "nay",
		2: "pass",
	})

	CommitmentStatuses = projection.NewEnumTable(map[int64]string{
		0: "pending",
		1: "cemented",
		2: "executed",
		3: "refuted",
		4: "orphan",
	})

	RefutationGameStatuses = projection.NewEnumTable(map[int64]string{
		0: "none",
		1: "loser",
		2: "winner",
		3: "draw",
	})

	MigrationKinds = projection.NewEnumTable(map[int64]string{
		0: "bootstrap",
		1: "activate_delegate",
		2: "airdrop",
		3: "proposal_invoice",
		4: "code_change",
		5: "origination",
		6: "subsidy",
		7: "remove_bigmap_key",
	})
)
