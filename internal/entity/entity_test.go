package entity

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"testing"
	"time"

	"chainquery/internal/cache"
	"chainquery/internal/dbexec"
	"chainquery/internal/denorm"
	"chainquery/internal/engine"
	"chainquery/internal/filter"
	"chainquery/internal/projection"
	"chainquery/internal/query"
	"chainquery/internal/sqlutil"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type passthroughConverter struct{}

func (passthroughConverter) ConvertValue(v any) (driver.Value, error) {
	return v, nil
}

func newConfig(t *testing.T) (engine.Config, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual),
		sqlmock.ValueConverterOption(passthroughConverter{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	accounts, err := cache.NewAccounts(16, nil)
	require.NoError(t, err)
	accounts.Add(42, cache.Alias{Name: "Foo", Address: "tz1foo"})
	accounts.Add(43, cache.Alias{Address: "tz1bar"})

	times := make([]time.Time, 200)
	for i := range times {
		times[i] = time.Unix(int64(i)*60, 0).UTC()
	}
	quotes := make([]cache.QuoteRow, 200)
	for i := range quotes {
		quotes[i] = cache.QuoteRow{1, 2, float64(i), 4, 5, 6, 7, 8}
	}

	return engine.Config{
		Dialect:  sqlutil.Postgres,
		Executor: dbexec.NewScopedExecutor(db),
		Resolver: denorm.New(accounts, cache.NewTimes(times), cache.NewQuotes(quotes)),
	}, mock
}

func TestDefinitions_DefaultFieldsAreKnown(t *testing.T) {
	for _, d := range []sqlutil.Dialect{sqlutil.Postgres, sqlutil.MySQL} {
		check := func(name string, schema projection.Schema, fields []string, filters filter.Columns, sorts query.SortMap) {
			plan := projection.Build(schema, fields)
			for _, slot := range plan.Slots {
				assert.True(t, slot.Known(), "%s: default field %s is not in the schema", name, slot.Path)
			}
			assert.NotEmpty(t, filters, name)
			assert.NotEmpty(t, sorts, name)
		}
		b := Blocks(d)
		check(b.Name, b.Schema, b.Default, b.Filters, b.Sorts)
		tx := Transactions(d)
		check(tx.Name, tx.Schema, tx.Default, tx.Filters, tx.Sorts)
		dl := Delegations(d)
		check(dl.Name, dl.Schema, dl.Default, dl.Filters, dl.Sorts)
		bl := Ballots(d)
		check(bl.Name, bl.Schema, bl.Default, bl.Filters, bl.Sorts)
		c := Commitments(d)
		check(c.Name, c.Schema, c.Default, c.Filters, c.Sorts)
		p := PublishOps(d)
		check(p.Name, p.Schema, p.Default, p.Filters, p.Sorts)
		r := Refutations(d)
		check(r.Name, r.Schema, r.Default, r.Filters, r.Sorts)
		m := Migrations(d)
		check(m.Name, m.Schema, m.Default, m.Filters, m.Sorts)
		s := Statistics(d)
		check(s.Name, s.Schema, s.Default, s.Filters, s.Sorts)
	}
}

func TestRegister(t *testing.T) {
	cfg, _ := newConfig(t)
	reg := engine.NewRegistry()
	Register(reg, cfg)
	assert.Equal(t, []string{
		"ballots", "blocks", "delegations", "migrations", "sr_commitments",
		"sr_publish_ops", "sr_refutations", "statistics", "transactions",
	}, reg.Names())
}

func TestBlocks_BakerScenario(t *testing.T) {
	cfg, mock := newConfig(t)
	repo := engine.NewRepository(cfg, Blocks(cfg.Dialect))

	mock.ExpectQuery(`SELECT "b"."Level", "b"."ProducerId", "b"."RevelationId" IS NOT NULL AS "nonceRevealed" FROM "Blocks" AS "b" WHERE "b"."Level" = $1 ORDER BY "b"."Id" ASC LIMIT 100`).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"Level", "ProducerId", "nonceRevealed"}).AddRow(int64(100), int64(42), true))

	got, err := repo.GetFields(context.Background(),
		engine.Request{Filter: filter.Set{filter.Equal("level", 100)}},
		[]string{"level", "baker", "nonceRevealed"})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(100), &cache.Alias{Name: "Foo", Address: "tz1foo"}, true}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBlocks_LegacyRewardFields(t *testing.T) {
	cfg, mock := newConfig(t)
	repo := engine.NewRepository(cfg, Blocks(cfg.Dialect))

	mock.ExpectQuery(`SELECT "b"."RewardDelegated", "b"."RewardStakedOwn", "b"."RewardStakedEdge", "b"."RewardStakedShared" FROM "Blocks" AS "b" ORDER BY "b"."Id" ASC LIMIT 100`).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d"}).AddRow(int64(10), int64(5), nil, int64(1)))

	got, err := repo.GetFields(context.Background(), engine.Request{}, []string{"rewardLiquid", "reward", "rewardDelegated"})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(10), int64(16), int64(10)}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactions_AnyOfSenderTarget(t *testing.T) {
	cfg, mock := newConfig(t)
	repo := engine.NewRepository(cfg, Transactions(cfg.Dialect))

	mock.ExpectQuery(`SELECT "o"."Id", "o"."Status", "o"."Level" FROM "TransactionOps" AS "o" WHERE ("o"."SenderId" = $1 OR "o"."TargetId" = $2) AND "o"."Status" = $3 ORDER BY "o"."Level" DESC, "o"."Id" DESC LIMIT 100`).
		WithArgs(int64(42), int64(42), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"Id", "Status", "Level"}).
			AddRow(int64(2), int64(1), int64(11)).
			AddRow(int64(1), int64(1), int64(10)))

	set := filter.Set{
		filter.AnyOf{Roles: []string{"sender", "target"}, Op: filter.Eq, Value: int64(42)},
		filter.Equal("status", "applied"),
	}
	got, err := repo.GetFields(context.Background(), engine.Request{
		Filter: set,
		Page:   query.Page{Sort: query.Sort{Key: "level", Desc: true}},
		Quotes: []string{"usd"},
	}, []string{"id", "status", "quote"})
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{int64(2), "applied", map[string]float64{"usd": 11}},
		{int64(1), "applied", map[string]float64{"usd": 10}},
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishOps_NestedCommitmentPaths(t *testing.T) {
	cfg, mock := newConfig(t)
	repo := engine.NewRepository(cfg, PublishOps(cfg.Dialect))

	mock.ExpectQuery(`SELECT "c"."InitiatorId" AS "cInitiatorId", "c"."Hash" AS "cHash" FROM "SmartRollupPublishOps" AS "o" LEFT JOIN "SmartRollupCommitments" AS "c" ON "c"."Id" = "o"."CommitmentId" ORDER BY "o"."Id" ASC LIMIT 100`).
		WillReturnRows(sqlmock.NewRows([]string{"cInitiatorId", "cHash"}).
			AddRow(int64(42), "src1abc").
			AddRow(nil, nil))

	got, err := repo.GetFields(context.Background(), engine.Request{}, []string{"commitment.initiator.address", "commitment.hash"})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"tz1foo", "src1abc"}, {nil, nil}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishOps_WholeCommitment(t *testing.T) {
	cfg, mock := newConfig(t)
	repo := engine.NewRepository(cfg, PublishOps(cfg.Dialect))

	mock.ExpectQuery(`SELECT "o"."Id", "c"."Id" AS "cId", "c"."InitiatorId" AS "cInitiatorId", "c"."InboxLevel" AS "cInboxLevel", "c"."State" AS "cState", "c"."Hash" AS "cHash" FROM "SmartRollupPublishOps" AS "o" LEFT JOIN "SmartRollupCommitments" AS "c" ON "c"."Id" = "o"."CommitmentId" ORDER BY "o"."Id" ASC LIMIT 100`).
		WillReturnRows(sqlmock.NewRows([]string{"Id", "cId", "cInitiatorId", "cInboxLevel", "cState", "cHash"}).
			AddRow(int64(1), int64(7), int64(43), int64(150), "srs1", "src1abc").
			AddRow(int64(2), nil, nil, nil, nil, nil))

	got, err := repo.GetFields(context.Background(), engine.Request{}, []string{"id", "commitment", "commitment.hash"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, &CommitmentInfo{
		ID:         7,
		Initiator:  &cache.Alias{Address: "tz1bar"},
		InboxLevel: 150,
		State:      "srs1",
		Hash:       "src1abc",
	}, got[0][1])
	assert.Equal(t, "src1abc", got[0][2])
	assert.Nil(t, got[1][1])
	assert.Nil(t, got[1][2])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBallots_VoteEnum(t *testing.T) {
	cfg, mock := newConfig(t)
	repo := engine.NewRepository(cfg, Ballots(cfg.Dialect))

	mock.ExpectQuery(`SELECT "o"."Vote", "p"."Hash" AS "pHash" FROM "BallotOps" AS "o" LEFT JOIN "Proposals" AS "p" ON "p"."Id" = "o"."ProposalId" WHERE "o"."Vote" = ANY($1) ORDER BY "o"."Id" ASC LIMIT 100`).
		WithArgs([]int64{0, 2}).
		WillReturnRows(sqlmock.NewRows([]string{"Vote", "pHash"}).
			AddRow(int64(0), "PtParis").
			AddRow(int64(9), "PtParis"))

	set := filter.Set{filter.AnyIn("vote", []string{"yay", "pass"})}
	_, err := repo.GetFields(context.Background(), engine.Request{Filter: set}, []string{"vote", "proposal"})
	require.Error(t, err)
	assert.ErrorIs(t, err, projection.ErrUnknownEnum)

	_, err = repo.GetFields(context.Background(), engine.Request{Filter: filter.Set{filter.Equal("vote", "maybe")}}, []string{"vote"})
	assert.ErrorIs(t, err, filter.ErrInvalidValue)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrations_FollowupLoads(t *testing.T) {
	cfg, mock := newConfig(t)
	mock.MatchExpectationsInOrder(false)
	repo := engine.NewRepository(cfg, Migrations(cfg.Dialect))

	mock.ExpectQuery(`SELECT "o"."Id", "o"."StorageId", "o"."BigMapUpdates" FROM "MigrationOps" AS "o" ORDER BY "o"."Id" ASC LIMIT 100`).
		WillReturnRows(sqlmock.NewRows([]string{"Id", "StorageId", "BigMapUpdates"}).
			AddRow(int64(1), int64(10), int64(2)).
			AddRow(int64(2), nil, int64(0)))
	mock.ExpectQuery(`SELECT "Id", "JsonValue" FROM "Storages" WHERE "Id" = ANY($1)`).
		WithArgs([]int64{10}).
		WillReturnRows(sqlmock.NewRows([]string{"Id", "JsonValue"}).AddRow(int64(10), `{"a":1}`))
	mock.ExpectQuery(`SELECT "MigrationId", "BigMapPtr", "Action", "JsonKey", "JsonValue" FROM "BigMapUpdates" WHERE "MigrationId" = ANY($1) ORDER BY "Id"`).
		WithArgs([]int64{1, 2}).
		WillReturnRows(sqlmock.NewRows([]string{"MigrationId", "BigMapPtr", "Action", "JsonKey", "JsonValue"}).
			AddRow(int64(1), int64(5), int64(0), nil, nil).
			AddRow(int64(1), int64(5), int64(1), `"k"`, `1`))

	got, err := repo.GetFields(context.Background(), engine.Request{}, []string{"id", "storage", "diffs"})
	require.NoError(t, err)
	assert.Equal(t, [][]any{
		{int64(1), json.RawMessage(`{"a":1}`), []BigMapDiff{
			{Bigmap: 5, Action: "allocate"},
			{Bigmap: 5, Action: "add_key", Key: json.RawMessage(`"k"`), Value: json.RawMessage(`1`)},
		}},
		{int64(2), nil, nil},
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatistics_TotalSupply(t *testing.T) {
	cfg, mock := newConfig(t)
	repo := engine.NewRepository(cfg, Statistics(cfg.Dialect))

	mock.ExpectQuery(`SELECT "s"."TotalBootstrapped", "s"."TotalCommitments", "s"."TotalCreated", "s"."TotalBurned", "s"."TotalBanished" FROM "Statistics" AS "s" ORDER BY "s"."Level" DESC, "s"."Id" DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"a", "b", "c", "d", "e"}).
			AddRow(int64(100), int64(20), int64(5), int64(3), nil))

	got, err := repo.GetField(context.Background(), engine.Request{
		Page: query.Page{Sort: query.Sort{Key: "level", Desc: true}, Limit: 1},
	}, "totalSupply")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(122)}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
