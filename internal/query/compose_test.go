package query

import (
	"testing"

	"chainquery/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const identity = `"b"."Id"`

func blocksStatement(page Page) Statement {
	return Statement{
		Table:    `"Blocks" AS "b"`,
		Columns:  []string{`"b"."Level"`, `"b"."Hash"`},
		Identity: identity,
		Sorts: SortMap{
			"level": By(`"b"."Level"`),
			"id":    By(identity),
			"fees":  {Asc: `"b"."Fees"`, Desc: `"b"."Fees"`},
		},
		Page: page.Normalize(DefaultLimits()),
	}
}

func TestCompose_TieBreakFollowsDirection(t *testing.T) {
	st := blocksStatement(Page{Sort: Sort{Key: "fees", Desc: true}, Limit: 2})
	q, err := Compose(sqlutil.Postgres, st)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "b"."Level", "b"."Hash" FROM "Blocks" AS "b" ORDER BY "b"."Fees" DESC, "b"."Id" DESC LIMIT 2`, q.SQL)
	assert.Empty(t, q.Args)

	st = blocksStatement(Page{Sort: Sort{Key: "fees"}, Limit: 2, Offset: 4})
	q, err = Compose(sqlutil.Postgres, st)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "b"."Level", "b"."Hash" FROM "Blocks" AS "b" ORDER BY "b"."Fees" ASC, "b"."Id" ASC LIMIT 2 OFFSET 4`, q.SQL)
}

func TestCompose_IdentitySortHasNoTieBreak(t *testing.T) {
	q, err := Compose(sqlutil.Postgres, blocksStatement(Page{Sort: Sort{Key: "id", Desc: true}}))
	require.NoError(t, err)
	assert.Equal(t, `SELECT "b"."Level", "b"."Hash" FROM "Blocks" AS "b" ORDER BY "b"."Id" DESC LIMIT 100`, q.SQL)
}

func TestCompose_UnknownSortKeyFallsBackToIdentity(t *testing.T) {
	for _, key := range []string{"", "nope", "; DROP TABLE x"} {
		q, err := Compose(sqlutil.Postgres, blocksStatement(Page{Sort: Sort{Key: key}}))
		require.NoError(t, err)
		assert.Equal(t, `SELECT "b"."Level", "b"."Hash" FROM "Blocks" AS "b" ORDER BY "b"."Id" ASC LIMIT 100`, q.SQL)
	}
}

func TestCompose_WhereJoinsAndPlaceholders(t *testing.T) {
	st := blocksStatement(Page{Sort: Sort{Key: "level"}, Limit: 10})
	join := `LEFT JOIN "Accounts" AS "a" ON "a"."Id" = "b"."BakerId"`
	st.Joins = []string{join, join}
	st.Columns = append(st.Columns, `"a"."Address" AS "aAddress"`)
	st.Where = []sq.Sqlizer{
		sq.GtOrEq{`"b"."Level"`: int64(10)},
		nil,
		sqlutil.Postgres.AnyOf(`"b"."BakerId"`, []any{int64(1), int64(2)}),
	}

	q, err := Compose(sqlutil.Postgres, st)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "b"."Level", "b"."Hash", "a"."Address" AS "aAddress" FROM "Blocks" AS "b" `+
			`LEFT JOIN "Accounts" AS "a" ON "a"."Id" = "b"."BakerId" `+
			`WHERE "b"."Level" >= $1 AND "b"."BakerId" = ANY($2) `+
			`ORDER BY "b"."Level" ASC, "b"."Id" ASC LIMIT 10`,
		q.SQL)
	assert.Equal(t, []interface{}{int64(10), []int64{1, 2}}, q.Args)
}

func TestCompose_MySQL(t *testing.T) {
	st := Statement{
		Table:    "`Blocks` AS `b`",
		Columns:  []string{"`b`.`Level`"},
		Identity: "`b`.`Id`",
		Sorts:    SortMap{"level": By("`b`.`Level`")},
		Where:    []sq.Sqlizer{sqlutil.MySQL.AnyOf("`b`.`BakerId`", []any{int64(1), int64(2)})},
		Page:     Page{Sort: Sort{Key: "level", Desc: true}}.Normalize(DefaultLimits()),
	}
	q, err := Compose(sqlutil.MySQL, st)
	require.NoError(t, err)
	assert.Equal(t, "SELECT `b`.`Level` FROM `Blocks` AS `b` WHERE `b`.`BakerId` IN (?,?) ORDER BY `b`.`Level` DESC, `b`.`Id` DESC LIMIT 100", q.SQL)
	assert.Equal(t, []interface{}{int64(1), int64(2)}, q.Args)
}

func TestCompose_Cursor(t *testing.T) {
	cursor := int64(500)
	q, err := Compose(sqlutil.Postgres, blocksStatement(Page{Sort: Sort{Key: "level", Desc: true}, Cursor: &cursor, Offset: 7, Limit: 5}))
	require.NoError(t, err)
	assert.Equal(t, `SELECT "b"."Level", "b"."Hash" FROM "Blocks" AS "b" WHERE "b"."Id" < $1 ORDER BY "b"."Id" DESC LIMIT 5`, q.SQL)
	assert.Equal(t, []interface{}{int64(500)}, q.Args)

	q, err = Compose(sqlutil.Postgres, blocksStatement(Page{Cursor: &cursor, Limit: 5}))
	require.NoError(t, err)
	assert.Equal(t, `SELECT "b"."Level", "b"."Hash" FROM "Blocks" AS "b" WHERE "b"."Id" > $1 ORDER BY "b"."Id" ASC LIMIT 5`, q.SQL)
}

func TestCompose_PageNumber(t *testing.T) {
	n := 3
	q, err := Compose(sqlutil.Postgres, blocksStatement(Page{Number: &n, Limit: 20}))
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "LIMIT 20 OFFSET 60")
}

func TestCompose_RequiresColumns(t *testing.T) {
	st := blocksStatement(Page{})
	st.Columns = nil
	_, err := Compose(sqlutil.Postgres, st)
	require.Error(t, err)
}

func TestComposeCount(t *testing.T) {
	st := blocksStatement(Page{Sort: Sort{Key: "level"}, Limit: 3, Offset: 9})
	st.Where = []sq.Sqlizer{sq.Eq{`"b"."ProposerId"`: int64(42)}}
	q, err := ComposeCount(sqlutil.Postgres, st)
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) FROM "Blocks" AS "b" WHERE "b"."ProposerId" = $1`, q.SQL)
	assert.Equal(t, []interface{}{int64(42)}, q.Args)
}

func TestPageNormalize(t *testing.T) {
	limits := Limits{Default: 100, Max: 1000}
	n := -2
	tests := []struct {
		name string
		in   Page
		want Page
	}{
		{"defaults", Page{}, Page{Limit: 100}},
		{"negative limit", Page{Limit: -5}, Page{Limit: 100}},
		{"capped", Page{Limit: 5000}, Page{Limit: 1000}},
		{"negative offset", Page{Offset: -1, Limit: 10}, Page{Limit: 10}},
		{"negative page number", Page{Number: &n, Limit: 10}, Page{Limit: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize(limits))
		})
	}

	cursor := int64(1)
	got := Page{Cursor: &cursor, Offset: 50}.Normalize(limits)
	assert.Equal(t, 0, got.Offset)

	got = Page{}.Normalize(Limits{})
	assert.Equal(t, DefaultListLimit, got.Limit)
}

func TestSortMapResolve(t *testing.T) {
	m := SortMap{"level": {Asc: "asc_col", Desc: "desc_col"}, "partial": {Asc: "x"}}
	assert.Equal(t, "asc_col", m.Resolve(Sort{Key: "level"}, "id"))
	assert.Equal(t, "desc_col", m.Resolve(Sort{Key: "level", Desc: true}, "id"))
	assert.Equal(t, "id", m.Resolve(Sort{Key: "partial", Desc: true}, "id"))
	assert.Equal(t, "id", m.Resolve(Sort{Key: "missing"}, "id"))
	assert.Equal(t, "id", SortMap(nil).Resolve(Sort{Key: "level"}, "id"))
}
