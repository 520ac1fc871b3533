package httpapi

import (
	"context"
	"database/sql/driver"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"chainquery/internal/cache"
	"chainquery/internal/dbexec"
	"chainquery/internal/denorm"
	"chainquery/internal/engine"
	"chainquery/internal/entity"
	"chainquery/internal/filter"
	"chainquery/internal/sqlutil"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type passthroughConverter struct{}

func (passthroughConverter) ConvertValue(v any) (driver.Value, error) {
	return v, nil
}

type fakeAddresses map[string]int64

func (f fakeAddresses) AccountID(_ context.Context, address string) (int64, bool, error) {
	id, ok := f[address]
	return id, ok, nil
}

func newServer(t *testing.T) (*http.ServeMux, sqlmock.Sqlmock) {
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

	cfg := engine.Config{
		Dialect:  sqlutil.Postgres,
		Executor: dbexec.NewScopedExecutor(db),
		Resolver: denorm.New(accounts, nil, nil),
	}
	reg := engine.NewRegistry()
	entity.Register(reg, cfg)

	mux := http.NewServeMux()
	NewHandler(reg, fakeAddresses{"tz1foo": 42}, nil).Register(mux)
	return mux, mock
}

func get(mux http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestList_SelectValues(t *testing.T) {
	mux, mock := newServer(t)
	mock.ExpectQuery(`SELECT "b"."Level", "b"."ProducerId" FROM "Blocks" AS "b" WHERE "b"."Level" >= $1 ORDER BY "b"."Level" DESC, "b"."Id" DESC LIMIT 2`).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"Level", "ProducerId"}).
			AddRow(int64(30), int64(42)).
			AddRow(int64(20), nil))

	rec := get(mux, "/v1/blocks?select.values=level,baker&level.ge=10&sort.desc=level&limit=2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `[[30,{"alias":"Foo","address":"tz1foo"}],[20,null]]`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_SingleFieldIsFlat(t *testing.T) {
	mux, mock := newServer(t)
	mock.ExpectQuery(`SELECT "b"."Level" FROM "Blocks" AS "b" ORDER BY "b"."Id" ASC LIMIT 100 OFFSET 100`).
		WillReturnRows(sqlmock.NewRows([]string{"Level"}).AddRow(int64(10)).AddRow(int64(11)))

	rec := get(mux, "/v1/blocks?select=level&offset.pg=1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[10,11]`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_SelectFieldsAreKeyed(t *testing.T) {
	mux, mock := newServer(t)
	mock.ExpectQuery(`SELECT "b"."Level", "b"."Hash" FROM "Blocks" AS "b" WHERE "b"."Id" > $1 ORDER BY "b"."Id" ASC LIMIT 100`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"Level", "Hash"}).AddRow(int64(10), "BLa"))

	rec := get(mux, "/v1/blocks?select=level,hash,bogus&offset.cr=5")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"level":10,"hash":"BLa","bogus":null}]`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_AnyOfAddress(t *testing.T) {
	mux, mock := newServer(t)
	mock.ExpectQuery(`SELECT "o"."Id" FROM "TransactionOps" AS "o" WHERE ("o"."SenderId" = $1 OR "o"."TargetId" = $2) ORDER BY "o"."Id" ASC LIMIT 100`).
		WithArgs(int64(42), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"Id"}).AddRow(int64(1)).AddRow(int64(2)))

	rec := get(mux, "/v1/transactions?anyof.sender.target=tz1foo&select=id")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[1,2]`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_RepeatedFilterKeysAllApply(t *testing.T) {
	mux, mock := newServer(t)
	mock.ExpectQuery(`SELECT "b"."Level" FROM "Blocks" AS "b" WHERE "b"."Level" <> $1 AND "b"."Level" <> $2 ORDER BY "b"."Id" ASC LIMIT 5`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"Level"}).AddRow(int64(3)))

	rec := get(mux, "/v1/blocks?select=level&level.ne=1&level.ne=2&limit=9&limit=5")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[3]`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestParse_RepeatedKeys(t *testing.T) {
	p := &parser{ctx: context.Background(), cols: entity.Blocks(sqlutil.Postgres).Filters, resolver: fakeAddresses{"tz1foo": 42}}
	parsed, err := p.parse(url.Values{
		"level.ne":                {"1", "2"},
		"anyof.proposer.producer": {"tz1foo", "7"},
		"sort.desc":               {"id", "level"},
	})
	require.NoError(t, err)
	assert.Len(t, parsed.req.Filter, 4)
	assert.Equal(t, "level", parsed.req.Page.Sort.Key)

	_, err = p.parse(url.Values{"level.ne": {"1", "abc"}})
	require.ErrorIs(t, err, filter.ErrInvalidValue)
}

func TestList_ValidationErrors(t *testing.T) {
	mux, mock := newServer(t)
	tests := []struct {
		target string
		status int
	}{
		{"/v1/blocks?nope=1", http.StatusBadRequest},
		{"/v1/blocks?level=abc", http.StatusBadRequest},
		{"/v1/blocks?hash.gt=x", http.StatusBadRequest},
		{"/v1/blocks?limit=ten", http.StatusBadRequest},
		{"/v1/blocks?quote=doge", http.StatusBadRequest},
		{"/v1/transactions?status=pending", http.StatusBadRequest},
		{"/v1/transactions?anyof.sender=tz1foo", http.StatusBadRequest},
		{"/v1/nope", http.StatusNotFound},
		{"/v1/nope/count", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(mux, tt.target)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_StoreFailureIsInternal(t *testing.T) {
	mux, mock := newServer(t)
	mock.ExpectQuery(`SELECT "b"."Level" FROM "Blocks" AS "b" ORDER BY "b"."Id" ASC LIMIT 100`).
		WillReturnError(errors.New("relation does not exist"))

	rec := get(mux, "/v1/blocks?select=level")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestCount(t *testing.T) {
	mux, mock := newServer(t)
	mock.ExpectQuery(`SELECT COUNT(*) FROM "Blocks" AS "b" WHERE "b"."ProducerId" = $1`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "Blocks" AS "b" WHERE "b"."ProducerId" = $1`).
		WithArgs(int64(-1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`SELECT COUNT(*) FROM "Blocks" AS "b" WHERE "b"."RevelationId" IS NOT NULL`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(7)))

	rec := get(mux, "/v1/blocks/count?baker=tz1foo")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `3`, rec.Body.String())

	rec = get(mux, "/v1/blocks/count?baker=tz1unknown")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `0`, rec.Body.String())

	rec = get(mux, "/v1/blocks/count?revelation.null=false")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `7`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIndex(t *testing.T) {
	mux, _ := newServer(t)
	rec := get(mux, "/v1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"sr_commitments"`)
}

func TestSplitOp(t *testing.T) {
	field, op := splitOp("level.ge")
	assert.Equal(t, "level", field)
	assert.Equal(t, "ge", op.String())

	field, op = splitOp("sender")
	assert.Equal(t, "sender", field)
	assert.Equal(t, "eq", op.String())

	field, op = splitOp("sender.target.in")
	assert.Equal(t, "sender.target", field)
	assert.Equal(t, "in", op.String())
}
