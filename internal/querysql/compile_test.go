package querysql

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
)

func TestSelectIsParameterized(t *testing.T) {
	q, err := NewCompiler(SQLite{}).Select("agenda_item", queryir.Eq("title", ir.IRString("Budget")))
	require.NoError(t, err)

	assert.NotContains(t, q.SQL, "Budget")
	assert.Contains(t, q.SQL, "collection = ?")
	assert.Contains(t, q.SQL, "deleted = 0")
	assert.Contains(t, q.SQL, "ORDER BY id ASC")
	assert.Equal(t, []any{"agenda_item", "Budget"}, q.Params)
}

func TestPostgresPlaceholdersAreNumbered(t *testing.T) {
	pred := queryir.And(
		queryir.Eq("meeting_id", ir.IRInt(1)),
		queryir.Filter{Field: "weight", Op: queryir.OpGte, Value: ir.IRInt(2)},
	)
	q, err := NewCompiler(Postgres{}).Select("topic", pred)
	require.NoError(t, err)

	assert.Contains(t, q.SQL, "$1")
	assert.Contains(t, q.SQL, "$2")
	assert.Contains(t, q.SQL, "$3")
	assert.Contains(t, q.SQL, "jsonb_typeof(data->'weight')")
	assert.Equal(t, []any{"topic", int64(1), int64(2)}, q.Params)
}

func TestSQLiteBoolParamsAreIntegers(t *testing.T) {
	q, err := NewCompiler(SQLite{}).Where(queryir.Eq("closed", ir.IRBool(true)))
	require.NoError(t, err)
	assert.Equal(t, []any{1}, q.Params)
}

func TestAggregateRejectsUnknownFunction(t *testing.T) {
	_, err := NewCompiler(SQLite{}).Aggregate("sum", "topic", "weight", nil)
	assert.Error(t, err)

	_, err = NewCompiler(SQLite{}).Aggregate("max", "topic", "we'ight", nil)
	assert.Error(t, err)
}

func TestSelectRejectsInvalidPredicate(t *testing.T) {
	_, err := NewCompiler(SQLite{}).Select("topic", queryir.Eq("x'); DROP TABLE models; --", ir.IRInt(1)))
	assert.Error(t, err)
}

// The SQL path and the in-memory Match path must agree on every predicate.
func TestSQLiteAgreesWithMatch(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE models (fqid TEXT PRIMARY KEY, collection TEXT, id INTEGER, data TEXT, deleted INTEGER, position INTEGER)`)
	require.NoError(t, err)

	docs := map[int64]ir.IRObject{
		1: ir.Obj(ir.O("meeting_id", ir.IRInt(1)), ir.O("weight", ir.IRInt(2)), ir.O("title", ir.IRString("a")), ir.O("closed", ir.IRBool(true))),
		2: ir.Obj(ir.O("meeting_id", ir.IRInt(1)), ir.O("weight", ir.IRInt(10)), ir.O("title", ir.IRString("B"))),
		3: ir.Obj(ir.O("meeting_id", ir.IRInt(2)), ir.O("title", ir.IRString("5"))),
		4: ir.Obj(ir.O("meeting_id", ir.IRInt(2)), ir.O("weight", ir.IRString("x")), ir.O("closed", ir.IRBool(false))),
	}
	for id, doc := range docs {
		data, err := ir.MarshalCanonical(doc)
		require.NoError(t, err)
		_, err = db.Exec(`INSERT INTO models VALUES (?, 'topic', ?, ?, 0, 1)`, string(ir.NewFQID("topic", id)), id, string(data))
		require.NoError(t, err)
	}

	preds := []queryir.Predicate{
		nil,
		queryir.Eq("meeting_id", ir.IRInt(1)),
		queryir.Filter{Field: "weight", Op: queryir.OpGt, Value: ir.IRInt(3)},
		queryir.Filter{Field: "weight", Op: queryir.OpLte, Value: ir.IRInt(2)},
		queryir.Ne("weight", ir.IRInt(2)),
		queryir.Eq("weight", ir.IRNull{}),
		queryir.Ne("closed", ir.IRNull{}),
		queryir.Eq("closed", ir.IRBool(false)),
		queryir.Ne("closed", ir.IRBool(true)),
		queryir.Filter{Field: "title", Op: queryir.OpLt, Value: ir.IRString("a")},
		queryir.Eq("title", ir.IRString("5")),
		queryir.Not(queryir.Eq("meeting_id", ir.IRInt(1))),
		queryir.Or(queryir.Eq("weight", ir.IRInt(10)), queryir.Eq("title", ir.IRString("5"))),
	}

	for _, p := range preds {
		want := []int64{}
		for id := int64(1); id <= 4; id++ {
			if queryir.Match(p, docs[id]) {
				want = append(want, id)
			}
		}

		q, err := NewCompiler(SQLite{}).Select("topic", p)
		require.NoError(t, err)
		rows, err := db.Query(q.SQL, q.Params...)
		require.NoError(t, err, q.SQL)
		got := []int64{}
		for rows.Next() {
			var fqid, data string
			var pos int64
			require.NoError(t, rows.Scan(&fqid, &data, &pos))
			got = append(got, ir.FQID(fqid).ID())
		}
		require.NoError(t, rows.Err())
		rows.Close()

		assert.Equal(t, want, got, "%#v\n%s", p, q.SQL)
	}
}

func TestSQLiteAggregate(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE models (fqid TEXT PRIMARY KEY, collection TEXT, id INTEGER, data TEXT, deleted INTEGER, position INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO models VALUES
		('topic/1', 'topic', 1, '{"weight":4}', 0, 1),
		('topic/2', 'topic', 2, '{"weight":9}', 1, 1),
		('topic/3', 'topic', 3, '{"weight":"high"}', 0, 1)`)
	require.NoError(t, err)

	q, err := NewCompiler(SQLite{}).Aggregate("max", "topic", "weight", nil)
	require.NoError(t, err)
	var max sql.NullInt64
	require.NoError(t, db.QueryRow(q.SQL, q.Params...).Scan(&max))
	assert.Equal(t, int64(4), max.Int64)
}
