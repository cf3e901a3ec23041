package sink

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

func TestPostgresSaveBatchUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithPool(mock, "data", nil)

	expected := "INSERT INTO data.facebook_posts AS t (id, text) VALUES ($1, $2)" +
		" ON CONFLICT (id) DO UPDATE SET text = COALESCE(EXCLUDED.text, t.text)"
	mock.ExpectExec(regexpEscape(expected)).
		WithArgs("1", "hello").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexpEscape(expected)).
		WithArgs("2", "world").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.SaveBatch(context.Background(), crawler.KindPost, []crawler.Record{
		crawler.NewRecord(map[string]any{"id": "1", "text": "hello"}),
		crawler.NewRecord(map[string]any{"id": "2", "text": "world"}),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveBatchCollapsesDuplicateIDs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithPool(mock, "data", nil)

	mock.ExpectExec("INSERT INTO data.facebook_comments").
		WithArgs("1", "first").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = s.SaveBatch(context.Background(), crawler.KindComment, []crawler.Record{
		crawler.NewRecord(map[string]any{"id": "1", "text": "first"}),
		crawler.NewRecord(map[string]any{"id": "1", "text": "second"}),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveConnectionsConflictDoesNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewPostgresWithPool(mock, "data", nil)

	expected := "INSERT INTO data.facebook_connections (id, parent_id, collection) VALUES ($1, $2, $3)" +
		" ON CONFLICT (id, parent_id, collection) DO NOTHING"
	mock.ExpectExec(regexpEscape(expected)).
		WithArgs("1", "100", "facebook/post/comments").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexpEscape(expected)).
		WithArgs("2", "100", "facebook/post/comments").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err = s.SaveConnections(context.Background(), "100", []string{"1", "2"}, "facebook/post/comments")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertQueryKeyOnlyDoesNothing(t *testing.T) {
	q := upsertQuery("data", "facebook_connections", []string{"id"}, []string{"id"})
	assert.Contains(t, q, "DO NOTHING")
}

// regexpEscape quotes a SQL string for pgxmock's regexp matcher.
func regexpEscape(s string) string {
	return regexp.QuoteMeta(s)
}
