package sink

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
)

func record(fields map[string]any) crawler.Record {
	return crawler.NewRecord(fields)
}

func readTable(t *testing.T, dir, table string) [][]string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, table+".csv"))
	require.NoError(t, err)
	body := strings.TrimPrefix(string(data), "\ufeff")
	rows, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSaveBatchWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSV(dir, nil)
	require.NoError(t, err)

	err = s.SaveBatch(context.Background(), crawler.KindPost, []crawler.Record{
		record(map[string]any{"id": "1", "text": "hello", "owner_id": "9"}),
		record(map[string]any{"id": "2", "text": "world", "owner_id": "9"}),
	})
	require.NoError(t, err)

	rows := readTable(t, dir, "facebook_posts")
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "owner_id", "text"}, rows[0])
	assert.Equal(t, []string{"1", "9", "hello"}, rows[1])
}

func TestSaveBatchIsIdempotentWithinRun(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSV(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	batch := []crawler.Record{record(map[string]any{"id": "1", "text": "hello"})}
	require.NoError(t, s.SaveBatch(ctx, crawler.KindComment, batch))
	require.NoError(t, s.SaveBatch(ctx, crawler.KindComment, batch))

	rows := readTable(t, dir, "facebook_comments")
	assert.Len(t, rows, 2) // header + one row
}

func TestSaveBatchIsIdempotentAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := NewCSV(dir, nil)
	require.NoError(t, err)
	require.NoError(t, first.SaveBatch(ctx, crawler.KindPost, []crawler.Record{
		record(map[string]any{"id": "1", "text": "hello"}),
	}))
	require.NoError(t, first.Close())

	second, err := NewCSV(dir, nil)
	require.NoError(t, err)
	require.NoError(t, second.SaveBatch(ctx, crawler.KindPost, []crawler.Record{
		record(map[string]any{"id": "1", "text": "hello again"}),
		record(map[string]any{"id": "2", "text": "fresh"}),
	}))

	rows := readTable(t, dir, "facebook_posts")
	require.Len(t, rows, 3)
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "2", rows[2][0])
}

func TestSaveConnectionsKeyedByTriple(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSV(dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveConnections(ctx, "100", []string{"1", "2"}, "facebook/post/comments"))
	// Same children under the same parent and collection: no new rows.
	require.NoError(t, s.SaveConnections(ctx, "100", []string{"1", "2"}, "facebook/post/comments"))
	// Same child under a different parent is a distinct edge.
	require.NoError(t, s.SaveConnections(ctx, "200", []string{"1"}, "facebook/post/comments"))

	rows := readTable(t, dir, "facebook_connections")
	assert.Len(t, rows, 4) // header + three edges
}

func TestFormatCellFlattensLists(t *testing.T) {
	assert.Equal(t, "", formatCell(nil))
	assert.Equal(t, "a;b", formatCell([]any{"a", "b"}))
	assert.Equal(t, "42", formatCell(float64(42)))
	assert.Equal(t, "1.5", formatCell(1.5))
}
