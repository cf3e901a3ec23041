// Package sink provides the output sink providers records are persisted
// through: CSV files, Postgres, or a no-op sink for dry runs. All
// providers are idempotent per natural key so repeated saves within a
// run or across restarts never duplicate rows.
package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
)

const connectionsTable = "facebook_connections"

// CSVSink appends records to one CSV file per table under a directory.
// Idempotence is provided by in-memory key sets primed from any files
// left by earlier runs, so a resumed crawl never rewrites rows.
type CSVSink struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	headers map[string][]string
	seen    map[string]map[string]struct{}
}

// NewCSV creates the output directory if needed and primes the
// deduplication sets from pre-existing files.
func NewCSV(dir string, logger *zap.Logger) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create csv directory %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CSVSink{
		dir:     dir,
		logger:  logger,
		headers: make(map[string][]string),
		seen:    make(map[string]map[string]struct{}),
	}

	tables := []string{
		crawler.KindPost.Table(),
		crawler.KindComment.Table(),
		crawler.KindProfile.Table(),
		crawler.KindSearchPosts.Table(),
		connectionsTable,
	}
	for _, table := range tables {
		if err := s.prime(table); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SaveBatch appends the not-yet-seen records of the batch to the table
// for the given kind.
func (s *CSVSink) SaveBatch(ctx context.Context, kind crawler.EntityKind, records []crawler.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save batch canceled: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	table := kind.Table()
	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		if s.markSeen(table, rec.ID) {
			rows = append(rows, rec.Fields)
		}
	}
	return s.appendRows(table, rows)
}

// SaveConnections appends one edge row per child to the connections
// table, keyed by the (child, parent, collection) triple.
func (s *CSVSink) SaveConnections(ctx context.Context, parentID string, childIDs []string, collection string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("save connections canceled: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]map[string]any, 0, len(childIDs))
	for _, childID := range childIDs {
		key := childID + "\x1f" + parentID + "\x1f" + collection
		if s.markSeen(connectionsTable, key) {
			rows = append(rows, map[string]any{
				"id":         childID,
				"parent_id":  parentID,
				"collection": collection,
			})
		}
	}
	return s.appendRows(connectionsTable, rows)
}

// Close is a no-op; every save flushes to disk.
func (s *CSVSink) Close() error { return nil }

// markSeen records the key and reports whether it was new.
func (s *CSVSink) markSeen(table, key string) bool {
	keys, ok := s.seen[table]
	if !ok {
		keys = make(map[string]struct{})
		s.seen[table] = keys
	}
	if _, dup := keys[key]; dup {
		return false
	}
	keys[key] = struct{}{}
	return true
}

// appendRows writes rows to the table file, creating it with a BOM and a
// sorted-field header on first use. Caller holds the mutex.
func (s *CSVSink) appendRows(table string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}

	path := filepath.Join(s.dir, table+".csv")
	header, ok := s.headers[table]
	created := false
	var fp *os.File
	var err error

	if ok {
		fp, err = os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o600)
	} else {
		fp, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		created = true
		header = sortedKeys(rows[0])
		s.headers[table] = header
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = fp.Close() }()

	if created {
		if _, err := fp.WriteString("\ufeff"); err != nil {
			return fmt.Errorf("write BOM to %s: %w", path, err)
		}
	}

	w := csv.NewWriter(fp)
	if created {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("write header to %s: %w", path, err)
		}
	}
	for _, row := range rows {
		cells := make([]string, len(header))
		for i, field := range header {
			cells[i] = formatCell(row[field])
		}
		if err := w.Write(cells); err != nil {
			return fmt.Errorf("write row to %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	metrics.CountRecordsSaved(table, len(rows))
	return nil
}

// prime loads the header and the already-persisted keys from an earlier
// run's file, if any.
func (s *CSVSink) prime(table string) error {
	path := filepath.Join(s.dir, table+".csv")
	fp, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open existing %s: %w", path, err)
	}
	defer func() { _ = fp.Close() }()

	r := csv.NewReader(fp)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read existing %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil
	}

	header := rows[0]
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	s.headers[table] = header

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}
	keys := make(map[string]struct{}, len(rows)-1)
	for _, row := range rows[1:] {
		if table == connectionsTable {
			keys[cell(row, cols, "id")+"\x1f"+cell(row, cols, "parent_id")+"\x1f"+cell(row, cols, "collection")] = struct{}{}
			continue
		}
		if id := cell(row, cols, "id"); id != "" {
			keys[id] = struct{}{}
		}
	}
	s.seen[table] = keys
	s.logger.Debug("primed csv dedup set",
		zap.String("table", table),
		zap.Int("keys", len(keys)),
	)
	return nil
}

func cell(row []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatCell flattens a payload value into one CSV cell. Lists join with
// semicolons, as downstream consumers expect.
func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, el := range val {
			parts = append(parts, formatCell(el))
		}
		return strings.Join(parts, ";")
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(val)
	}
}
