package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/socialgraph-crawler/internal/crawler"
	"github.com/JakeFAU/socialgraph-crawler/internal/metrics"
)

// PgxPool is the subset of pgxpool.Pool the sink uses, extracted so
// tests can substitute a mock.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresSink upserts records into per-kind tables within a schema.
// Idempotence comes from the database itself: conflicting rows are
// merged column-by-column, preferring fresh non-null values.
type PostgresSink struct {
	pool   PgxPool
	schema string
	logger *zap.Logger
}

// NewPostgres connects a pool for the DSN. Tables are expected to exist;
// schema management is an operator concern.
func NewPostgres(ctx context.Context, dsn, schema string, logger *zap.Logger) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return NewPostgresWithPool(pool, schema, logger), nil
}

// NewPostgresWithPool wraps an existing pool (or a mock).
func NewPostgresWithPool(pool PgxPool, schema string, logger *zap.Logger) *PostgresSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSink{pool: pool, schema: schema, logger: logger}
}

// SaveBatch upserts the batch into the kind's table. Records repeating
// an ID within the batch collapse to the first occurrence.
func (s *PostgresSink) SaveBatch(ctx context.Context, kind crawler.EntityKind, records []crawler.Record) error {
	unique := dedupeByID(records)
	if len(unique) == 0 {
		return nil
	}

	table := kind.Table()
	fields := sortedKeys(unique[0].Fields)
	query := upsertQuery(s.schema, table, fields, []string{"id"})

	for _, rec := range unique {
		args := make([]any, len(fields))
		for i, field := range fields {
			args[i] = rec.Fields[field]
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert into %s.%s: %w", s.schema, table, err)
		}
	}
	metrics.CountRecordsSaved(table, len(unique))
	return nil
}

// SaveConnections upserts one edge row per child; the triple key makes
// repeats no-ops.
func (s *PostgresSink) SaveConnections(ctx context.Context, parentID string, childIDs []string, collection string) error {
	query := fmt.Sprintf(
		"INSERT INTO %s.%s (id, parent_id, collection) VALUES ($1, $2, $3)"+
			" ON CONFLICT (id, parent_id, collection) DO NOTHING",
		s.schema, connectionsTable,
	)
	for _, childID := range childIDs {
		if _, err := s.pool.Exec(ctx, query, childID, parentID, collection); err != nil {
			return fmt.Errorf("upsert into %s.%s: %w", s.schema, connectionsTable, err)
		}
	}
	metrics.CountRecordsSaved(connectionsTable, len(childIDs))
	return nil
}

// Close releases the pool.
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}

// upsertQuery builds the merge statement for one table: insert, and on
// key conflict keep existing values wherever the fresh row is null.
func upsertQuery(schema, table string, fields, keyFields []string) string {
	placeholders := make([]string, len(fields))
	for i := range fields {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	keys := make(map[string]bool, len(keyFields))
	for _, k := range keyFields {
		keys[k] = true
	}
	updates := make([]string, 0, len(fields))
	for _, field := range fields {
		if keys[field] {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, t.%s)", field, field, field))
	}

	action := "NOTHING"
	if len(updates) > 0 {
		action = "UPDATE SET " + strings.Join(updates, ", ")
	}
	return fmt.Sprintf(
		"INSERT INTO %s.%s AS t (%s) VALUES (%s) ON CONFLICT (%s) DO %s",
		schema, table,
		strings.Join(fields, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(keyFields, ", "),
		action,
	)
}

func dedupeByID(records []crawler.Record) []crawler.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]crawler.Record, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return out
}
