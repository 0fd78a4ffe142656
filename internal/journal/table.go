package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/coral-mesh/coral-profiler/internal/retry"
)

// execer matches both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// table maps a struct with `duckdb` tags onto a table. A tag of the form
// "name,pk" marks the primary key.
type table[T any] struct {
	name     string
	columns  []string
	pk       string
	fieldIdx map[string]int
}

func newTable[T any](name string) *table[T] {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt.Kind() != reflect.Struct {
		panic("table row type must be a struct")
	}

	t := &table[T]{name: name, fieldIdx: make(map[string]int)}
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("duckdb")
		if tag == "" || tag == "-" {
			continue
		}
		col, opts, _ := strings.Cut(tag, ",")
		col = strings.TrimSpace(col)
		t.columns = append(t.columns, col)
		t.fieldIdx[col] = i
		if strings.TrimSpace(opts) == "pk" {
			t.pk = col
		}
	}
	return t
}

// conflictRetry absorbs duckdb's optimistic-concurrency write conflicts.
var conflictRetry = retry.Config{
	MaxRetries:     10,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
	Jitter:         0.1,
}

// upsert inserts row or overwrites every non-key column of the existing row.
func (t *table[T]) upsert(ctx context.Context, db execer, row *T) error {
	val := reflect.ValueOf(row).Elem()
	placeholders := make([]string, len(t.columns))
	values := make([]any, len(t.columns))
	updates := make([]string, 0, len(t.columns))
	for i, col := range t.columns {
		placeholders[i] = "?"
		values[i] = val.Field(t.fieldIdx[col]).Interface()
		if col != t.pk {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	// #nosec G201 - table and column names come from struct tags.
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		t.name,
		strings.Join(t.columns, ", "),
		strings.Join(placeholders, ", "),
		t.pk,
		strings.Join(updates, ", "),
	)

	return retry.Do(ctx, conflictRetry, func() error {
		_, err := db.ExecContext(ctx, query, values...)
		return err
	}, isTransactionConflict)
}

// get returns the row whose key is id, or sql.ErrNoRows.
func (t *table[T]) get(ctx context.Context, db execer, id any) (*T, error) {
	// #nosec G201 - table and column names come from struct tags.
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", strings.Join(t.columns, ", "), t.name, t.pk)

	var row T
	if err := db.QueryRowContext(ctx, query, id).Scan(t.dest(&row)...); err != nil {
		return nil, err
	}
	return &row, nil
}

// list returns rows matching where, ordered by orderBy. where may be empty.
func (t *table[T]) list(ctx context.Context, db execer, where, orderBy string, args ...any) ([]*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.columns, ", "), t.name)
	if where != "" {
		query += " WHERE " + where
	}
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*T
	for rows.Next() {
		var row T
		if err := rows.Scan(t.dest(&row)...); err != nil {
			return nil, err
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}

func (t *table[T]) dest(row *T) []any {
	val := reflect.ValueOf(row).Elem()
	dest := make([]any, len(t.columns))
	for i, col := range t.columns {
		dest[i] = val.Field(t.fieldIdx[col]).Addr().Interface()
	}
	return dest
}

func isTransactionConflict(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Conflict on update") ||
		strings.Contains(msg, "TransactionContext Error") ||
		strings.Contains(msg, "serialization")
}
