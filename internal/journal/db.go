package journal

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcboeker/go-duckdb"
)

// MemoryPath keeps the journal in memory for the lifetime of the process.
const MemoryPath = ":memory:"

// openDB opens the duckdb file at path, creating its directory. Every pooled
// connection shares the same database, including for MemoryPath.
func openDB(path string) (*sql.DB, error) {
	dsn := path
	if path == MemoryPath {
		dsn = ""
	} else if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	connector, err := duckdb.NewConnector(dsn, func(execer driver.ExecerContext) error {
		// The journal is tiny; one thread per connection is plenty.
		_, err := execer.ExecContext(context.Background(), "SET threads = 1", nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	return sql.OpenDB(connector), nil
}
