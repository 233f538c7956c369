package sqliteutil

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// OpenDB opens the sqlite database at path and applies schema. Paths
// starting with libsql:// are dialed through the libsql driver instead
// of being opened as local files.
func OpenDB(schema, path string) (*sql.DB, error) {
	driver := "sqlite"
	if strings.HasPrefix(path, "libsql://") {
		driver = "libsql"
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// the modernc driver hands every pooled connection its own
		// view of a :memory: database, and file databases only take
		// one writer at a time anyway
		db.SetMaxOpenConns(1)
		if path != ":memory:" {
			_, err = db.Exec("PRAGMA journal_mode=WAL")
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to enable wal: %w", err)
			}
		}
	}
	_, err = db.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}
