package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{
		db: tx,
	}
}

// Open opens the sqlite database at `path` (":memory:" for a throwaway one)
// and applies the schema.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		path = ":memory:"
	}
	sqlite, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// every connection to :memory: is a separate database
	if path == ":memory:" {
		sqlite.SetMaxOpenConns(1)
	}

	_, err = sqlite.Exec(Schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		sqlite.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return sqlite, nil
}
