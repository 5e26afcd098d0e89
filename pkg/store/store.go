// Package store persists conversations and preferences.
//
// Two backends share one database/sql implementation: SQLite through
// modernc.org/sqlite (the default, a single local file) and Postgres through
// pgx's stdlib driver. Schema changes are goose migrations embedded in the
// binary and applied by Open. The memory backend serves tests and one-shot
// CLI runs.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/vango-go/vai-jarvis/pkg/core/turn"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Conversations is a conversation store that can also list what it holds.
type Conversations interface {
	turn.ConversationStore
	// List returns conversation headers, most recently updated first.
	// Messages are not loaded.
	List(ctx context.Context, limit int) ([]types.Conversation, error)
}

// Preferences is the preference store plus raw key access.
type Preferences interface {
	turn.PreferenceStore
	All(ctx context.Context) (map[string]string, error)
}

// Stores bundles the two stores of one backend.
type Stores struct {
	Conversations Conversations
	Preferences   Preferences

	db *sql.DB
}

// Close releases the database, if any.
func (s *Stores) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection. The memory backend always answers.
func (s *Stores) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.PingContext(ctx)
}

// Open connects to driver at dsn and migrates the schema to the latest
// version. For sqlite, dsn is a file path; its directory is created.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Stores, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		db      *sql.DB
		dialect goose.Dialect
		err     error
	)
	switch driver {
	case DriverMemory:
		return &Stores{
			Conversations: NewMemoryConversations(),
			Preferences:   NewMemoryPreferences(),
		}, nil
	case DriverSQLite, "":
		db, err = openSQLite(dsn)
		dialect = goose.DialectSQLite3
		driver = DriverSQLite
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		dialect = goose.DialectPostgres
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if err := migrate(ctx, db, dialect, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", driver, err)
	}

	q := &queries{db: db, postgres: driver == DriverPostgres}
	return &Stores{
		Conversations: &SQLConversations{q: q},
		Preferences:   &SQLPreferences{q: q},
		db:            db,
	}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store needs a database path")
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY and
	// keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, logger *slog.Logger) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	for _, r := range results {
		logger.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// queries rewrites ? placeholders for drivers that number them.
type queries struct {
	db       *sql.DB
	postgres bool
}

func (q *queries) rebind(query string) string {
	if !q.postgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
