package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const (
	// DriverModernc is the pure Go driver and the default
	DriverModernc = "sqlite"
	// DriverCGO is the mattn/go-sqlite3 driver
	DriverCGO = "sqlite3"

	// DefaultPrefix matches the collection names of the original mirror
	DefaultPrefix = "ggs_"
)

// Options configures the document store
type Options struct {
	Driver string // "sqlite" (default) or "sqlite3"
	Path   string
	Prefix string // table name prefix, DefaultPrefix when empty
}

type tables struct {
	messages      string
	watch         string
	notifications string
	content       string
	refs          string
	outbox        string
}

func newTables(prefix string) tables {
	return tables{
		messages:      prefix + "messages",
		watch:         prefix + "watch",
		notifications: prefix + "notifications",
		content:       prefix + "attachment_content",
		refs:          prefix + "attachment_refs",
		outbox:        prefix + "outbox",
	}
}

// Store is the SQLite-backed document store holding messages, watches,
// notifications, attachment content entries and the event outbox.
// One Store is opened per process and shared by every component.
type Store struct {
	DB *sql.DB
	t  tables
}

// Open opens or creates the document store database
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.Driver == "" {
		opts.Driver = DriverModernc
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}

	// Ensure directory exists
	dir := filepath.Dir(opts.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	dsn, err := dataSourceName(opts.Driver, opts.Path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{DB: db, t: newTables(opts.Prefix)}
	if err := s.Migrate(context.Background(), opts.Prefix); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func dataSourceName(driver, path string) (string, error) {
	switch driver {
	case DriverModernc:
		return path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", nil
	case DriverCGO:
		return "file:" + path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", driver)
	}
}

// Migrate applies the schema. It is idempotent.
func (s *Store) Migrate(ctx context.Context, prefix string) error {
	if _, err := s.DB.ExecContext(ctx, strings.ReplaceAll(schemaSQL, "{p}", prefix)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.DB.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
