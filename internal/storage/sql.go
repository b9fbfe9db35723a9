package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/dotcommander/refiner/internal/domain"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const schema = `
CREATE TABLE IF NOT EXISTS refinement_chains (
	image_key TEXT PRIMARY KEY,
	chain_id TEXT NOT NULL,
	aliases TEXT NOT NULL,
	background_state TEXT NOT NULL,
	created_at TEXT NOT NULL,
	last_modified TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chain_aliases (
	alias TEXT PRIMARY KEY,
	image_key TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chain_history (
	image_key TEXT NOT NULL,
	seq INTEGER NOT NULL,
	entry TEXT NOT NULL,
	PRIMARY KEY (image_key, seq)
);

CREATE INDEX IF NOT EXISTS idx_chain_aliases_image ON chain_aliases(image_key);
`

// SQLStore persists chains in SQLite or PostgreSQL. Structured fields are stored as JSON text and
// timestamps as RFC 3339 strings so both dialects round-trip them exactly.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore opens dsn with driver ("sqlite", or "pgx"/"postgres") and creates the schema.
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	if driver == "postgres" || driver == "postgresql" {
		driver = DriverPostgres
	}
	dsn = strings.TrimSpace(dsn)

	switch driver {
	case DriverSQLite:
		if path, onDisk := sqliteFilePath(dsn); onDisk {
			if dir := filepath.Dir(path); dir != "" && dir != "." {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return nil, fmt.Errorf("failed to create database directory: %w", err)
				}
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// One writer at a time; the busy timeout covers concurrent readers
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	s := &SQLStore{db: db, driver: driver}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func sqliteFilePath(dsn string) (string, bool) {
	if dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return "", false
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path, path != ""
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) SaveChain(ctx context.Context, chain *domain.Chain) error {
	aliases, err := json.Marshal(chain.Aliases)
	if err != nil {
		return fmt.Errorf("failed to marshal aliases: %w", err)
	}
	state, err := json.Marshal(chain.BackgroundState)
	if err != nil {
		return fmt.Errorf("failed to marshal background state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO refinement_chains (image_key, chain_id, aliases, background_state, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (image_key) DO UPDATE SET
			chain_id = excluded.chain_id,
			aliases = excluded.aliases,
			background_state = excluded.background_state,
			last_modified = excluded.last_modified
	`), chain.ImageKey, chain.ChainID, string(aliases), string(state),
		formatTime(chain.CreatedAt), formatTime(chain.LastModified))
	if err != nil {
		return fmt.Errorf("failed to upsert chain: %w", err)
	}

	// History is append-only, so only entries past the stored count are new
	var stored int
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM chain_history WHERE image_key = ?`),
		chain.ImageKey).Scan(&stored); err != nil {
		return fmt.Errorf("failed to count history: %w", err)
	}
	for seq := stored; seq < len(chain.History); seq++ {
		entry, err := json.Marshal(chain.History[seq])
		if err != nil {
			return fmt.Errorf("failed to marshal history entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO chain_history (image_key, seq, entry) VALUES (?, ?, ?)`),
			chain.ImageKey, seq, string(entry)); err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) LoadChain(ctx context.Context, imageKey string) (*domain.Chain, error) {
	var (
		chain                  domain.Chain
		aliases, state         string
		createdAt, lastTouched string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT image_key, chain_id, aliases, background_state, created_at, last_modified
		FROM refinement_chains WHERE image_key = ?
	`), imageKey).Scan(&chain.ImageKey, &chain.ChainID, &aliases, &state, &createdAt, &lastTouched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrChainNotFound, imageKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query chain: %w", err)
	}

	if err := json.Unmarshal([]byte(aliases), &chain.Aliases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal aliases: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &chain.BackgroundState); err != nil {
		return nil, fmt.Errorf("failed to unmarshal background state: %w", err)
	}
	if chain.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if chain.LastModified, err = parseTime(lastTouched); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT entry FROM chain_history WHERE image_key = ? ORDER BY seq ASC
	`), imageKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	chain.History = []domain.HistoryEntry{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		var entry domain.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history entry: %w", err)
		}
		chain.History = append(chain.History, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return &chain, nil
}

func (s *SQLStore) SaveAlias(ctx context.Context, alias, imageKey string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO chain_aliases (alias, image_key) VALUES (?, ?)
		ON CONFLICT (alias) DO UPDATE SET image_key = excluded.image_key
	`), alias, imageKey)
	if err != nil {
		return fmt.Errorf("failed to save alias: %w", err)
	}
	return nil
}

func (s *SQLStore) ResolveAlias(ctx context.Context, alias string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT image_key FROM chain_aliases WHERE alias = ?`), alias).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: alias %s", domain.ErrChainNotFound, alias)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve alias: %w", err)
	}
	return key, nil
}

func (s *SQLStore) ListChains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT image_key FROM refinement_chains ORDER BY image_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan chain key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLStore) DeleteChain(ctx context.Context, imageKey string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"chain_history", "chain_aliases", "refinement_chains"} {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM "+table+" WHERE image_key = ?"), imageKey); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
