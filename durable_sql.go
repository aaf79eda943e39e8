package bucketcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// SQLDurableConfig configures the SQL persistence backend. SQLite is the
// default driver; postgres (via pgx) and mysql use the same schema.
type SQLDurableConfig struct {
	DriverName string
	DSN        string
	Table      string
}

// SQLDurableStore persists cache entries in a relational table keyed by
// (bucket, identifier) with the absolute expiry stored as unix millis.
type SQLDurableStore struct {
	db         *sql.DB
	table      string
	driverName string

	getStmt    *sql.Stmt
	upsertStmt *sql.Stmt
	deleteStmt *sql.Stmt
	clearStmt  *sql.Stmt
	listStmt   *sql.Stmt
}

var sqlIdentPartRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewSQLDurableStore opens the database, ensures the schema, and prepares
// statements.
func NewSQLDurableStore(cfg SQLDurableConfig) (*SQLDurableStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("bucketcache: sql durable store requires a dsn")
	}
	driverName := cfg.DriverName
	if driverName == "" {
		driverName = "sqlite"
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	table := cfg.Table
	if table == "" {
		table = "cache_entries"
	}
	if err := validateSQLTableName(table); err != nil {
		return nil, err
	}
	s := &SQLDurableStore{
		db:         db,
		table:      table,
		driverName: driverName,
	}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLDurableStore) Close() error {
	return s.db.Close()
}

func (s *SQLDurableStore) ensureSchema() error {
	var stmt string
	switch s.driverName {
	case "postgres", "pgx":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			bucket TEXT NOT NULL,
			k TEXT NOT NULL,
			v BYTEA NOT NULL,
			ea BIGINT NOT NULL,
			PRIMARY KEY (bucket, k)
		);`, s.table)
	case "mysql":
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			bucket VARBINARY(128) NOT NULL,
			k VARBINARY(255) NOT NULL,
			v LONGBLOB NOT NULL,
			ea BIGINT NOT NULL,
			PRIMARY KEY (bucket, k)
		) ENGINE=InnoDB;`, s.table)
	default: // sqlite
		stmt = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			bucket TEXT NOT NULL,
			k TEXT NOT NULL,
			v BLOB NOT NULL,
			ea INTEGER NOT NULL,
			PRIMARY KEY (bucket, k)
		);`, s.table)
	}
	_, err := s.db.Exec(stmt)
	return err
}

// Put upserts one entry.
func (s *SQLDurableStore) Put(ctx context.Context, bucket, identifier string, payload []byte, expiresAt time.Time) error {
	_, err := s.upsertStmt.ExecContext(ctx, bucket, identifier, payload, expiresAt.UnixMilli(), payload, expiresAt.UnixMilli())
	return err
}

// Get returns the stored record, expired or not; expiry filtering is the
// caller's policy.
func (s *SQLDurableStore) Get(ctx context.Context, bucket, identifier string) (DurableRecord, bool, error) {
	var v []byte
	var ea int64
	err := s.getStmt.QueryRowContext(ctx, bucket, identifier).Scan(&v, &ea)
	if errors.Is(err, sql.ErrNoRows) {
		return DurableRecord{}, false, nil
	}
	if err != nil {
		return DurableRecord{}, false, err
	}
	return DurableRecord{Identifier: identifier, Payload: v, ExpiresAt: time.UnixMilli(ea)}, true, nil
}

// Delete removes one entry; absent rows are a no-op.
func (s *SQLDurableStore) Delete(ctx context.Context, bucket, identifier string) error {
	_, err := s.deleteStmt.ExecContext(ctx, bucket, identifier)
	return err
}

// Clear removes every entry of a bucket.
func (s *SQLDurableStore) Clear(ctx context.Context, bucket string) error {
	_, err := s.clearStmt.ExecContext(ctx, bucket)
	return err
}

// ListAll returns every record of a bucket, for startup hydration.
func (s *SQLDurableStore) ListAll(ctx context.Context, bucket string) ([]DurableRecord, error) {
	rows, err := s.listStmt.QueryContext(ctx, bucket)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DurableRecord
	for rows.Next() {
		var rec DurableRecord
		var ea int64
		if err := rows.Scan(&rec.Identifier, &rec.Payload, &ea); err != nil {
			return nil, err
		}
		rec.ExpiresAt = time.UnixMilli(ea)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLDurableStore) upsertSQL() string {
	// Placeholders must be positional for postgres/pgx.
	p1, p2, p3, p4, p5, p6 := s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6)
	switch s.driverName {
	case "postgres", "pgx":
		return fmt.Sprintf("INSERT INTO %s (bucket, k, v, ea) VALUES (%s, %s, %s, %s) ON CONFLICT (bucket, k) DO UPDATE SET v = %s, ea = %s", s.table, p1, p2, p3, p4, p5, p6)
	case "mysql":
		return fmt.Sprintf("INSERT INTO %s (bucket, k, v, ea) VALUES (%s, %s, %s, %s) ON DUPLICATE KEY UPDATE v = %s, ea = %s", s.table, p1, p2, p3, p4, p5, p6)
	default: // sqlite
		return fmt.Sprintf("INSERT INTO %s (bucket, k, v, ea) VALUES (%s, %s, %s, %s) ON CONFLICT(bucket, k) DO UPDATE SET v = %s, ea = %s", s.table, p1, p2, p3, p4, p5, p6)
	}
}

func (s *SQLDurableStore) prepareStatements() error {
	var err error
	if s.getStmt, err = s.db.Prepare(fmt.Sprintf("SELECT v, ea FROM %s WHERE bucket = %s AND k = %s", s.table, s.ph(1), s.ph(2))); err != nil {
		return err
	}
	if s.upsertStmt, err = s.db.Prepare(s.upsertSQL()); err != nil {
		return err
	}
	if s.deleteStmt, err = s.db.Prepare(fmt.Sprintf("DELETE FROM %s WHERE bucket = %s AND k = %s", s.table, s.ph(1), s.ph(2))); err != nil {
		return err
	}
	if s.clearStmt, err = s.db.Prepare(fmt.Sprintf("DELETE FROM %s WHERE bucket = %s", s.table, s.ph(1))); err != nil {
		return err
	}
	if s.listStmt, err = s.db.Prepare(fmt.Sprintf("SELECT k, v, ea FROM %s WHERE bucket = %s", s.table, s.ph(1))); err != nil {
		return err
	}
	return nil
}

func (s *SQLDurableStore) ph(i int) string {
	if s.driverName == "postgres" || s.driverName == "pgx" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func validateSQLTableName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("bucketcache: sql table name is required")
	}
	for _, part := range strings.Split(name, ".") {
		if !sqlIdentPartRE.MatchString(part) {
			return fmt.Errorf("bucketcache: invalid sql table name %q", name)
		}
	}
	return nil
}
