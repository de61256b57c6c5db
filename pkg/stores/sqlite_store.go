package stores

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/stackzilla/stackzilla/pkg/attribute"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.cfg.Path
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", s.cfg.Path)
	if s.cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Exists reports whether a file database exists at path. The in-memory
// database never exists ahead of time.
func Exists(path string) bool {
	if path == memoryPath {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Destroy deletes the database file at path together with its WAL files.
func Destroy(path string) error {
	if !Exists(path) {
		return fmt.Errorf("database %s: %w", path, ErrNotFound)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete database: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete database: %w", err)
		}
	}
	return nil
}

// withTx runs fn in a transaction, committing when fn succeeds.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func encodeValue(v any) (string, error) {
	b, err := json.Marshal(attribute.Normalize(v))
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return string(b), nil
}

func decodeValue(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return attribute.Normalize(v), nil
}

// CreateResource inserts a resource row.
func (s *SQLiteStore) CreateResource(ctx context.Context, rec *ResourceRecord) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := resourceID(ctx, tx, rec.Path); err == nil {
			return fmt.Errorf("resource %s: %w", rec.Path, ErrAlreadyExists)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return insertResource(ctx, tx, rec)
	})
}

func insertResource(ctx context.Context, q querier, rec *ResourceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	deps, err := json.Marshal(nonNil(rec.DependsOn))
	if err != nil {
		return fmt.Errorf("failed to encode dependencies: %w", err)
	}

	query := `
		INSERT INTO resources (id, path, type, version_major, version_minor, version_build, version_name, depends_on, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		rec.ID,
		rec.Path,
		rec.Type,
		rec.VersionMajor,
		rec.VersionMinor,
		rec.VersionBuild,
		rec.VersionName,
		string(deps),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const resourceColumns = `id, path, type, version_major, version_minor, version_build, version_name, depends_on, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*ResourceRecord, error) {
	rec := &ResourceRecord{}
	var deps string
	err := row.Scan(
		&rec.ID,
		&rec.Path,
		&rec.Type,
		&rec.VersionMajor,
		&rec.VersionMinor,
		&rec.VersionBuild,
		&rec.VersionName,
		&deps,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(deps), &rec.DependsOn); err != nil {
		return nil, fmt.Errorf("failed to decode dependencies of %s: %w", rec.Path, err)
	}
	return rec, nil
}

// GetResource retrieves a resource by path.
func (s *SQLiteStore) GetResource(ctx context.Context, path string) (*ResourceRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	query := `SELECT ` + resourceColumns + ` FROM resources WHERE path = ?`
	rec, err := scanResource(s.db.QueryRowContext(ctx, query, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return rec, nil
}

// ListResources lists every resource ordered by path.
func (s *SQLiteStore) ListResources(ctx context.Context) ([]*ResourceRecord, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY path ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	records := []*ResourceRecord{}
	for rows.Next() {
		rec, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}
	return records, nil
}

// DeleteResource deletes a resource and, by cascade, its attributes.
func (s *SQLiteStore) DeleteResource(ctx context.Context, path string) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	return expectRow(result, "resource "+path)
}

// UpdateResourceVersion records a new class version for a resource.
func (s *SQLiteStore) UpdateResourceVersion(ctx context.Context, path string, major, minor, build int, name string) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	query := `
		UPDATE resources
		SET version_major = ?, version_minor = ?, version_build = ?, version_name = ?, updated_at = ?
		WHERE path = ?
	`
	result, err := s.db.ExecContext(ctx, query, major, minor, build, name, time.Now().UTC(), path)
	if err != nil {
		return fmt.Errorf("failed to update resource version: %w", err)
	}
	return expectRow(result, "resource "+path)
}

// SaveResource creates or updates the resource row and replaces its
// attribute values in a single transaction.
func (s *SQLiteStore) SaveResource(ctx context.Context, rec *ResourceRecord, attrs map[string]any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := resourceID(ctx, tx, rec.Path)
		switch {
		case errors.Is(err, ErrNotFound):
			if err := insertResource(ctx, tx, rec); err != nil {
				return err
			}
			id = rec.ID
		case err != nil:
			return err
		default:
			rec.ID = id
			rec.UpdatedAt = time.Now().UTC()
			deps, err := json.Marshal(nonNil(rec.DependsOn))
			if err != nil {
				return fmt.Errorf("failed to encode dependencies: %w", err)
			}
			query := `
				UPDATE resources
				SET type = ?, version_major = ?, version_minor = ?, version_build = ?, version_name = ?, depends_on = ?, updated_at = ?
				WHERE id = ?
			`
			if _, err := tx.ExecContext(ctx, query,
				rec.Type, rec.VersionMajor, rec.VersionMinor, rec.VersionBuild, rec.VersionName,
				string(deps), rec.UpdatedAt, id,
			); err != nil {
				return fmt.Errorf("failed to update resource: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE resource_id = ?`, id); err != nil {
				return fmt.Errorf("failed to clear attributes: %w", err)
			}
		}

		for _, name := range attribute.SortedKeys(attrs) {
			if err := upsertAttribute(ctx, tx, id, name, attrs[name]); err != nil {
				return err
			}
		}
		return nil
	})
}

func resourceID(ctx context.Context, q querier, path string) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM resources WHERE path = ?`, path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("resource %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up resource: %w", err)
	}
	return id, nil
}

func upsertAttribute(ctx context.Context, q querier, resourceID, name string, value any) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("attribute %s: %w", name, err)
	}

	query := `
		INSERT INTO attributes (id, resource_id, name, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_id, name) DO UPDATE SET value = excluded.value
	`
	if _, err := q.ExecContext(ctx, query, uuid.NewString(), resourceID, name, encoded); err != nil {
		return fmt.Errorf("failed to set attribute %s: %w", name, err)
	}
	return nil
}

// SetAttribute creates or updates one attribute value of a resource.
func (s *SQLiteStore) SetAttribute(ctx context.Context, path, name string, value any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := resourceID(ctx, tx, path)
		if err != nil {
			return err
		}
		return upsertAttribute(ctx, tx, id, name, value)
	})
}

// GetAttribute returns one attribute value of a resource.
func (s *SQLiteStore) GetAttribute(ctx context.Context, path, name string) (any, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	query := `
		SELECT a.value FROM attributes a
		JOIN resources r ON r.id = a.resource_id
		WHERE r.path = ? AND a.name = ?
	`
	var encoded string
	err := s.db.QueryRowContext(ctx, query, path, name).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attribute %s.%s: %w", path, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attribute: %w", err)
	}
	return decodeValue(encoded)
}

// ListAttributes returns every attribute value of a resource.
func (s *SQLiteStore) ListAttributes(ctx context.Context, path string) (map[string]any, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	id, err := resourceID(ctx, s.db, path)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM attributes WHERE resource_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}
	defer rows.Close()

	attrs := make(map[string]any)
	for rows.Next() {
		var name, encoded string
		if err := rows.Scan(&name, &encoded); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		v, err := decodeValue(encoded)
		if err != nil {
			return nil, fmt.Errorf("attribute %s.%s: %w", path, name, err)
		}
		attrs[name] = v
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attributes: %w", err)
	}
	return attrs, nil
}

// DeleteAttribute deletes one attribute value of a resource.
func (s *SQLiteStore) DeleteAttribute(ctx context.Context, path, name string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := resourceID(ctx, tx, path)
		if err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE resource_id = ? AND name = ?`, id, name)
		if err != nil {
			return fmt.Errorf("failed to delete attribute: %w", err)
		}
		return expectRow(result, "attribute "+path+"."+name)
	})
}

// SetMetadata creates or replaces a metadata value.
func (s *SQLiteStore) SetMetadata(ctx context.Context, key string, value any) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, encoded, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set metadata: %w", err)
	}
	return nil
}

// GetMetadata returns a metadata value.
func (s *SQLiteStore) GetMetadata(ctx context.Context, key string) (any, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	var encoded string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metadata key %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	return decodeValue(encoded)
}

// DeleteMetadata deletes a metadata key.
func (s *SQLiteStore) DeleteMetadata(ctx context.Context, key string) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return expectRow(result, "metadata key "+key)
}

// HasMetadata reports whether a metadata key exists.
func (s *SQLiteStore) HasMetadata(ctx context.Context, key string) (bool, error) {
	if s.db == nil {
		return false, ErrNotInitialized
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata WHERE key = ?`, key).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check metadata: %w", err)
	}
	return count > 0, nil
}

// ReplaceBlueprintModules swaps the stored blueprint for modules.
func (s *SQLiteStore) ReplaceBlueprintModules(ctx context.Context, modules []BlueprintModule) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blueprint_modules`); err != nil {
			return fmt.Errorf("failed to clear blueprint modules: %w", err)
		}
		for _, m := range modules {
			if _, err := tx.ExecContext(ctx, `INSERT INTO blueprint_modules (path, data) VALUES (?, ?)`, m.Path, m.Data); err != nil {
				return fmt.Errorf("failed to store blueprint module %s: %w", m.Path, err)
			}
		}
		return nil
	})
}

// ListBlueprintModules returns the stored blueprint modules ordered by path.
func (s *SQLiteStore) ListBlueprintModules(ctx context.Context) ([]BlueprintModule, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, data FROM blueprint_modules ORDER BY path ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blueprint modules: %w", err)
	}
	defer rows.Close()

	modules := []BlueprintModule{}
	for rows.Next() {
		var m BlueprintModule
		if err := rows.Scan(&m.Path, &m.Data); err != nil {
			return nil, fmt.Errorf("failed to scan blueprint module: %w", err)
		}
		modules = append(modules, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blueprint modules: %w", err)
	}
	return modules, nil
}

// DeleteBlueprintModules removes every stored blueprint module.
func (s *SQLiteStore) DeleteBlueprintModules(ctx context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blueprint_modules`); err != nil {
		return fmt.Errorf("failed to delete blueprint modules: %w", err)
	}
	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}

	query := `
		INSERT INTO runs (id, status, blueprint, summary, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.Blueprint,
		string(summary),
		run.Error,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

const runColumns = `id, status, blueprint, summary, error, started_at, completed_at`

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var (
		summary     string
		errMsg      sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Status, &run.Blueprint, &summary, &errMsg, &run.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
		return nil, fmt.Errorf("failed to decode run summary: %w", err)
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRun stores the status, summary and error of a run. Terminal
// statuses stamp the completion time.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *Run) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	if run.Status.Terminal() && run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}

	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}

	query := `
		UPDATE runs
		SET status = ?, summary = ?, error = ?, completed_at = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query, run.Status, string(summary), run.Error, run.CompletedAt, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return expectRow(result, "run "+run.ID)
}

// ListRuns lists runs with pagination, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func expectRow(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
