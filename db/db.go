package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/docutag/brandscan/models"
)

// ErrNotFound is returned when deleting an extraction that does not exist
var ErrNotFound = errors.New("extraction not found")

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
}

// Config contains database configuration
type Config struct {
	DSN string // PostgreSQL connection string
}

// DSN builds a PostgreSQL connection string from its parts
func DSN(host, port, user, password, name string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, name)
}

// Open opens and pings a connection without touching the schema
func Open(ctx context.Context, config Config) (*sql.DB, error) {
	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)
	return conn, nil
}

// New opens a connection, configures the pool and runs pending migrations
func New(ctx context.Context, config Config, logger *slog.Logger) (*DB, error) {
	conn, err := Open(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, conn, logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an existing connection without running migrations
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection
func (db *DB) DB() *sql.DB {
	return db.conn
}

const extractionColumns = `id, url, record, warnings, fetch_path, content_path, logo_path, logo_content_type, processing_time, created_at`

// SaveExtraction inserts e, replacing any earlier extraction of the same URL
func (db *DB) SaveExtraction(ctx context.Context, e *models.Extraction) error {
	record, err := json.Marshal(e.Record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	warnings := e.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	warningsJSON, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	query := `
		INSERT INTO brandscan_extractions (id, url, name, handle, record, warnings, fetch_path, content_path, logo_path, logo_content_type, processing_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT(url) DO UPDATE SET
			id = excluded.id,
			name = excluded.name,
			handle = excluded.handle,
			record = excluded.record,
			warnings = excluded.warnings,
			fetch_path = excluded.fetch_path,
			content_path = excluded.content_path,
			logo_path = excluded.logo_path,
			logo_content_type = excluded.logo_content_type,
			processing_time = excluded.processing_time,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		e.ID,
		e.URL,
		e.Record.Name,
		e.Record.Handle,
		string(record),
		string(warningsJSON),
		e.FetchPath,
		e.ContentPath,
		e.LogoPath,
		e.LogoType,
		e.ProcessingTime,
		e.CreatedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save extraction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExtraction(row rowScanner) (*models.Extraction, error) {
	var (
		e                                        models.Extraction
		record, warnings                         string
		fetchPath, contentPath, logoPath, logoCT sql.NullString
	)
	if err := row.Scan(&e.ID, &e.URL, &record, &warnings, &fetchPath, &contentPath, &logoPath, &logoCT, &e.ProcessingTime, &e.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(record), &e.Record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &e.Warnings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal warnings: %w", err)
		}
	}
	if len(e.Warnings) == 0 {
		e.Warnings = nil
	}
	e.FetchPath = fetchPath.String
	e.ContentPath = contentPath.String
	e.LogoPath = logoPath.String
	e.LogoType = logoCT.String
	return &e, nil
}

// GetByID retrieves an extraction by ID. A missing row returns (nil, nil).
func (db *DB) GetByID(ctx context.Context, id string) (*models.Extraction, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+extractionColumns+" FROM brandscan_extractions WHERE id = $1", id)
	e, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction: %w", err)
	}
	return e, nil
}

// GetByURL retrieves the latest extraction of a normalized URL. A missing row returns (nil, nil).
func (db *DB) GetByURL(ctx context.Context, url string) (*models.Extraction, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+extractionColumns+" FROM brandscan_extractions WHERE url = $1", url)
	e, err := scanExtraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query extraction: %w", err)
	}
	return e, nil
}

// List returns extractions, newest first
func (db *DB) List(ctx context.Context, limit, offset int) ([]*models.Extraction, error) {
	query := "SELECT " + extractionColumns + `
		FROM brandscan_extractions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query extractions: %w", err)
	}
	defer rows.Close()

	results := make([]*models.Extraction, 0)
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// Count returns the number of stored extractions
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM brandscan_extractions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count extractions: %w", err)
	}
	return count, nil
}

// DeleteByID deletes an extraction, returning ErrNotFound when nothing was deleted
func (db *DB) DeleteByID(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM brandscan_extractions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete extraction: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
