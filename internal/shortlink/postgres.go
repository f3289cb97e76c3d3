package shortlink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/metrics"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// PostgresStore keeps short links in the short_links table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings the database at databaseURL.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an open handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Name() string { return "postgres" }

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// UpdateConnectionMetrics updates the database connection gauge.
func (s *PostgresStore) UpdateConnectionMetrics() {
	metrics.SetDBConnectionsOpen(s.db.Stats().OpenConnections)
}

// Migrate runs every *.up.sql file in migrationsDir in name order.
func (s *PostgresStore) Migrate(migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", zap.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}

	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *Record) error {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert_short_link", time.Since(start)) }()

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO short_links (id, payload, created_at, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.Payload, createdAt, rec.ExpiresAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrIDTaken
		}
		return fmt.Errorf("insert short link: %w: %w", protocol.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_short_link", time.Since(start)) }()

	var rec Record
	var expiresAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, payload, created_at, expires_at, hit_count
		 FROM short_links WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Payload, &rec.CreatedAt, &expiresAt, &rec.HitCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("short link %q: %w", id, protocol.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query short link: %w: %w", protocol.ErrStoreUnavailable, err)
	}

	if expiresAt.Valid {
		rec.ExpiresAt = &expiresAt.Time
	}
	return &rec, nil
}

func (s *PostgresStore) IncrementHits(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE short_links SET hit_count = hit_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment hits: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM short_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete short link: %w: %w", protocol.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("purge_short_links", time.Since(start)) }()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM short_links WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge short links: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM short_links`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count short links: %w", err)
	}
	return count, nil
}
