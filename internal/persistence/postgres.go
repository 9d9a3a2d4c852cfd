package persistence

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	// PostgreSQL driver
	_ "github.com/lib/pq"
)

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	// URL, when set, is used verbatim as the connection string and the
	// individual host fields are ignored.
	URL          string
	Host         string
	Port         int
	Database     string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// PostgresBackend records share events in a share_events table. Inserts run
// on a background worker fed by a bounded channel; when the channel is full
// the event is dropped with an error log.
type PostgresBackend struct {
	db       *sql.DB
	logger   *slog.Logger
	events   chan ShareEvent
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

// NewPostgresBackend connects, verifies the connection, and starts the
// insert worker.
func NewPostgresBackend(cfg *PostgresConfig, bufferSize int, logger *slog.Logger) (*PostgresBackend, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logger.Error("failed to close PostgreSQL connection during error cleanup", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	b := &PostgresBackend{
		db:     db,
		logger: logger,
		events: make(chan ShareEvent, bufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	go b.workerLoop()

	logger.Info("initialized postgres persistence backend", "database", cfg.Database)
	return b, nil
}

func (b *PostgresBackend) workerLoop() {
	defer close(b.done)

	for {
		select {
		case event := <-b.events:
			b.insertEvent(event)
		case <-b.quit:
			for {
				select {
				case event := <-b.events:
					b.insertEvent(event)
				default:
					if err := b.db.Close(); err != nil {
						b.logger.Error("failed to close PostgreSQL connection", "error", err)
					}
					b.logger.Info("postgres persistence worker shutdown complete")
					return
				}
			}
		}
	}
}

func (b *PostgresBackend) insertEvent(event ShareEvent) {
	query := `
		INSERT INTO share_events (
			share_hash, user_identity, share_work, nominal_hash_rate,
			nonce, ntime, version, target, extranonce_prefix,
			is_valid, is_block_found, template_id, error_code, submitted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (share_hash) DO NOTHING`

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := b.db.ExecContext(ctx, query,
		event.ShareHash.String(),
		event.UserIdentity,
		event.ShareWork,
		event.NominalHashRate,
		int64(event.Nonce),
		int64(event.NTime),
		int64(event.Version),
		hex.EncodeToString(event.Target[:]),
		hex.EncodeToString(event.ExtranoncePrefix),
		event.IsValid,
		event.IsBlockFound,
		int64(event.TemplateID),
		nullableString(event.ErrorCode),
		event.Timestamp,
	)
	if err != nil {
		b.logger.Error("failed to insert share event",
			"share_hash", event.ShareHash.String(),
			"error", err,
		)
	}
}

// PersistEvent queues the event for insertion; drops it if the queue is full.
func (b *PostgresBackend) PersistEvent(event ShareEvent) {
	select {
	case b.events <- event:
	default:
		b.logger.Error("postgres persistence queue full, dropping share event",
			"user_identity", event.UserIdentity)
	}
}

// Flush is a no-op; inserts are not batched.
func (b *PostgresBackend) Flush() {}

// Shutdown drains queued inserts and closes the connection. Idempotent.
func (b *PostgresBackend) Shutdown() {
	b.quitOnce.Do(func() {
		close(b.quit)
	})

	select {
	case <-b.done:
	case <-time.After(10 * time.Second):
		b.logger.Warn("postgres persistence shutdown timed out")
	}
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
