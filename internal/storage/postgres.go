package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"

	_ "github.com/lib/pq"
	"github.com/xaenox/chatrank/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// PostgresStorage keeps the chat log in the chat_messages table. Storage
// order is the insertion sequence.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	if _, err = s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	return nil
}

func (s *PostgresStorage) Append(ctx context.Context, msgs []*models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chat_messages (message_id, username, content, ts, timestamp_local)
		VALUES ($1, $2, $3, $4, $5)`)
	if err != nil {
		return fmt.Errorf("error preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		if _, err := stmt.ExecContext(ctx, string(msg.ID), msg.Username, msg.Content, msg.Timestamp, msg.TimestampLocal); err != nil {
			return fmt.Errorf("error inserting message %s: %w", msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing messages: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Scan(ctx context.Context, fn func(*models.ChatMessage) error) (ScanStats, error) {
	var stats ScanStats

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, username, content, ts, timestamp_local
		FROM chat_messages
		ORDER BY seq`)
	if err != nil {
		return stats, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg models.ChatMessage
		var id string
		if err := rows.Scan(&id, &msg.Username, &msg.Content, &msg.Timestamp, &msg.TimestampLocal); err != nil {
			stats.Skipped++
			s.logger.Debug("Skipping unreadable chat row", zap.Error(err))
			continue
		}
		msg.ID = models.MessageID(id)
		stats.Records++
		if err := fn(&msg); err != nil {
			return stats, err
		}
	}

	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating messages: %w", err)
	}
	return stats, nil
}

func (s *PostgresStorage) Export(ctx context.Context, w io.Writer) (int64, error) {
	return exportByScan(ctx, s, w)
}

func (s *PostgresStorage) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE chat_messages RESTART IDENTITY`); err != nil {
		return fmt.Errorf("error truncating messages: %w", err)
	}
	return nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
