package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"wamux/internal/migrations"
	"wamux/internal/models"
	"wamux/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database persists webhook registrations and session audit records.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(migrations.GetInitialSchema()); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// SaveWebhook upserts the callback URL for an identifier.
func (d *Database) SaveWebhook(ctx context.Context, identifier, url string) error {
	encryptedURL, err := d.encryptor.Encrypt(url)
	if err != nil {
		return fmt.Errorf("failed to encrypt webhook URL: %w", err)
	}

	query := `
		INSERT INTO webhooks (identifier, url, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET url = excluded.url, updated_at = excluded.updated_at
	`

	if _, err := d.db.ExecContext(ctx, query, identifier, encryptedURL, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save webhook: %w", err)
	}

	return nil
}

// DeleteWebhook removes the callback URL for an identifier.
func (d *Database) DeleteWebhook(ctx context.Context, identifier string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM webhooks WHERE identifier = ?`, identifier); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

// ListWebhooks returns every stored webhook registration.
func (d *Database) ListWebhooks(ctx context.Context) ([]models.WebhookRecord, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT identifier, url, updated_at FROM webhooks`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var records []models.WebhookRecord
	for rows.Next() {
		var rec models.WebhookRecord
		var encryptedURL string
		if err := rows.Scan(&rec.Identifier, &encryptedURL, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan webhook row: %w", err)
		}

		rec.URL, err = d.encryptor.Decrypt(encryptedURL)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt webhook URL: %w", err)
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// InsertSessionRecord appends an audit row for a newly created session.
func (d *Database) InsertSessionRecord(ctx context.Context, identifier string, createdAt time.Time) error {
	query := `INSERT INTO session_records (identifier, created_at) VALUES (?, ?)`
	if _, err := d.db.ExecContext(ctx, query, identifier, createdAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert session record: %w", err)
	}
	return nil
}

// UpdateSessionStatus records the latest observed status for the most
// recent audit row of an identifier.
func (d *Database) UpdateSessionStatus(ctx context.Context, identifier, status string) error {
	query := `
		UPDATE session_records SET last_status = ?
		WHERE id = (SELECT MAX(id) FROM session_records WHERE identifier = ?)
	`
	if _, err := d.db.ExecContext(ctx, query, status, identifier); err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// MarkSessionRemoved stamps removal on the most recent audit row of an identifier.
func (d *Database) MarkSessionRemoved(ctx context.Context, identifier string, removedAt time.Time) error {
	query := `
		UPDATE session_records SET removed_at = ?
		WHERE id = (SELECT MAX(id) FROM session_records WHERE identifier = ?)
	`
	if _, err := d.db.ExecContext(ctx, query, removedAt.UTC(), identifier); err != nil {
		return fmt.Errorf("failed to mark session removed: %w", err)
	}
	return nil
}

// GetSessionRecord returns the most recent audit row for an identifier.
func (d *Database) GetSessionRecord(ctx context.Context, identifier string) (*models.SessionRecord, error) {
	query := `
		SELECT identifier, created_at, removed_at, last_status
		FROM session_records
		WHERE identifier = ?
		ORDER BY id DESC
		LIMIT 1
	`

	rec := &models.SessionRecord{}
	err := d.db.QueryRowContext(ctx, query, identifier).Scan(
		&rec.Identifier, &rec.CreatedAt, &rec.RemovedAt, &rec.LastStatus,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}

	return rec, nil
}
