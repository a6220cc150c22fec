package deadletter

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"ytindexer/internal/queue"
	"ytindexer/pkg/migrations"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const defaultListLimit = 100

// Migrate creates or upgrades the dead_letters table.
func Migrate(db *sql.DB) error {
	return migrations.RunPostgres(db, migrationFiles, "migrations")
}

// PostgresArchive keeps dead letters from every queue in one table so they can be
// inspected and replayed independently of the queue backend.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

var _ queue.DeadLetterStore = (*PostgresArchive)(nil)

func (a *PostgresArchive) Put(ctx context.Context, dl queue.DeadLetter) error {
	message, err := json.Marshal(dl.Message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	query := `
		INSERT INTO dead_letters (id, queue, kind, reason, attempts, message, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = a.db.ExecContext(ctx, query,
		dl.ID,
		dl.Queue,
		string(dl.Kind),
		dl.Reason,
		dl.Attempts,
		message,
		dl.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

// List returns the newest dead letters first. An empty queue name lists every queue.
func (a *PostgresArchive) List(ctx context.Context, queueName string, limit int) ([]queue.DeadLetter, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT id, queue, kind, reason, attempts, message, failed_at
		FROM dead_letters
		WHERE ($1 = '' OR queue = $1)
		ORDER BY failed_at DESC
		LIMIT $2
	`

	rows, err := a.db.QueryContext(ctx, query, queueName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var letters []queue.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return letters, nil
}

func (a *PostgresArchive) Get(ctx context.Context, id string) (queue.DeadLetter, error) {
	query := `
		SELECT id, queue, kind, reason, attempts, message, failed_at
		FROM dead_letters
		WHERE id = $1
	`

	dl, err := scanDeadLetter(a.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return queue.DeadLetter{}, queue.ErrDeadLetterMissing
	}
	return dl, err
}

func (a *PostgresArchive) Delete(ctx context.Context, id string) error {
	if _, err := a.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeadLetter(row scanner) (queue.DeadLetter, error) {
	var (
		dl      queue.DeadLetter
		kind    string
		message []byte
	)
	if err := row.Scan(
		&dl.ID,
		&dl.Queue,
		&kind,
		&dl.Reason,
		&dl.Attempts,
		&message,
		&dl.FailedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dl, err
		}
		return dl, fmt.Errorf("failed to scan dead letter: %w", err)
	}

	dl.Kind = queue.DeadLetterKind(kind)
	if err := json.Unmarshal(message, &dl.Message); err != nil {
		return dl, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return dl, nil
}
