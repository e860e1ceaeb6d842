package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/songzhibin97/tradeflux/internal/models"

	_ "github.com/lib/pq"
)

// Sink stores order audit entries.
type Sink interface {
	Record(ctx context.Context, e models.AuditEntry) error
}

// PostgresJournal is an append-only order audit log. It is never read back
// into the account state.
type PostgresJournal struct {
	db *sql.DB
}

func NewPostgresJournal(connStr string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	j := &PostgresJournal{db: db}
	if err := j.initTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return j, nil
}

// Record implements Sink. Entries already stored are ignored.
func (j *PostgresJournal) Record(ctx context.Context, e models.AuditEntry) error {
	query := `
        INSERT INTO order_audit (
            id, action, order_id, symbol, amount, price, recorded_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7
        )
        ON CONFLICT (id) DO NOTHING
    `

	_, err := j.db.ExecContext(ctx, query,
		e.ID,
		string(e.Action),
		e.OrderID,
		e.Symbol,
		e.Amount,
		e.Price,
		e.Time,
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (j *PostgresJournal) Recent(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	query := `
        SELECT id, action, order_id, symbol, amount, price, recorded_at
        FROM order_audit
        ORDER BY recorded_at DESC
        LIMIT $1
    `

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var result []models.AuditEntry
	for rows.Next() {
		var (
			e      models.AuditEntry
			action string
		)
		if err := rows.Scan(&e.ID, &action, &e.OrderID, &e.Symbol, &e.Amount, &e.Price, &e.Time); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = models.AuditAction(action)
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return result, nil
}

func (j *PostgresJournal) Close() error {
	return j.db.Close()
}

func (j *PostgresJournal) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS order_audit (
			id UUID PRIMARY KEY,
			action VARCHAR(16) NOT NULL,
			order_id BIGINT NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			amount NUMERIC(28, 8),
			price NUMERIC(28, 8),
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS order_audit_order_id_idx ON order_audit (order_id)`,
	}

	for _, query := range queries {
		if _, err := j.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}
