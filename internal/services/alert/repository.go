package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
)

// Repository records raised alerts.
type Repository interface {
	Insert(ctx context.Context, a messages.Alert) error
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresRepository inserts alerts into a Postgres table through database/sql.
type PostgresRepository struct {
	db    *sql.DB
	table string
	cb    *gobreaker.CircuitBreaker
	query string
}

func NewPostgresRepository(db *sql.DB, table string, cb *gobreaker.CircuitBreaker) (*PostgresRepository, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid alerts table name %q", table)
	}
	return &PostgresRepository{
		db:    db,
		table: table,
		cb:    cb,
		query: fmt.Sprintf("INSERT INTO %s (sensor_id, alert_type, severity, title, description, metadata, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)", table),
	}, nil
}

// EnsureSchema creates the alerts table when it does not exist.
func (p *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	sensor_id TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL
)`, p.table))
	if err != nil {
		return fmt.Errorf("create %s: %w", p.table, err)
	}
	return nil
}

func (p *PostgresRepository) Insert(ctx context.Context, a messages.Alert) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode alert metadata: %w", err)
	}
	_, err = p.cb.Execute(func() (interface{}, error) {
		return p.db.ExecContext(ctx, p.query,
			a.SensorID, string(a.Type), string(a.Severity), a.Title, a.Description, string(meta), a.Timestamp)
	})
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Ping checks the database connection, for the probes.
func (p *PostgresRepository) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
