package alert

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/sentry_relay/internal/model/messages"
	"github.com/LeonardoBeccarini/sentry_relay/pkg/breaker"
)

func TestPostgresRepositoryInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo, err := NewPostgresRepository(db, "alerts", breaker.New("postgres", 3, time.Second, zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	a := messages.Alert{
		SensorID:    "door-1",
		Type:        messages.AlertDoorOpen,
		Severity:    messages.SeverityMedium,
		Title:       "door-1 Opened",
		Description: "The garage door was opened.",
		Metadata:    map[string]any{"value": true},
		Timestamp:   ts,
	}

	expectedQuery := regexp.QuoteMeta("INSERT INTO alerts (sensor_id, alert_type, severity, title, description, metadata, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)")
	mock.ExpectExec(expectedQuery).
		WithArgs("door-1", "DOOR_OPEN", "MEDIUM", a.Title, a.Description, `{"value":true}`, ts).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Insert(context.Background(), a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo, _ := NewPostgresRepository(db, "alerts", breaker.New("postgres", 3, time.Second, zap.NewNop()))
	mock.ExpectExec("INSERT INTO alerts").WillReturnError(errors.New("connection refused"))

	if err := repo.Insert(context.Background(), messages.Alert{SensorID: "x"}); err == nil {
		t.Fatal("expected insert error")
	}
}

func TestPostgresRepositoryEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	repo, _ := NewPostgresRepository(db, "security_alerts", breaker.New("postgres", 3, time.Second, zap.NewNop()))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS security_alerts")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryRejectsBadTableName(t *testing.T) {
	if _, err := NewPostgresRepository(nil, "alerts; DROP TABLE x", nil); err == nil {
		t.Fatal("expected invalid table name to be rejected")
	}
}
