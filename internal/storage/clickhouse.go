package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/study-hub/internal/config"
	apperrors "github.com/study-hub/internal/errors"
	"github.com/study-hub/internal/models"
	"github.com/study-hub/internal/types"
)

// ClickHouseDB wraps the ClickHouse connection
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Ping checks if the database is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec executes a query without returning rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

// DeliveryLogRepository appends notification delivery outcomes to the
// notification_deliveries audit table
type DeliveryLogRepository struct {
	db *ClickHouseDB
}

// NewDeliveryLogRepository creates a new delivery log repository
func NewDeliveryLogRepository(db *ClickHouseDB) *DeliveryLogRepository {
	return &DeliveryLogRepository{db: db}
}

// Record appends one delivery outcome
func (r *DeliveryLogRepository) Record(ctx context.Context, rec models.DeliveryRecord) error {
	batch, err := r.db.conn.PrepareBatch(ctx, `
		INSERT INTO notification_deliveries
			(event_id, event_type, account_id, channel, status, attempts, error, delivered_at)
	`)
	if err != nil {
		return apperrors.NewDatabaseError("prepare delivery record", err)
	}
	defer func() { _ = batch.Abort() }()

	attempts := rec.Attempts
	if attempts < 0 {
		attempts = 0
	}
	if err := batch.Append(
		rec.EventID,
		string(rec.EventType),
		rec.AccountID,
		string(rec.Channel),
		string(rec.Status),
		uint8(min(attempts, 255)), // #nosec G115 - clamped above
		rec.Error,
		rec.DeliveredAt.UTC(),
	); err != nil {
		return apperrors.NewDatabaseError("append delivery record", err)
	}
	if err := batch.Send(); err != nil {
		return apperrors.NewDatabaseError("send delivery record", err)
	}
	return nil
}

// ListByEvent returns the recorded deliveries of one domain event
func (r *DeliveryLogRepository) ListByEvent(ctx context.Context, eventID string) ([]models.DeliveryRecord, error) {
	rows, err := r.db.conn.Query(ctx, `
		SELECT event_id, event_type, account_id, channel, status, attempts, error, delivered_at
		FROM notification_deliveries
		WHERE event_id = ?
		ORDER BY delivered_at
	`, eventID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list deliveries", err)
	}
	defer rows.Close()

	var out []models.DeliveryRecord
	for rows.Next() {
		var (
			rec                        models.DeliveryRecord
			eventType, channel, status string
			attempts                   uint8
		)
		if err := rows.Scan(&rec.EventID, &eventType, &rec.AccountID, &channel, &status, &attempts, &rec.Error, &rec.DeliveredAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan delivery", err)
		}
		rec.EventType = types.DomainEventType(eventType)
		rec.Channel = types.Channel(channel)
		rec.Status = types.DeliveryStatus(status)
		rec.Attempts = int(attempts)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list deliveries", err)
	}
	return out, nil
}

// NopDeliveryLog discards delivery records; used when ClickHouse is disabled
type NopDeliveryLog struct{}

// Record does nothing
func (NopDeliveryLog) Record(context.Context, models.DeliveryRecord) error { return nil }
