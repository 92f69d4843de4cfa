// Package audit keeps a journal of simplepub runs in the publish_runs
// table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/simplepub/internal/publisher"
)

// timeLayout is fixed-width so started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one journalled run.
type Entry struct {
	ID              string        `json:"id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	Broker          string        `json:"broker"`
	ClientID        string        `json:"client_id"`
	Topic           string        `json:"topic"`
	QoS             byte          `json:"qos"`
	Retain          bool          `json:"retain"`
	PayloadSize     int           `json:"payload_size"`
	Status          string        `json:"status"`
	ErrorKind       string        `json:"error_kind"`
	Error           string        `json:"error,omitempty"`
	Connected       bool          `json:"connected"`
	Pending         int           `json:"pending"`
	Iterations      uint64        `json:"iterations"`
	BytesSent       uint64        `json:"bytes_sent"`
	BytesReceived   uint64        `json:"bytes_received"`
	Retransmissions uint64        `json:"retransmissions"`
}

// SQLiteRepository stores runs in SQLite. It implements publisher.Recorder.
type SQLiteRepository struct {
	db *sql.DB
}

var _ publisher.Recorder = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository over a migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts the run report. A report without a RunID gets one.
func (r *SQLiteRepository) Record(ctx context.Context, report publisher.Report) error {
	return r.Create(ctx, EntryFromReport(report))
}

// EntryFromReport flattens a run report into a journal row.
func EntryFromReport(report publisher.Report) *Entry {
	return &Entry{
		ID:              report.RunID,
		StartedAt:       report.StartedAt,
		Duration:        report.Duration,
		Broker:          report.Broker,
		ClientID:        report.ClientID,
		Topic:           report.Topic,
		QoS:             report.QoS,
		Retain:          report.Retain,
		PayloadSize:     report.PayloadSize,
		Status:          report.Status.String(),
		ErrorKind:       report.ErrorKind.String(),
		Error:           report.ErrorString(),
		Connected:       report.Connected,
		Pending:         report.Pending,
		Iterations:      report.Iterations,
		BytesSent:       report.Stats.BytesSent,
		BytesReceived:   report.Stats.BytesReceived,
		Retransmissions: report.Stats.Retransmissions,
	}
}

// Create inserts an entry. ID and StartedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO publish_runs (
			id, started_at, duration_ms, broker, client_id, topic, qos, retain,
			payload_size, status, error_kind, error, connected, pending,
			iterations, bytes_sent, bytes_received, retransmissions
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StartedAt.UTC().Format(timeLayout), e.Duration.Milliseconds(),
		e.Broker, e.ClientID, e.Topic, int(e.QoS), boolToInt(e.Retain),
		e.PayloadSize, e.Status, e.ErrorKind, nullableString(e.Error),
		boolToInt(e.Connected), e.Pending,
		int64(e.Iterations), int64(e.BytesSent), int64(e.BytesReceived), int64(e.Retransmissions), //nolint:gosec // counters stay far below MaxInt64
	)
	if err != nil {
		return fmt.Errorf("inserting publish run: %w", err)
	}
	return nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
