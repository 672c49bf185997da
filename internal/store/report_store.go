package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/chatbridge/internal/domain"
)

// maxPayload caps how much of a raw webhook body is kept with a report.
const maxPayload = 4096

// ReportStore persists error reports.
type ReportStore struct {
	db *DB
}

// NewReportStore creates a report store using the given database.
func NewReportStore(db *DB) *ReportStore {
	return &ReportStore{db: db}
}

// Save inserts a report, assigning an id and timestamp when missing.
func (s *ReportStore) Save(ctx context.Context, r domain.ErrorReport) (domain.ErrorReport, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if len(r.Payload) > maxPayload {
		r.Payload = r.Payload[:maxPayload]
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO error_reports (id, kind, platform, stage, external_id, error, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Kind), string(r.Platform), r.Stage, r.ExternalID,
		r.Error, r.Payload, r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return domain.ErrorReport{}, fmt.Errorf("inserting error report: %w", err)
	}
	return r, nil
}

// List returns the most recent reports, newest first, optionally filtered by
// kind. Limit of 0 defaults to 50.
func (s *ReportStore) List(ctx context.Context, kind domain.ErrorKind, limit int) ([]domain.ErrorReport, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error

	if kind != "" {
		rows, err = s.db.sql.QueryContext(ctx,
			`SELECT id, kind, platform, stage, external_id, error, payload, created_at
			 FROM error_reports WHERE kind = ?
			 ORDER BY created_at DESC LIMIT ?`,
			string(kind), limit,
		)
	} else {
		rows, err = s.db.sql.QueryContext(ctx,
			`SELECT id, kind, platform, stage, external_id, error, payload, created_at
			 FROM error_reports
			 ORDER BY created_at DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("querying error reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.ErrorReport
	for rows.Next() {
		var r domain.ErrorReport
		var kind, platform, createdAt string
		if err := rows.Scan(&r.ID, &kind, &platform, &r.Stage, &r.ExternalID, &r.Error, &r.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning error report: %w", err)
		}
		r.Kind = domain.ErrorKind(kind)
		r.Platform = domain.Platform(platform)
		r.CreatedAt = parseTime(createdAt)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// CountByKind returns report totals grouped by kind.
func (s *ReportStore) CountByKind(ctx context.Context) (map[domain.ErrorKind]int, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT kind, COUNT(*) FROM error_reports GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("counting error reports: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.ErrorKind]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[domain.ErrorKind(kind)] = n
	}
	return counts, rows.Err()
}
