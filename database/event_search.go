package database

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/camden-git/visionsysbackend/models"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// EventFilter narrows a detection event search. Zero values mean "no
// constraint".
type EventFilter struct {
	CameraID   string
	IdentityID *uint
	Identified *bool
	From       *int64 // captured_at lower bound, unix seconds, inclusive
	To         *int64 // captured_at upper bound, unix seconds, inclusive
	MinScore   *float64
	SortOrder  string
	Limit      uint64
	Offset     uint64
}

const defaultEventPageSize = 100

func (f EventFilter) apply(b sq.SelectBuilder) sq.SelectBuilder {
	if f.CameraID != "" {
		b = b.Where(sq.Eq{"camera_id": f.CameraID})
	}
	if f.IdentityID != nil {
		b = b.Where(sq.Eq{"identity_id": *f.IdentityID})
	}
	if f.Identified != nil {
		b = b.Where(sq.Eq{"identified": *f.Identified})
	}
	if f.From != nil {
		b = b.Where(sq.GtOrEq{"captured_at": *f.From})
	}
	if f.To != nil {
		b = b.Where(sq.LtOrEq{"captured_at": *f.To})
	}
	if f.MinScore != nil {
		b = b.Where(sq.GtOrEq{"score": *f.MinScore})
	}
	return b
}

func (f EventFilter) orderClause() string {
	switch f.SortOrder {
	case SortDateAsc:
		return "captured_at ASC, id ASC"
	case SortScoreDesc:
		return "score DESC, captured_at DESC"
	default:
		return "captured_at DESC, id DESC"
	}
}

// SearchEvents runs a filtered, paginated detection event query.
func SearchEvents(db *sql.DB, filter EventFilter) ([]models.DetectionEvent, error) {
	limit := filter.Limit
	if limit == 0 {
		limit = defaultEventPageSize
	}

	queryBuilder := filter.apply(psql.
		Select("id", "camera_id", "captured_at", "identified", "identity_id",
			"identity_name", "score", "x1", "y1", "x2", "y2", "snapshot_path", "created_at").
		From("detection_events")).
		OrderBy(filter.orderClause()).
		Limit(limit).
		Offset(filter.Offset)

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for SearchEvents: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query detection events: %w", err)
	}
	defer rows.Close()

	var events []models.DetectionEvent
	for rows.Next() {
		var e models.DetectionEvent
		var identityID sql.NullInt64
		var identityName, snapshotPath sql.NullString
		if err := rows.Scan(&e.ID, &e.CameraID, &e.CapturedAt, &e.Identified, &identityID,
			&identityName, &e.Score, &e.X1, &e.Y1, &e.X2, &e.Y2, &snapshotPath, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan detection event row: %w", err)
		}
		if identityID.Valid {
			id := uint(identityID.Int64)
			e.IdentityID = &id
		}
		e.IdentityName = identityName.String
		e.SnapshotPath = snapshotPath.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the total number of events matching the filter,
// ignoring pagination.
func CountEvents(db *sql.DB, filter EventFilter) (int64, error) {
	queryBuilder := filter.apply(psql.Select("COUNT(*)").From("detection_events"))

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL query for CountEvents: %w", err)
	}

	var count int64
	if err := db.QueryRow(sqlStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count detection events: %w", err)
	}
	return count, nil
}

// EventCameraSummary is one row of the per-camera event rollup.
type EventCameraSummary struct {
	CameraID   string `json:"camera_id"`
	Total      int64  `json:"total"`
	Identified int64  `json:"identified"`
	LastEvent  int64  `json:"last_event"` // unix seconds, 0 when no events
}

// SummarizeEventsByCamera aggregates event counts per camera within the
// filter's time bounds.
func SummarizeEventsByCamera(db *sql.DB, filter EventFilter) ([]EventCameraSummary, error) {
	queryBuilder := filter.apply(psql.
		Select("camera_id",
			"COUNT(*)",
			"SUM(CASE WHEN identified THEN 1 ELSE 0 END)",
			"MAX(captured_at)").
		From("detection_events")).
		GroupBy("camera_id").
		OrderBy("camera_id ASC")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for SummarizeEventsByCamera: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event summary: %w", err)
	}
	defer rows.Close()

	var summaries []EventCameraSummary
	for rows.Next() {
		var s EventCameraSummary
		var identified sql.NullInt64
		var last sql.NullInt64
		if err := rows.Scan(&s.CameraID, &s.Total, &identified, &last); err != nil {
			return nil, fmt.Errorf("failed to scan event summary row: %w", err)
		}
		s.Identified = identified.Int64
		s.LastEvent = last.Int64
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
