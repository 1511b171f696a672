// SPDX-License-Identifier: MIT

package faststore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prepstack/bookd/internal/domain"
)

type sessionRow struct {
	UUID                string         `db:"uuid"`
	CRMID               string         `db:"crm_id"`
	MockType            string         `db:"mock_type"`
	ExamDate            string         `db:"exam_date"`
	StartTime           string         `db:"start_time"`
	EndTime             string         `db:"end_time"`
	Location            string         `db:"location"`
	Capacity            int            `db:"capacity"`
	Booked              int            `db:"total_bookings"`
	State               string         `db:"is_active"`
	ScheduledActivation sql.NullString `db:"scheduled_activation"`
	Extra               string         `db:"extra"`
	CreatedAt           string         `db:"created_at"`
	UpdatedAt           string         `db:"updated_at"`
	SyncedAt            sql.NullString `db:"synced_at"`
}

func sessionToRow(s *domain.Session) sessionRow {
	row := sessionRow{
		UUID:      s.UUID,
		CRMID:     s.CRMID,
		MockType:  string(s.MockType),
		ExamDate:  s.ExamDate,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Location:  s.Location,
		Capacity:  s.Capacity,
		Booked:    s.Booked,
		State:     string(s.State),
		Extra:     encodeExtra(s.Extra),
		CreatedAt: fmtTime(s.CreatedAt),
		UpdatedAt: fmtTime(s.UpdatedAt),
		SyncedAt:  nullableTime(s.SyncedAt),
	}
	if s.ScheduledActivation != nil {
		row.ScheduledActivation = sql.NullString{String: fmtTime(*s.ScheduledActivation), Valid: true}
	}
	return row
}

func (r sessionRow) toSession() domain.Session {
	s := domain.Session{
		UUID:      r.UUID,
		CRMID:     r.CRMID,
		MockType:  domain.MockType(r.MockType),
		ExamDate:  r.ExamDate,
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Location:  r.Location,
		Capacity:  r.Capacity,
		Booked:    r.Booked,
		State:     domain.SessionState(r.State),
		Extra:     decodeExtra(r.Extra),
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
		SyncedAt:  timeFromNull(r.SyncedAt),
	}
	if r.ScheduledActivation.Valid {
		t := parseTime(r.ScheduledActivation.String)
		s.ScheduledActivation = &t
	}
	return s
}

const sessionColumns = `uuid, crm_id, mock_type, exam_date, start_time, end_time, location,
	capacity, total_bookings, is_active, scheduled_activation, extra,
	created_at, updated_at, synced_at`

func (s *SQL) GetSession(ctx context.Context, uuid string) (*domain.Session, error) {
	query := s.db.Rebind(`SELECT ` + sessionColumns + ` FROM sessions WHERE uuid = ?`)

	var row sessionRow
	err := s.db.GetContext(ctx, &row, query, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", uuid, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	sess := row.toSession()
	return &sess, nil
}

func (s *SQL) PutSession(ctx context.Context, sess *domain.Session) error {
	query := `
	INSERT INTO sessions (` + sessionColumns + `)
	VALUES (:uuid, :crm_id, :mock_type, :exam_date, :start_time, :end_time, :location,
		:capacity, :total_bookings, :is_active, :scheduled_activation, :extra,
		:created_at, :updated_at, :synced_at)
	ON CONFLICT(uuid) DO UPDATE SET
		crm_id = excluded.crm_id,
		mock_type = excluded.mock_type,
		exam_date = excluded.exam_date,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		location = excluded.location,
		capacity = excluded.capacity,
		total_bookings = excluded.total_bookings,
		is_active = excluded.is_active,
		scheduled_activation = excluded.scheduled_activation,
		extra = excluded.extra,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at
	`
	_, err := s.db.NamedExecContext(ctx, query, sessionToRow(sess))
	return err
}

func (s *SQL) DeleteSession(ctx context.Context, uuid string) error {
	query := s.db.Rebind(`DELETE FROM sessions WHERE uuid = ?`)
	res, err := s.db.ExecContext(ctx, query, uuid)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", uuid, ErrNotFound)
	}
	return nil
}

// sortColumns whitelists sortable session columns. Only values from this map
// ever reach the ORDER BY clause.
var sortColumns = map[string]string{
	"exam_date":      "exam_date",
	"start_time":     "start_time",
	"capacity":       "capacity",
	"total_bookings": "total_bookings",
	"location":       "location",
	"mock_type":      "mock_type",
	"is_active":      "is_active",
	"created_at":     "created_at",
	"updated_at":     "updated_at",
}

// orderClause builds a stable ordering: the requested column plus a uuid
// tiebreak so pagination never shows a row twice.
func orderClause(sortBy string, desc bool) string {
	col, ok := sortColumns[sortBy]
	if !ok {
		col = "exam_date"
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	return col + " " + dir + ", uuid"
}

func (s *SQL) SearchSessions(ctx context.Context, f SessionFilter) ([]domain.Session, int, error) {
	f.normalize()

	var conds []string
	var args []any
	if f.MockType != nil {
		conds = append(conds, "mock_type = ?")
		args = append(args, string(*f.MockType))
	}
	if f.State != nil {
		conds = append(conds, "is_active = ?")
		args = append(args, string(*f.State))
	}
	if f.Location != "" {
		conds = append(conds, "location = ?")
		args = append(args, f.Location)
	}
	if f.DateFrom != "" {
		conds = append(conds, "exam_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		conds = append(conds, "exam_date <= ?")
		args = append(args, f.DateTo)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := s.db.Rebind(`SELECT COUNT(*) FROM sessions` + where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query := s.db.Rebind(`SELECT ` + sessionColumns + ` FROM sessions` + where +
		` ORDER BY ` + orderClause(f.SortBy, f.SortDesc) + ` LIMIT ? OFFSET ?`)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	sessions := make([]domain.Session, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.toSession())
	}
	return sessions, total, nil
}

func (s *SQL) DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Session, error) {
	query := s.db.Rebind(`
	SELECT ` + sessionColumns + `
	FROM sessions
	WHERE is_active = 'scheduled'
	  AND scheduled_activation IS NOT NULL
	  AND scheduled_activation <= ?
	ORDER BY scheduled_activation
	LIMIT ?`)

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, fmtTime(now), limit); err != nil {
		return nil, err
	}

	sessions := make([]domain.Session, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.toSession())
	}
	return sessions, nil
}

func (s *SQL) IncrementBooked(ctx context.Context, uuid string, delta int) (int, error) {
	query := s.db.Rebind(fmt.Sprintf(`
	UPDATE sessions
	SET total_bookings = %s(0, total_bookings + ?), updated_at = ?
	WHERE uuid = ?
	RETURNING total_bookings`, s.greatestFn()))

	var booked int
	err := s.db.QueryRowxContext(ctx, query, delta, fmtTime(s.now()), uuid).Scan(&booked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("session %s: %w", uuid, ErrNotFound)
	}
	if err != nil {
		return 0, err
	}
	return booked, nil
}

func (s *SQL) SetBooked(ctx context.Context, uuid string, value int) error {
	if value < 0 {
		value = 0
	}
	query := s.db.Rebind(`UPDATE sessions SET total_bookings = ?, updated_at = ? WHERE uuid = ?`)
	res, err := s.db.ExecContext(ctx, query, value, fmtTime(s.now()), uuid)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", uuid, ErrNotFound)
	}
	return nil
}

// MarkSessionSynced records that the row's current state has reached the CRM.
// Local mutations only touch updated_at, so a row with synced_at behind
// updated_at is dirty until a mirror write lands.
func (s *SQL) MarkSessionSynced(ctx context.Context, uuid string) error {
	query := s.db.Rebind(`UPDATE sessions SET synced_at = ? WHERE uuid = ?`)
	res, err := s.db.ExecContext(ctx, query, fmtTime(s.now()), uuid)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("session %s: %w", uuid, ErrNotFound)
	}
	return nil
}

// UnsyncedSessions lists rows whose local state has not reached the CRM,
// oldest change first. The reconciler drains these.
func (s *SQL) UnsyncedSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	query := s.db.Rebind(`
	SELECT ` + sessionColumns + `
	FROM sessions
	WHERE synced_at IS NULL OR synced_at < updated_at
	ORDER BY updated_at
	LIMIT ?`)

	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, err
	}

	sessions := make([]domain.Session, 0, len(rows))
	for _, r := range rows {
		sessions = append(sessions, r.toSession())
	}
	return sessions, nil
}

func (s *SQL) Aggregates(ctx context.Context, f AggregateFilter) (*Aggregates, error) {
	var conds []string
	var args []any
	if f.DateFrom != "" {
		conds = append(conds, "exam_date >= ?")
		args = append(args, f.DateFrom)
	}
	if f.DateTo != "" {
		conds = append(conds, "exam_date <= ?")
		args = append(args, f.DateTo)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	agg := &Aggregates{
		ByState:    make(map[string]int),
		ByMockType: make(map[string]int),
	}

	totals := struct {
		Sessions int           `db:"sessions"`
		Capacity sql.NullInt64 `db:"capacity"`
		Booked   sql.NullInt64 `db:"total_bookings"`
	}{}
	totalsQuery := s.db.Rebind(`
	SELECT COUNT(*) AS sessions,
	       SUM(capacity) AS capacity,
	       SUM(total_bookings) AS total_bookings
	FROM sessions` + where)
	if err := s.db.GetContext(ctx, &totals, totalsQuery, args...); err != nil {
		return nil, err
	}
	agg.Sessions = totals.Sessions
	agg.Capacity = int(totals.Capacity.Int64)
	agg.Booked = int(totals.Booked.Int64)

	type bucket struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}

	var byState []bucket
	stateQuery := s.db.Rebind(`
	SELECT is_active AS key, COUNT(*) AS count FROM sessions` + where + ` GROUP BY is_active`)
	if err := s.db.SelectContext(ctx, &byState, stateQuery, args...); err != nil {
		return nil, err
	}
	for _, b := range byState {
		agg.ByState[b.Key] = b.Count
	}

	var byType []bucket
	typeQuery := s.db.Rebind(`
	SELECT mock_type AS key, COUNT(*) AS count FROM sessions` + where + ` GROUP BY mock_type`)
	if err := s.db.SelectContext(ctx, &byType, typeQuery, args...); err != nil {
		return nil, err
	}
	for _, b := range byType {
		agg.ByMockType[b.Key] = b.Count
	}

	return agg, nil
}
