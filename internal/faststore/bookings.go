// SPDX-License-Identifier: MIT

package faststore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/prepstack/bookd/internal/domain"
)

type bookingRow struct {
	UUID              string         `db:"uuid"`
	CRMID             string         `db:"crm_id"`
	BookingID         string         `db:"booking_id"`
	SessionID         string         `db:"session_id"`
	ContactID         string         `db:"contact_id"`
	StudentID         string         `db:"student_id"`
	Name              string         `db:"name"`
	Email             string         `db:"email"`
	MockType          string         `db:"mock_type"`
	ExamDate          string         `db:"exam_date"`
	StartTime         string         `db:"start_time"`
	EndTime           string         `db:"end_time"`
	State             string         `db:"state"`
	Attendance        string         `db:"attendance"`
	AttendingLocation string         `db:"attending_location"`
	DominantHand      string         `db:"dominant_hand"`
	TokenUsed         string         `db:"token_used"`
	IdempotencyKey    string         `db:"idempotency_key"`
	Extra             string         `db:"extra"`
	CreatedAt         string         `db:"created_at"`
	UpdatedAt         string         `db:"updated_at"`
	SyncedAt          sql.NullString `db:"synced_at"`
}

func bookingToRow(b *domain.Booking) bookingRow {
	return bookingRow{
		UUID:              b.UUID,
		CRMID:             b.CRMID,
		BookingID:         b.BookingID,
		SessionID:         b.SessionID,
		ContactID:         b.ContactID,
		StudentID:         b.StudentID,
		Name:              b.Name,
		Email:             b.Email,
		MockType:          string(b.MockType),
		ExamDate:          b.ExamDate,
		StartTime:         b.StartTime,
		EndTime:           b.EndTime,
		State:             string(b.State),
		Attendance:        string(b.Attendance),
		AttendingLocation: b.AttendingLocation,
		DominantHand:      b.DominantHand,
		TokenUsed:         string(b.TokenUsed),
		IdempotencyKey:    b.IdempotencyKey,
		Extra:             encodeExtra(b.Extra),
		CreatedAt:         fmtTime(b.CreatedAt),
		UpdatedAt:         fmtTime(b.UpdatedAt),
		SyncedAt:          nullableTime(b.SyncedAt),
	}
}

func (r bookingRow) toBooking() domain.Booking {
	return domain.Booking{
		UUID:              r.UUID,
		CRMID:             r.CRMID,
		BookingID:         r.BookingID,
		SessionID:         r.SessionID,
		ContactID:         r.ContactID,
		StudentID:         r.StudentID,
		Name:              r.Name,
		Email:             r.Email,
		MockType:          domain.MockType(r.MockType),
		ExamDate:          r.ExamDate,
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		State:             domain.BookingState(r.State),
		Attendance:        domain.Attendance(r.Attendance),
		AttendingLocation: r.AttendingLocation,
		DominantHand:      r.DominantHand,
		TokenUsed:         domain.CreditField(r.TokenUsed),
		IdempotencyKey:    r.IdempotencyKey,
		Extra:             decodeExtra(r.Extra),
		CreatedAt:         parseTime(r.CreatedAt),
		UpdatedAt:         parseTime(r.UpdatedAt),
		SyncedAt:          timeFromNull(r.SyncedAt),
	}
}

const bookingColumns = `uuid, crm_id, booking_id, session_id, contact_id, student_id, name, email,
	mock_type, exam_date, start_time, end_time, state, attendance, attending_location,
	dominant_hand, token_used, idempotency_key, extra, created_at, updated_at, synced_at`

func (s *SQL) getBookingWhere(ctx context.Context, cond, describe string, args ...any) (*domain.Booking, error) {
	query := s.db.Rebind(`SELECT ` + bookingColumns + ` FROM bookings WHERE ` + cond)

	var row bookingRow
	err := s.db.GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", describe, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	b := row.toBooking()
	return &b, nil
}

func (s *SQL) GetBooking(ctx context.Context, uuid string) (*domain.Booking, error) {
	return s.getBookingWhere(ctx, "uuid = ?", "booking "+uuid, uuid)
}

// GetBookingByCRMID serves the cascading lookup: callers may hold either the
// local uuid or the CRM id.
func (s *SQL) GetBookingByCRMID(ctx context.Context, crmID string) (*domain.Booking, error) {
	return s.getBookingWhere(ctx, "crm_id = ?", "booking crm "+crmID, crmID)
}

func (s *SQL) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error) {
	return s.getBookingWhere(ctx, "idempotency_key = ?", "idempotent booking", key)
}

// ActiveByBookingID finds a live booking carrying the derived human id.
// Cancelled homonyms do not count as duplicates.
func (s *SQL) ActiveByBookingID(ctx context.Context, bookingID string) (*domain.Booking, error) {
	return s.getBookingWhere(ctx, "booking_id = ? AND state = 'Active'", "active booking "+bookingID, bookingID)
}

func (s *SQL) ActiveBooking(ctx context.Context, sessionID, contactID string) (*domain.Booking, error) {
	return s.getBookingWhere(ctx,
		"session_id = ? AND contact_id = ? AND state = 'Active'",
		fmt.Sprintf("active booking for contact %s on session %s", contactID, sessionID),
		sessionID, contactID)
}

func (s *SQL) PutBooking(ctx context.Context, b *domain.Booking) error {
	query := `
	INSERT INTO bookings (` + bookingColumns + `)
	VALUES (:uuid, :crm_id, :booking_id, :session_id, :contact_id, :student_id, :name, :email,
		:mock_type, :exam_date, :start_time, :end_time, :state, :attendance, :attending_location,
		:dominant_hand, :token_used, :idempotency_key, :extra, :created_at, :updated_at, :synced_at)
	ON CONFLICT(uuid) DO UPDATE SET
		crm_id = excluded.crm_id,
		booking_id = excluded.booking_id,
		session_id = excluded.session_id,
		contact_id = excluded.contact_id,
		student_id = excluded.student_id,
		name = excluded.name,
		email = excluded.email,
		mock_type = excluded.mock_type,
		exam_date = excluded.exam_date,
		start_time = excluded.start_time,
		end_time = excluded.end_time,
		state = excluded.state,
		attendance = excluded.attendance,
		attending_location = excluded.attending_location,
		dominant_hand = excluded.dominant_hand,
		token_used = excluded.token_used,
		idempotency_key = excluded.idempotency_key,
		extra = excluded.extra,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at
	`
	_, err := s.db.NamedExecContext(ctx, query, bookingToRow(b))
	return err
}

func (s *SQL) BookingsForContact(ctx context.Context, f BookingFilter) ([]domain.Booking, int, error) {
	f.normalize()

	conds := []string{"contact_id = ?"}
	args := []any{f.ContactID}
	order := "exam_date DESC, start_time DESC"

	switch f.Range {
	case RangeUpcoming:
		conds = append(conds, "state = 'Active'", "exam_date >= ?")
		args = append(args, f.Today)
		order = "exam_date, start_time"
	case RangePast:
		conds = append(conds, "(state <> 'Active' OR exam_date < ?)")
		args = append(args, f.Today)
	}

	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	countQuery := s.db.Rebind(`SELECT COUNT(*) FROM bookings` + where)
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query := s.db.Rebind(`SELECT ` + bookingColumns + ` FROM bookings` + where +
		` ORDER BY ` + order + ` LIMIT ? OFFSET ?`)
	args = append(args, f.Limit, (f.Page-1)*f.Limit)

	var rows []bookingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	bookings := make([]domain.Booking, 0, len(rows))
	for _, r := range rows {
		bookings = append(bookings, r.toBooking())
	}
	return bookings, total, nil
}

func (s *SQL) BookingsForSession(ctx context.Context, sessionID string) ([]domain.Booking, error) {
	query := s.db.Rebind(`
	SELECT ` + bookingColumns + `
	FROM bookings
	WHERE session_id = ? AND state = 'Active'
	ORDER BY name, uuid`)

	var rows []bookingRow
	if err := s.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, err
	}

	bookings := make([]domain.Booking, 0, len(rows))
	for _, r := range rows {
		bookings = append(bookings, r.toBooking())
	}
	return bookings, nil
}

func (s *SQL) CountActive(ctx context.Context, sessionID string) (int, error) {
	var count int
	query := s.db.Rebind(`SELECT COUNT(*) FROM bookings WHERE session_id = ? AND state = 'Active'`)
	if err := s.db.GetContext(ctx, &count, query, sessionID); err != nil {
		return 0, err
	}
	return count, nil
}

// CounterDrifts reports sessions whose seat counter disagrees with the count
// of Active bookings referencing them.
func (s *SQL) CounterDrifts(ctx context.Context) ([]CounterDrift, error) {
	query := `
	SELECT s.uuid AS session_id, s.total_bookings AS recorded, COUNT(b.uuid) AS actual
	FROM sessions s
	LEFT JOIN bookings b ON b.session_id = s.uuid AND b.state = 'Active'
	GROUP BY s.uuid, s.total_bookings
	HAVING s.total_bookings <> COUNT(b.uuid)`

	var rows []struct {
		SessionID string `db:"session_id"`
		Recorded  int    `db:"recorded"`
		Actual    int    `db:"actual"`
	}
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}

	drifts := make([]CounterDrift, 0, len(rows))
	for _, r := range rows {
		drifts = append(drifts, CounterDrift(r))
	}
	return drifts, nil
}
