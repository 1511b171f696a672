// SPDX-License-Identifier: MIT

package faststore

import (
	"context"
	"database/sql"
	"time"

	"github.com/prepstack/bookd/internal/domain"
)

type repairRow struct {
	ID            int64          `db:"id"`
	BookingUUID   string         `db:"booking_uuid"`
	ContactID     string         `db:"contact_id"`
	CreditField   string         `db:"credit_field"`
	Attempts      int            `db:"attempts"`
	LastError     string         `db:"last_error"`
	NextAttemptAt string         `db:"next_attempt_at"`
	CreatedAt     string         `db:"created_at"`
	ResolvedAt    sql.NullString `db:"resolved_at"`
}

func (r repairRow) toRepair() RefundRepair {
	repair := RefundRepair{
		ID:            r.ID,
		BookingUUID:   r.BookingUUID,
		ContactID:     r.ContactID,
		Field:         domain.CreditField(r.CreditField),
		Attempts:      r.Attempts,
		LastError:     r.LastError,
		NextAttemptAt: parseTime(r.NextAttemptAt),
		CreatedAt:     parseTime(r.CreatedAt),
	}
	if r.ResolvedAt.Valid {
		t := parseTime(r.ResolvedAt.String)
		repair.ResolvedAt = &t
	}
	return repair
}

// EnqueueRepair stores a failed refund for reconciliation and fills in the id.
func (s *SQL) EnqueueRepair(ctx context.Context, r *RefundRepair) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	if r.NextAttemptAt.IsZero() {
		r.NextAttemptAt = r.CreatedAt
	}

	query := s.db.Rebind(`
	INSERT INTO refund_repairs (booking_uuid, contact_id, credit_field, attempts,
		last_error, next_attempt_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	RETURNING id`)

	return s.db.QueryRowxContext(ctx, query,
		r.BookingUUID, r.ContactID, string(r.Field), r.Attempts,
		r.LastError, fmtTime(r.NextAttemptAt), fmtTime(r.CreatedAt),
	).Scan(&r.ID)
}

// DueRepairs lists unresolved repairs whose retry time has arrived.
func (s *SQL) DueRepairs(ctx context.Context, now time.Time, limit int) ([]RefundRepair, error) {
	query := s.db.Rebind(`
	SELECT id, booking_uuid, contact_id, credit_field, attempts, last_error,
	       next_attempt_at, created_at, resolved_at
	FROM refund_repairs
	WHERE resolved_at IS NULL AND next_attempt_at <= ?
	ORDER BY next_attempt_at, id
	LIMIT ?`)

	var rows []repairRow
	if err := s.db.SelectContext(ctx, &rows, query, fmtTime(now), limit); err != nil {
		return nil, err
	}

	repairs := make([]RefundRepair, 0, len(rows))
	for _, r := range rows {
		repairs = append(repairs, r.toRepair())
	}
	return repairs, nil
}

// MarkRepairAttempt records a failed retry and schedules the next one.
func (s *SQL) MarkRepairAttempt(ctx context.Context, id int64, attempts int, lastError string, next time.Time) error {
	query := s.db.Rebind(`
	UPDATE refund_repairs
	SET attempts = ?, last_error = ?, next_attempt_at = ?
	WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, attempts, lastError, fmtTime(next), id)
	return err
}

// ResolveRepair marks the repair done.
func (s *SQL) ResolveRepair(ctx context.Context, id int64) error {
	query := s.db.Rebind(`UPDATE refund_repairs SET resolved_at = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, fmtTime(s.now()), id)
	return err
}
