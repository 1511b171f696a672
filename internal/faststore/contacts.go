// SPDX-License-Identifier: MIT

package faststore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/prepstack/bookd/internal/domain"
)

type contactRow struct {
	UUID           string         `db:"uuid"`
	CRMID          string         `db:"crm_id"`
	StudentID      string         `db:"student_id"`
	Email          string         `db:"email"`
	FirstName      string         `db:"first_name"`
	LastName       string         `db:"last_name"`
	SJ             int            `db:"credit_sj"`
	CS             int            `db:"credit_cs"`
	SJMini         int            `db:"credit_sjmini"`
	MockDiscussion int            `db:"credit_mock_discussion"`
	Shared         int            `db:"credit_shared"`
	Extra          string         `db:"extra"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
	SyncedAt       sql.NullString `db:"synced_at"`
}

func contactToRow(c *domain.Contact) contactRow {
	return contactRow{
		UUID:           c.UUID,
		CRMID:          c.CRMID,
		StudentID:      c.StudentID,
		Email:          c.Email,
		FirstName:      c.FirstName,
		LastName:       c.LastName,
		SJ:             c.Credits.SJ,
		CS:             c.Credits.CS,
		SJMini:         c.Credits.SJMini,
		MockDiscussion: c.Credits.MockDiscussion,
		Shared:         c.Credits.Shared,
		Extra:          encodeExtra(c.Extra),
		CreatedAt:      fmtTime(c.CreatedAt),
		UpdatedAt:      fmtTime(c.UpdatedAt),
		SyncedAt:       nullableTime(c.SyncedAt),
	}
}

func (r contactRow) toContact() domain.Contact {
	return domain.Contact{
		UUID:      r.UUID,
		CRMID:     r.CRMID,
		StudentID: r.StudentID,
		Email:     r.Email,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Credits: domain.CreditBalance{
			SJ:             r.SJ,
			CS:             r.CS,
			SJMini:         r.SJMini,
			MockDiscussion: r.MockDiscussion,
			Shared:         r.Shared,
		},
		Extra:     decodeExtra(r.Extra),
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
		SyncedAt:  timeFromNull(r.SyncedAt),
	}
}

const contactColumns = `uuid, crm_id, student_id, email, first_name, last_name,
	credit_sj, credit_cs, credit_sjmini, credit_mock_discussion, credit_shared,
	extra, created_at, updated_at, synced_at`

func (s *SQL) GetContact(ctx context.Context, uuid string) (*domain.Contact, error) {
	query := s.db.Rebind(`SELECT ` + contactColumns + ` FROM contacts WHERE uuid = ?`)

	var row contactRow
	err := s.db.GetContext(ctx, &row, query, uuid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contact %s: %w", uuid, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	c := row.toContact()
	return &c, nil
}

func (s *SQL) PutContact(ctx context.Context, c *domain.Contact) error {
	query := `
	INSERT INTO contacts (` + contactColumns + `)
	VALUES (:uuid, :crm_id, :student_id, :email, :first_name, :last_name,
		:credit_sj, :credit_cs, :credit_sjmini, :credit_mock_discussion, :credit_shared,
		:extra, :created_at, :updated_at, :synced_at)
	ON CONFLICT(uuid) DO UPDATE SET
		crm_id = excluded.crm_id,
		student_id = excluded.student_id,
		email = excluded.email,
		first_name = excluded.first_name,
		last_name = excluded.last_name,
		credit_sj = excluded.credit_sj,
		credit_cs = excluded.credit_cs,
		credit_sjmini = excluded.credit_sjmini,
		credit_mock_discussion = excluded.credit_mock_discussion,
		credit_shared = excluded.credit_shared,
		extra = excluded.extra,
		updated_at = excluded.updated_at,
		synced_at = excluded.synced_at
	`
	_, err := s.db.NamedExecContext(ctx, query, contactToRow(c))
	return err
}

func (s *SQL) UpdateCredits(ctx context.Context, uuid string, balance domain.CreditBalance) error {
	query := s.db.Rebind(`
	UPDATE contacts
	SET credit_sj = ?, credit_cs = ?, credit_sjmini = ?,
	    credit_mock_discussion = ?, credit_shared = ?, updated_at = ?
	WHERE uuid = ?`)

	res, err := s.db.ExecContext(ctx, query,
		balance.SJ, balance.CS, balance.SJMini,
		balance.MockDiscussion, balance.Shared, fmtTime(s.now()), uuid)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("contact %s: %w", uuid, ErrNotFound)
	}
	return nil
}
