package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"tlr.org/internal/directory"
	"tlr.org/internal/ids"
)

const referralColumns = `id, service_id, reference, status, name, email, phone, referee_name, referee_email,
	completed_at, created_at, updated_at`

func scanReferral(row scanner) (directory.Referral, error) {
	var (
		r         directory.Referral
		completed sql.NullTime
	)
	err := row.Scan(&r.ID, &r.ServiceID, &r.Reference, &r.Status, &r.Name, &r.Email, &r.Phone,
		&r.RefereeName, &r.RefereeEmail, &completed, &r.CreatedAt, &r.UpdatedAt)
	r.CompletedAt = timePtr(completed)
	return r, err
}

func (s *Store) CreateReferral(ctx context.Context, r directory.Referral) (directory.Referral, error) {
	if r.Reference == "" {
		r.Reference = directory.NewReferralReference()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into referrals (id, service_id, reference, status, name, email, phone, referee_name, referee_email, completed_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning `+referralColumns,
		ids.Entity(), r.ServiceID, r.Reference, r.Status, r.Name, r.Email, r.Phone, r.RefereeName,
		r.RefereeEmail, nullTime(r.CompletedAt))
	created, err := scanReferral(row)
	if err != nil {
		return directory.Referral{}, mapError(err, "referral")
	}
	return created, nil
}

func (s *Store) Referral(ctx context.Context, id string) (directory.Referral, error) {
	r, err := scanReferral(s.db.QueryRowContext(ctx, `select `+referralColumns+` from referrals where id = $1`, id))
	if err != nil {
		return directory.Referral{}, mapError(err, "referral")
	}
	return r, nil
}

func (s *Store) ListReferrals(ctx context.Context, q directory.ReferralQuery) ([]directory.Referral, int, error) {
	var (
		where []string
		args  []any
	)
	if q.ServiceIDs != nil {
		if len(q.ServiceIDs) == 0 {
			return []directory.Referral{}, 0, nil
		}
		placeholders := make([]string, 0, len(q.ServiceIDs))
		for _, id := range q.ServiceIDs {
			args = append(args, id)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "service_id::text in ("+strings.Join(placeholders, ", ")+")")
	}
	if q.Status != "" {
		args = append(args, q.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := whereClause(where)

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from referrals`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := limitOffset(q.Page)
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`select %s from referrals%s order by created_at desc limit $%d offset $%d`,
		referralColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []directory.Referral{}
	for rows.Next() {
		r, err := scanReferral(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateReferral(ctx context.Context, r directory.Referral) (directory.Referral, error) {
	row := s.db.QueryRowContext(ctx, `
		update referrals
		set status = $2, name = $3, email = $4, phone = $5, referee_name = $6, referee_email = $7,
			completed_at = $8, updated_at = now()
		where id = $1
		returning `+referralColumns,
		r.ID, r.Status, r.Name, r.Email, r.Phone, r.RefereeName, r.RefereeEmail, nullTime(r.CompletedAt))
	updated, err := scanReferral(row)
	if err != nil {
		return directory.Referral{}, mapError(err, "referral")
	}
	return updated, nil
}

func (s *Store) DeleteReferral(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from referrals where id = $1`, id)
	return affected(res, err, "referral")
}

func (s *Store) DeleteReferralsDueBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from referrals
		where status in ($1, $2) and completed_at is not null and completed_at < $3
	`, directory.ReferralCompleted, directory.ReferralIncompleted, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// --- reports ---

func scanReport(row scanner, withContent bool) (directory.Report, error) {
	var (
		r            directory.Report
		starts, ends sql.NullTime
		dest         = []any{&r.ID, &r.ReportType, &starts, &ends, &r.CreatedAt}
	)
	if withContent {
		dest = append(dest, &r.Content)
	}
	if err := row.Scan(dest...); err != nil {
		return directory.Report{}, err
	}
	r.StartsAt, r.EndsAt = timePtr(starts), timePtr(ends)
	return r, nil
}

func (s *Store) CreateReport(ctx context.Context, r directory.Report) (directory.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into reports (id, report_type, starts_at, ends_at, content)
		values ($1, $2, $3, $4, $5)
		returning id, report_type, starts_at, ends_at, created_at, content
	`, ids.Entity(), r.ReportType, nullTime(r.StartsAt), nullTime(r.EndsAt), r.Content)
	created, err := scanReport(row, true)
	if err != nil {
		return directory.Report{}, mapError(err, "report")
	}
	return created, nil
}

func (s *Store) Report(ctx context.Context, id string) (directory.Report, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, report_type, starts_at, ends_at, created_at, content from reports where id = $1
	`, id)
	r, err := scanReport(row, true)
	if err != nil {
		return directory.Report{}, mapError(err, "report")
	}
	return r, nil
}

func (s *Store) ListReports(ctx context.Context, page directory.Page) ([]directory.Report, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from reports`).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := limitOffset(page)
	rows, err := s.db.QueryContext(ctx, `
		select id, report_type, starts_at, ends_at, created_at
		from reports
		order by created_at desc
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []directory.Report{}
	for rows.Next() {
		r, err := scanReport(rows, false)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (s *Store) DeleteReport(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from reports where id = $1`, id)
	return affected(res, err, "report")
}

// --- stop words ---

func (s *Store) StopWords(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select word from stop_words order by word`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) SetStopWords(ctx context.Context, words []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from stop_words`); err != nil {
		return err
	}
	for _, w := range directory.NormalizeStopWords(words) {
		if _, err := tx.ExecContext(ctx, `insert into stop_words (word) values ($1)`, w); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- update requests ---

const updateRequestColumns = `id, coalesce(user_id::text, ''), updateable_type, updateable_id, data, approved_at, created_at`

func scanUpdateRequest(row scanner) (directory.UpdateRequest, error) {
	var (
		u        directory.UpdateRequest
		approved sql.NullTime
		data     []byte
	)
	if err := row.Scan(&u.ID, &u.UserID, &u.UpdateableType, &u.UpdateableID, &data, &approved, &u.CreatedAt); err != nil {
		return directory.UpdateRequest{}, err
	}
	u.Data = data
	u.ApprovedAt = timePtr(approved)
	return u, nil
}

func (s *Store) CreateUpdateRequest(ctx context.Context, u directory.UpdateRequest) (directory.UpdateRequest, error) {
	data := []byte(u.Data)
	if len(data) == 0 {
		data = []byte("{}")
	}
	row := s.db.QueryRowContext(ctx, `
		insert into update_requests (id, user_id, updateable_type, updateable_id, data)
		values ($1, nullif($2, '')::uuid, $3, $4, $5)
		returning `+updateRequestColumns,
		ids.Entity(), u.UserID, u.UpdateableType, u.UpdateableID, data)
	created, err := scanUpdateRequest(row)
	if err != nil {
		return directory.UpdateRequest{}, mapError(err, "update request")
	}
	return created, nil
}

func (s *Store) UpdateRequest(ctx context.Context, id string) (directory.UpdateRequest, error) {
	u, err := scanUpdateRequest(s.db.QueryRowContext(ctx, `select `+updateRequestColumns+` from update_requests where id = $1`, id))
	if err != nil {
		return directory.UpdateRequest{}, mapError(err, "update request")
	}
	return u, nil
}

func (s *Store) ListUpdateRequests(ctx context.Context, page directory.Page) ([]directory.UpdateRequest, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from update_requests where approved_at is null`).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := limitOffset(page)
	rows, err := s.db.QueryContext(ctx, `
		select `+updateRequestColumns+`
		from update_requests
		where approved_at is null
		order by created_at
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []directory.UpdateRequest{}
	for rows.Next() {
		u, err := scanUpdateRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (s *Store) ApproveUpdateRequest(ctx context.Context, id string, at time.Time) (directory.UpdateRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		update update_requests set approved_at = $2
		where id = $1 and approved_at is null
		returning `+updateRequestColumns, id, at)
	u, err := scanUpdateRequest(row)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return directory.UpdateRequest{}, mapError(err, "update request")
	}
	// Distinguish a missing request from one already approved.
	if _, err := s.UpdateRequest(ctx, id); err != nil {
		return directory.UpdateRequest{}, err
	}
	return directory.UpdateRequest{}, fmt.Errorf("%w: update request already approved", directory.ErrConflict)
}

func (s *Store) DeleteUpdateRequest(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from update_requests where id = $1`, id)
	return affected(res, err, "update request")
}
