package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
	"tlr.org/internal/ids"
)

const userColumns = `id, first_name, last_name, email, phone, password_hash, created_at, updated_at`

func scanUser(row scanner) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func userError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return directory.ErrUserNotFound
	}
	return mapError(err, "user")
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, first_name, last_name, email, phone, password_hash)
		values ($1, $2, $3, $4, $5, $6)
		returning `+userColumns,
		ids.Entity(), u.FirstName, u.LastName, strings.ToLower(strings.TrimSpace(u.Email)), u.Phone, u.PasswordHash)
	created, err := scanUser(row)
	if err != nil {
		return auth.User{}, userError(err)
	}
	return created, nil
}

func (s *Store) User(ctx context.Context, id string) (auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if err != nil {
		return auth.User{}, userError(err)
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row)
	if err != nil {
		return auth.User{}, userError(err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, page directory.Page) ([]auth.User, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := limitOffset(page)
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+` from users order by email limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (s *Store) EmailTaken(ctx context.Context, email, excludeID string) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from users where email = $1 and id::text <> $2)
	`, strings.ToLower(strings.TrimSpace(email)), excludeID).Scan(&taken)
	return taken, err
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err := affected(res, err, "user"); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return directory.ErrUserNotFound
		}
		return err
	}
	return nil
}

func (s *Store) GrantRole(ctx context.Context, a auth.Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role, organisation_id, service_id)
		values ($1, $2, nullif($3, '')::uuid, nullif($4, '')::uuid)
		on conflict do nothing
	`, a.UserID, string(a.Role), a.OrganisationID, a.ServiceID)
	return mapError(err, "role assignment")
}

func (s *Store) RevokeRole(ctx context.Context, a auth.Assignment) error {
	res, err := s.db.ExecContext(ctx, `
		delete from user_roles
		where user_id = $1 and role = $2
			and coalesce(organisation_id::text, '') = $3
			and coalesce(service_id::text, '') = $4
	`, a.UserID, string(a.Role), a.OrganisationID, a.ServiceID)
	return affected(res, err, "role assignment")
}

func (s *Store) Assignments(ctx context.Context, userID string) ([]auth.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id, role, coalesce(organisation_id::text, ''), coalesce(service_id::text, ''), created_at
		from user_roles
		where user_id = $1
		order by created_at
	`, userID)
	if err != nil {
		return nil, mapError(err, "role assignment")
	}
	defer rows.Close()
	var out []auth.Assignment
	for rows.Next() {
		var (
			a    auth.Assignment
			role string
		)
		if err := rows.Scan(&a.UserID, &role, &a.OrganisationID, &a.ServiceID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = auth.RoleKind(role)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UsersWithRole(ctx context.Context, role auth.RoleKind, serviceID string) ([]auth.User, error) {
	query := fmt.Sprintf(`
		select distinct %s
		from users u
		join user_roles ur on ur.user_id = u.id
		where ur.role = $1 and ($2 = '' or ur.service_id is null or ur.service_id::text = $2)
		order by u.email
	`, prefixed("u", userColumns))
	rows, err := s.db.QueryContext(ctx, query, string(role), serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// RecordAudit persists an audit event.
func (s *Store) RecordAudit(ctx context.Context, e audit.Event) error {
	_, err := s.db.ExecContext(ctx, `
		insert into audits (id, user_id, action, entity, entity_id, description, ip_address, user_agent, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.UserID, e.Action, e.Entity, e.EntityID, e.Description, e.IPAddress, e.UserAgent, e.CreatedAt)
	return mapError(err, "audit")
}
