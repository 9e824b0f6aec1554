package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"tlr.org/internal/directory"
	"tlr.org/internal/ids"
)

const organisationColumns = `id, slug, name, description, url, email, phone, created_at, updated_at`

func scanOrganisation(row scanner) (directory.Organisation, error) {
	var o directory.Organisation
	err := row.Scan(&o.ID, &o.Slug, &o.Name, &o.Description, &o.URL, &o.Email, &o.Phone, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *Store) CreateOrganisation(ctx context.Context, o directory.Organisation) (directory.Organisation, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into organisations (id, slug, name, description, url, email, phone)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+organisationColumns,
		ids.Entity(), o.Slug, o.Name, o.Description, o.URL, o.Email, o.Phone)
	created, err := scanOrganisation(row)
	if err != nil {
		return directory.Organisation{}, mapError(err, "organisation")
	}
	return created, nil
}

func (s *Store) Organisation(ctx context.Context, id string) (directory.Organisation, error) {
	row := s.db.QueryRowContext(ctx, `select `+organisationColumns+` from organisations where id = $1`, id)
	o, err := scanOrganisation(row)
	if err != nil {
		return directory.Organisation{}, mapError(err, "organisation")
	}
	return o, nil
}

func (s *Store) ListOrganisations(ctx context.Context, page directory.Page) ([]directory.Organisation, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from organisations`).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := limitOffset(page)
	rows, err := s.db.QueryContext(ctx, `
		select `+organisationColumns+`
		from organisations
		order by name
		limit $1 offset $2
	`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []directory.Organisation{}
	for rows.Next() {
		o, err := scanOrganisation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}

func (s *Store) UpdateOrganisation(ctx context.Context, o directory.Organisation) (directory.Organisation, error) {
	row := s.db.QueryRowContext(ctx, `
		update organisations
		set slug = $2, name = $3, description = $4, url = $5, email = $6, phone = $7, updated_at = now()
		where id = $1
		returning `+organisationColumns,
		o.ID, o.Slug, o.Name, o.Description, o.URL, o.Email, o.Phone)
	updated, err := scanOrganisation(row)
	if err != nil {
		return directory.Organisation{}, mapError(err, "organisation")
	}
	return updated, nil
}

func (s *Store) DeleteOrganisation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from organisations where id = $1`, id)
	return affected(res, err, "organisation")
}

const serviceColumns = `id, organisation_id, slug, name, status, intro, description, url,
	contact_email, contact_phone, created_at, updated_at, last_modified_at`

func scanService(row scanner) (directory.Service, error) {
	var svc directory.Service
	err := row.Scan(&svc.ID, &svc.OrganisationID, &svc.Slug, &svc.Name, &svc.Status, &svc.Intro,
		&svc.Description, &svc.URL, &svc.ContactEmail, &svc.ContactPhone,
		&svc.CreatedAt, &svc.UpdatedAt, &svc.LastModifiedAt)
	return svc, err
}

func (s *Store) CreateService(ctx context.Context, svc directory.Service) (directory.Service, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into services (id, organisation_id, slug, name, status, intro, description, url, contact_email, contact_phone,
			last_modified_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, coalesce($11, now()))
		returning `+serviceColumns,
		ids.Entity(), svc.OrganisationID, svc.Slug, svc.Name, svc.Status, svc.Intro, svc.Description,
		svc.URL, svc.ContactEmail, svc.ContactPhone, nullTime(lastModified(svc)))
	created, err := scanService(row)
	if err != nil {
		return directory.Service{}, mapError(err, "service")
	}
	return created, nil
}

func lastModified(svc directory.Service) *time.Time {
	if svc.LastModifiedAt.IsZero() {
		return nil
	}
	return &svc.LastModifiedAt
}

func (s *Store) Service(ctx context.Context, id string) (directory.Service, error) {
	row := s.db.QueryRowContext(ctx, `select `+serviceColumns+` from services where id = $1`, id)
	svc, err := scanService(row)
	if err != nil {
		return directory.Service{}, mapError(err, "service")
	}
	return svc, nil
}

func (s *Store) ListServices(ctx context.Context, q directory.ServiceQuery) ([]directory.Service, int, error) {
	var (
		where []string
		args  []any
	)
	if q.OrganisationID != "" {
		args = append(args, q.OrganisationID)
		where = append(where, fmt.Sprintf("organisation_id = $%d", len(args)))
	}
	if name := strings.TrimSpace(q.Name); name != "" {
		args = append(args, "%"+name+"%")
		where = append(where, fmt.Sprintf("name ilike $%d", len(args)))
	}
	clause := whereClause(where)

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from services`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit, offset := limitOffset(q.Page)
	args = append(args, limit, offset)
	out, err := s.queryServices(ctx, fmt.Sprintf(`select %s from services%s order by name limit $%d offset $%d`,
		serviceColumns, clause, len(args)-1, len(args)), args...)
	return out, total, err
}

func (s *Store) AllServices(ctx context.Context) ([]directory.Service, error) {
	return s.queryServices(ctx, `select `+serviceColumns+` from services order by name`)
}

func (s *Store) ListServicesModifiedBefore(ctx context.Context, before time.Time) ([]directory.Service, error) {
	return s.queryServices(ctx, `
		select `+serviceColumns+`
		from services
		where last_modified_at < $1
		order by last_modified_at
	`, before)
}

func (s *Store) queryServices(ctx context.Context, query string, args ...any) ([]directory.Service, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []directory.Service{}
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, rows.Err()
}

func (s *Store) UpdateService(ctx context.Context, svc directory.Service) (directory.Service, error) {
	row := s.db.QueryRowContext(ctx, `
		update services
		set organisation_id = $2, slug = $3, name = $4, status = $5, intro = $6, description = $7,
			url = $8, contact_email = $9, contact_phone = $10, updated_at = now(), last_modified_at = now()
		where id = $1
		returning `+serviceColumns,
		svc.ID, svc.OrganisationID, svc.Slug, svc.Name, svc.Status, svc.Intro, svc.Description,
		svc.URL, svc.ContactEmail, svc.ContactPhone)
	updated, err := scanService(row)
	if err != nil {
		return directory.Service{}, mapError(err, "service")
	}
	return updated, nil
}

func (s *Store) TouchService(ctx context.Context, id string, at time.Time) (directory.Service, error) {
	row := s.db.QueryRowContext(ctx, `
		update services set last_modified_at = $2
		where id = $1
		returning `+serviceColumns, id, at)
	svc, err := scanService(row)
	if err != nil {
		return directory.Service{}, mapError(err, "service")
	}
	return svc, nil
}

func (s *Store) DeleteService(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from services where id = $1`, id)
	return affected(res, err, "service")
}

const resourceColumns = `r.id, r.organisation_id, r.name, r.slug, r.description, r.url, r.license, r.author,
	r.category_taxonomies, r.published_at, r.last_modified_at, r.created_at, r.updated_at`

func scanResource(row scanner) (directory.Resource, error) {
	var (
		r          directory.Resource
		taxonomies []byte
		published  sql.NullTime
		modified   sql.NullTime
	)
	err := row.Scan(&r.ID, &r.OrganisationID, &r.Name, &r.Slug, &r.Description, &r.URL, &r.License, &r.Author,
		&taxonomies, &published, &modified, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return directory.Resource{}, err
	}
	r.CategoryTaxonomies = []string{}
	if len(taxonomies) > 0 {
		if err := json.Unmarshal(taxonomies, &r.CategoryTaxonomies); err != nil {
			return directory.Resource{}, fmt.Errorf("decode category taxonomies: %w", err)
		}
	}
	r.PublishedAt = timePtr(published)
	r.LastModifiedAt = timePtr(modified)
	return r, nil
}

func taxonomiesJSON(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

func (s *Store) CreateResource(ctx context.Context, r directory.Resource) (directory.Resource, error) {
	taxonomies, err := taxonomiesJSON(r.CategoryTaxonomies)
	if err != nil {
		return directory.Resource{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into resources as r (id, organisation_id, name, slug, description, url, license, author,
			category_taxonomies, published_at, last_modified_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning `+resourceColumns,
		ids.Entity(), r.OrganisationID, r.Name, r.Slug, r.Description, r.URL, r.License, r.Author,
		taxonomies, nullTime(r.PublishedAt), nullTime(r.LastModifiedAt))
	created, err := scanResource(row)
	if err != nil {
		return directory.Resource{}, mapError(err, "resource")
	}
	return created, nil
}

func (s *Store) Resource(ctx context.Context, idOrSlug string) (directory.Resource, error) {
	query := `select ` + resourceColumns + ` from resources r where r.slug = $1`
	if ids.IsEntity(idOrSlug) {
		query = `select ` + resourceColumns + ` from resources r where r.id = $1::uuid`
	}
	r, err := scanResource(s.db.QueryRowContext(ctx, query, idOrSlug))
	if err != nil {
		return directory.Resource{}, mapError(err, "resource")
	}
	return r, nil
}

func (s *Store) ListResources(ctx context.Context, q directory.ResourceQuery) ([]directory.Resource, int, error) {
	var (
		where []string
		args  []any
	)
	if len(q.IDs) > 0 {
		placeholders := make([]string, 0, len(q.IDs))
		for _, id := range q.IDs {
			args = append(args, id)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "r.id::text in ("+strings.Join(placeholders, ", ")+")")
	}
	if name := strings.TrimSpace(q.Name); name != "" {
		args = append(args, "%"+name+"%")
		where = append(where, fmt.Sprintf("r.name ilike $%d", len(args)))
	}
	if q.OrganisationID != "" {
		args = append(args, q.OrganisationID)
		where = append(where, fmt.Sprintf("r.organisation_id = $%d", len(args)))
	}
	if name := strings.TrimSpace(q.OrganisationName); name != "" {
		args = append(args, "%"+name+"%")
		where = append(where, fmt.Sprintf("o.name ilike $%d", len(args)))
	}
	if len(q.TaxonomyIDs) > 0 {
		wanted, err := json.Marshal(q.TaxonomyIDs)
		if err != nil {
			return nil, 0, err
		}
		args = append(args, wanted)
		where = append(where, fmt.Sprintf("r.category_taxonomies @> $%d::jsonb", len(args)))
	}
	for _, name := range q.TaxonomyNames {
		args = append(args, strings.TrimSpace(name))
		where = append(where, fmt.Sprintf(`exists (select 1 from taxonomies t
			where lower(t.name) = lower($%d) and r.category_taxonomies @> jsonb_build_array(t.id::text))`, len(args)))
	}
	if len(q.SnomedCodes) > 0 {
		placeholders := make([]string, 0, len(q.SnomedCodes))
		for _, code := range q.SnomedCodes {
			args = append(args, code)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, `exists (select 1 from snomed_code_taxonomies st
			join snomed_codes c on c.id = st.snomed_code_id
			where c.code in (`+strings.Join(placeholders, ", ")+`)
			and r.category_taxonomies @> jsonb_build_array(st.taxonomy_id::text))`)
	}
	from := ` from resources r join organisations o on o.id = r.organisation_id` + whereClause(where)

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := limitOffset(q.Page)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`select %s%s order by %s limit $%d offset $%d`,
		resourceColumns, from, resourceOrder(q.Sort), len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []directory.Resource{}
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// resourceOrder maps a validated sort key onto a fixed SQL fragment.
func resourceOrder(key string) string {
	switch key {
	case "-" + directory.SortName:
		return "lower(r.name) desc, r.id"
	case directory.SortOrganisationName:
		return "lower(o.name), r.id"
	case "-" + directory.SortOrganisationName:
		return "lower(o.name) desc, r.id"
	default:
		return "lower(r.name), r.id"
	}
}

func (s *Store) UpdateResource(ctx context.Context, r directory.Resource) (directory.Resource, error) {
	taxonomies, err := taxonomiesJSON(r.CategoryTaxonomies)
	if err != nil {
		return directory.Resource{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update resources as r
		set organisation_id = $2, name = $3, slug = $4, description = $5, url = $6, license = $7,
			author = $8, category_taxonomies = $9, published_at = $10, last_modified_at = $11, updated_at = now()
		where r.id = $1
		returning `+resourceColumns,
		r.ID, r.OrganisationID, r.Name, r.Slug, r.Description, r.URL, r.License, r.Author,
		taxonomies, nullTime(r.PublishedAt), nullTime(r.LastModifiedAt))
	updated, err := scanResource(row)
	if err != nil {
		return directory.Resource{}, mapError(err, "resource")
	}
	return updated, nil
}

func (s *Store) DeleteResource(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from resources where id = $1`, id)
	return affected(res, err, "resource")
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " where " + strings.Join(conds, " and ")
}
