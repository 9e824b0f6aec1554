package pg

import (
	"context"
	"database/sql"
	"strings"

	"tlr.org/internal/directory"
	"tlr.org/internal/ids"
)

func (s *Store) CreateTaxonomy(ctx context.Context, t directory.Taxonomy) (directory.Taxonomy, error) {
	var parent sql.NullString
	if t.ParentID != "" {
		parent = sql.NullString{String: t.ParentID, Valid: true}
	}
	t.ID = ids.Entity()
	err := s.db.QueryRowContext(ctx, `
		insert into taxonomies (id, parent_id, name, "order")
		values ($1, $2, $3, $4)
		returning created_at`,
		t.ID, parent, t.Name, t.Order).Scan(&t.CreatedAt)
	if err != nil {
		return directory.Taxonomy{}, mapError(err, "taxonomy")
	}
	return t, nil
}

func (s *Store) ListTaxonomies(ctx context.Context) ([]directory.Taxonomy, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, coalesce(parent_id::text, ''), name, "order", created_at
		from taxonomies order by "order", name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []directory.Taxonomy{}
	for rows.Next() {
		var t directory.Taxonomy
		if err := rows.Scan(&t.ID, &t.ParentID, &t.Name, &t.Order, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateSnomedCode stores the code and its taxonomy links in one transaction.
func (s *Store) CreateSnomedCode(ctx context.Context, c directory.SnomedCode) (directory.SnomedCode, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return directory.SnomedCode{}, err
	}
	defer func() { _ = tx.Rollback() }()

	c.ID = ids.Entity()
	if err := tx.QueryRowContext(ctx, `
		insert into snomed_codes (id, code, name) values ($1, $2, $3)
		returning created_at`, c.ID, c.Code, c.Name).Scan(&c.CreatedAt); err != nil {
		return directory.SnomedCode{}, mapError(err, "snomed code")
	}
	for _, taxonomyID := range c.TaxonomyIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into snomed_code_taxonomies (snomed_code_id, taxonomy_id) values ($1, $2)`,
			c.ID, taxonomyID); err != nil {
			return directory.SnomedCode{}, mapError(err, "taxonomy "+taxonomyID)
		}
	}
	if err := tx.Commit(); err != nil {
		return directory.SnomedCode{}, err
	}
	if c.TaxonomyIDs == nil {
		c.TaxonomyIDs = []string{}
	}
	return c, nil
}

func (s *Store) ListSnomedCodes(ctx context.Context) ([]directory.SnomedCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		select c.id, c.code, c.name, c.created_at, coalesce(string_agg(st.taxonomy_id::text, ',' order by st.taxonomy_id), '')
		from snomed_codes c
		left join snomed_code_taxonomies st on st.snomed_code_id = c.id
		group by c.id
		order by c.code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []directory.SnomedCode{}
	for rows.Next() {
		var (
			c      directory.SnomedCode
			joined string
		)
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.CreatedAt, &joined); err != nil {
			return nil, err
		}
		c.TaxonomyIDs = []string{}
		if joined != "" {
			c.TaxonomyIDs = strings.Split(joined, ",")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
