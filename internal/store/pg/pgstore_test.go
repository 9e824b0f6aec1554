package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

func TestDeleteReferralsDueBefore(t *testing.T) {
	s, mock := newMockStore(t)
	cutoff := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("delete from referrals").
		WithArgs(directory.ReferralCompleted, directory.ReferralIncompleted, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from referrals").
		WithArgs(directory.ReferralCompleted, directory.ReferralIncompleted, cutoff).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.DeleteReferralsDueBefore(context.Background(), cutoff)
	if err != nil || n != 3 {
		t.Fatalf("first run: n=%d err=%v", n, err)
	}
	n, err = s.DeleteReferralsDueBefore(context.Background(), cutoff)
	if err != nil || n != 0 {
		t.Fatalf("second run should delete nothing: n=%d err=%v", n, err)
	}
}

func TestUniqueViolationMapsToConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into organisations").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "organisations_slug_key"})

	_, err := s.CreateOrganisation(context.Background(), directory.Organisation{Slug: "age-uk", Name: "Age UK"})
	if !errors.Is(err, directory.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMalformedIDMapsToNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("from referrals where id").
		WithArgs("not-a-uuid").
		WillReturnError(&pgconn.PgError{Code: pgErrInvalidText})

	if _, err := s.Referral(context.Background(), "not-a-uuid"); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUserNotFoundSatisfiesBothPackages(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("from users where email").
		WithArgs("ghost@example.org").
		WillReturnError(sql.ErrNoRows)

	_, err := s.UserByEmail(context.Background(), "  Ghost@Example.org ")
	if !errors.Is(err, auth.ErrNotFound) || !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestDeleteUserMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("delete from users").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteUser(context.Background(), "u1"); !errors.Is(err, directory.ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
}

func TestGrantRoleIsIdempotentAndRevokeReportsMissing(t *testing.T) {
	s, mock := newMockStore(t)
	a := auth.Assignment{UserID: "u1", Role: auth.RoleServiceAdmin, ServiceID: "s1"}

	mock.ExpectExec("insert into user_roles").
		WithArgs("u1", "service_admin", "", "s1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from user_roles").
		WithArgs("u1", "service_admin", "", "s1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.GrantRole(context.Background(), a); err != nil {
		t.Fatalf("GrantRole on existing assignment: %v", err)
	}
	if err := s.RevokeRole(context.Background(), a); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGrantRoleRejectsInvalidScope(t *testing.T) {
	s, _ := newMockStore(t)
	err := s.GrantRole(context.Background(), auth.Assignment{UserID: "u1", Role: auth.RoleServiceWorker})
	if !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestAssignmentsScan(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from user_roles").WithArgs("u1").WillReturnRows(
		sqlmock.NewRows([]string{"user_id", "role", "organisation_id", "service_id", "created_at"}).
			AddRow("u1", "organisation_admin", "o1", "", created).
			AddRow("u1", "service_worker", "", "s9", created))

	got, err := s.Assignments(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Assignments: %v", err)
	}
	if len(got) != 2 || got[0].Role != auth.RoleOrganisationAdmin || got[1].ServiceID != "s9" {
		t.Fatalf("unexpected assignments: %+v", got)
	}
}

func TestApproveUpdateRequestTwiceConflicts(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "user_id", "updateable_type", "updateable_id", "data", "approved_at", "created_at"}

	mock.ExpectQuery("update update_requests set approved_at").
		WithArgs("r1", at).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("from update_requests where id").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r1", "", "services", "s1", []byte(`{"name":"x"}`), at, at))

	_, err := s.ApproveUpdateRequest(context.Background(), "r1", at)
	if !errors.Is(err, directory.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestApproveUpdateRequestMissing(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Now().UTC()
	mock.ExpectQuery("update update_requests set approved_at").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("from update_requests where id").WillReturnError(sql.ErrNoRows)

	if _, err := s.ApproveUpdateRequest(context.Background(), "r1", at); !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetStopWordsReplacesInTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from stop_words").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("insert into stop_words").WithArgs("the").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into stop_words").WithArgs("and").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := s.SetStopWords(context.Background(), []string{" The", "and", "the", ""}); err != nil {
		t.Fatalf("SetStopWords: %v", err)
	}
}

func TestSetStopWordsRollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("delete from stop_words").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into stop_words").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if err := s.SetStopWords(context.Background(), []string{"the"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestListReferralsWithNoVisibleServices(t *testing.T) {
	s, _ := newMockStore(t)
	got, total, err := s.ListReferrals(context.Background(), directory.ReferralQuery{ServiceIDs: []string{}})
	if err != nil || total != 0 || len(got) != 0 {
		t.Fatalf("expected empty result without queries: %v %d %v", got, total, err)
	}
}

func TestListReferralsFilters(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "service_id", "reference", "status", "name", "email", "phone",
		"referee_name", "referee_email", "completed_at", "created_at", "updated_at"}

	mock.ExpectQuery(`select count\(\*\) from referrals where`).
		WithArgs("s1", "s2", directory.ReferralNew).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("from referrals where").
		WithArgs("s1", "s2", directory.ReferralNew, 10, 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("r1", "s1", "ABCDEFGHJK", "new", "Jo", "", "", "", "", nil, created, created))

	got, total, err := s.ListReferrals(context.Background(), directory.ReferralQuery{
		ServiceIDs: []string{"s1", "s2"},
		Status:     directory.ReferralNew,
		Page:       directory.Page{Number: 2, PerPage: 10},
	})
	if err != nil {
		t.Fatalf("ListReferrals: %v", err)
	}
	if total != 1 || len(got) != 1 || got[0].CompletedAt != nil {
		t.Fatalf("unexpected result: %+v total=%d", got, total)
	}
}

func TestListResourcesTaxonomyNameAndSnomedFilters(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	cols := []string{"id", "organisation_id", "name", "slug", "description", "url", "license", "author",
		"category_taxonomies", "published_at", "last_modified_at", "created_at", "updated_at"}

	mock.ExpectQuery(`(?s)select count\(\*\) from resources r join organisations o .*lower\(t.name\) = lower\(\$1\).*lower\(t.name\) = lower\(\$2\).*c.code in \(\$3\)`).
		WithArgs("Alpha", "Beta", "001").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`(?s)jsonb_build_array\(st.taxonomy_id::text\).*limit \$4 offset \$5`).
		WithArgs("Alpha", "Beta", "001", 25, 0).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("res-1", "org-1", "Guide", "guide", "", "https://example.org", "", "",
			[]byte(`["tax-a","tax-b"]`), nil, nil, created, created))

	got, total, err := s.ListResources(context.Background(), directory.ResourceQuery{
		TaxonomyNames: []string{"Alpha", " Beta "},
		SnomedCodes:   []string{"001"},
		Page:          directory.Page{Number: 1, PerPage: 25},
	})
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if total != 1 || len(got) != 1 || len(got[0].CategoryTaxonomies) != 2 {
		t.Fatalf("unexpected result: %+v total=%d", got, total)
	}
}

func TestCreateSnomedCodeWithMissingTaxonomyRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("insert into snomed_codes").
		WithArgs(sqlmock.AnyArg(), "001", "Test SNOMED code").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec("insert into snomed_code_taxonomies").
		WithArgs(sqlmock.AnyArg(), "missing").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	mock.ExpectRollback()

	_, err := s.CreateSnomedCode(context.Background(), directory.SnomedCode{
		Code: "001", Name: "Test SNOMED code", TaxonomyIDs: []string{"missing"},
	})
	if !errors.Is(err, directory.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListSnomedCodesSplitsTaxonomies(t *testing.T) {
	s, mock := newMockStore(t)
	created := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from snomed_codes c").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "created_at", "taxonomies"}).
			AddRow("c1", "001", "Linked", created, "tax-a,tax-b").
			AddRow("c2", "002", "Bare", created, ""))

	got, err := s.ListSnomedCodes(context.Background())
	if err != nil {
		t.Fatalf("ListSnomedCodes: %v", err)
	}
	if len(got) != 2 || len(got[0].TaxonomyIDs) != 2 || got[1].TaxonomyIDs == nil || len(got[1].TaxonomyIDs) != 0 {
		t.Fatalf("unexpected codes %+v", got)
	}
}
