package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"tlr.org/internal/audit"
	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
)

type reportInput struct {
	ReportType string     `json:"report_type"`
	StartsAt   *time.Time `json:"starts_at,omitempty"`
	EndsAt     *time.Time `json:"ends_at,omitempty"`
}

func (a *API) handleListReports(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionList, auth.EntityReports, auth.Target{}); !ok {
		return
	}
	page, ok := a.page(w, r)
	if !ok {
		return
	}
	reports, total, err := a.store.ListReports(r.Context(), page)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityReports), "", "listed reports")
	writeList(w, reports, total, page)
}

func (a *API) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionCreate, auth.EntityReports, auth.Target{}); !ok {
		return
	}
	var in reportInput
	if !decodeBody(w, r, &in) {
		return
	}
	v := &directory.ValidationError{}
	in.ReportType = strings.TrimSpace(in.ReportType)
	switch {
	case in.ReportType == "":
		v.Add("report_type", "The report type field is required.")
	case !directory.ValidReportType(in.ReportType):
		v.Add("report_type", "The selected report type is invalid.")
	}
	if in.StartsAt != nil && in.EndsAt != nil && in.EndsAt.Before(*in.StartsAt) {
		v.Add("ends_at", "The ends at must be a date after starts at.")
	}
	if !v.Empty() {
		writeValidation(w, v.Fields)
		return
	}

	content, err := a.generateReport(r.Context(), in)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	report, err := a.store.CreateReport(r.Context(), directory.Report{
		ReportType: in.ReportType,
		StartsAt:   in.StartsAt,
		EndsAt:     in.EndsAt,
		Content:    content,
	})
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionCreate, string(auth.EntityReports), report.ID, "generated "+report.ReportType)
	writeJSON(w, http.StatusCreated, itemResponse{Data: report})
}

func (a *API) handleShowReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionRead, auth.EntityReports, auth.Target{}); !ok {
		return
	}
	report, err := a.store.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityReports), report.ID, "viewed report")
	writeJSON(w, http.StatusOK, itemResponse{Data: report})
}

func (a *API) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionRead, auth.EntityReports, auth.Target{}); !ok {
		return
	}
	report, err := a.store.Report(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionRead, string(auth.EntityReports), report.ID, "downloaded report")
	filename := fmt.Sprintf("%s_%s.csv", report.ReportType, report.CreatedAt.UTC().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(report.Content)
}

func (a *API) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.authorize(w, r, auth.ActionDelete, auth.EntityReports, auth.Target{}); !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := a.store.DeleteReport(r.Context(), id); err != nil {
		handleStoreError(w, r, err)
		return
	}
	a.record(r, audit.ActionDelete, string(auth.EntityReports), id, "deleted report")
	writeJSON(w, http.StatusOK, map[string]any{"message": "Report deleted"})
}

// generateReport renders the CSV export for in. The date range limits rows
// by creation time.
func (a *API) generateReport(ctx context.Context, in reportInput) ([]byte, error) {
	inRange := func(t time.Time) bool {
		if in.StartsAt != nil && t.Before(*in.StartsAt) {
			return false
		}
		if in.EndsAt != nil && t.After(*in.EndsAt) {
			return false
		}
		return true
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	var rows [][]string

	switch in.ReportType {
	case directory.ReportUsersExport:
		rows = append(rows, []string{"User ID", "First Name", "Last Name", "Email", "Phone", "Highest Role", "Created At"})
		users, _, err := a.store.ListUsers(ctx, directory.Page{})
		if err != nil {
			return nil, err
		}
		for _, u := range users {
			if !inRange(u.CreatedAt) {
				continue
			}
			assignments, err := a.store.Assignments(ctx, u.ID)
			if err != nil {
				return nil, err
			}
			highest := auth.Principal{Assignments: assignments}.AllRoles().Highest()
			rows = append(rows, []string{u.ID, u.FirstName, u.LastName, u.Email, u.Phone, string(highest), formatTime(u.CreatedAt)})
		}
	case directory.ReportServicesExport:
		rows = append(rows, []string{"Service ID", "Organisation ID", "Name", "Status", "Contact Email", "Contact Phone", "Last Modified At"})
		services, err := a.store.AllServices(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range services {
			if !inRange(s.CreatedAt) {
				continue
			}
			rows = append(rows, []string{s.ID, s.OrganisationID, s.Name, s.Status, s.ContactEmail, s.ContactPhone, formatTime(s.LastModifiedAt)})
		}
	case directory.ReportReferralsExport:
		rows = append(rows, []string{"Referral ID", "Reference", "Service ID", "Status", "Created At", "Completed At"})
		referrals, _, err := a.store.ListReferrals(ctx, directory.ReferralQuery{})
		if err != nil {
			return nil, err
		}
		for _, ref := range referrals {
			if !inRange(ref.CreatedAt) {
				continue
			}
			completed := ""
			if ref.CompletedAt != nil {
				completed = formatTime(*ref.CompletedAt)
			}
			rows = append(rows, []string{ref.ID, ref.Reference, ref.ServiceID, ref.Status, formatTime(ref.CreatedAt), completed})
		}
	default:
		return nil, fmt.Errorf("%w: unknown report type %q", directory.ErrInvalidInput, in.ReportType)
	}

	if err := cw.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
