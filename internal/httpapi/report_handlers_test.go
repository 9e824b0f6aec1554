package httpapi

import (
	"encoding/csv"
	"net/http"
	"testing"

	"tlr.org/internal/auth"
	"tlr.org/internal/directory"
)

func TestReportsRequireGlobalAdmin(t *testing.T) {
	c := newTestAPI(t)
	orgAdmin := c.orgAdmin("orgadmin@example.org", c.org.ID)

	resp := c.post("/core/v1/reports", map[string]any{"report_type": directory.ReportServicesExport}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	resp = c.post("/core/v1/reports", map[string]any{"report_type": directory.ReportServicesExport}, orgAdmin)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestCreateAndDownloadReport(t *testing.T) {
	c := newTestAPI(t)
	global := c.globalAdmin()

	expectFieldError(t, c.post("/core/v1/reports", map[string]any{"report_type": "everything"}, global), "report_type")
	expectFieldError(t, c.post("/core/v1/reports", map[string]any{
		"report_type": directory.ReportServicesExport,
		"starts_at":   "2024-05-01T00:00:00Z",
		"ends_at":     "2024-04-01T00:00:00Z",
	}, global), "ends_at")

	resp := c.post("/core/v1/reports", map[string]any{"report_type": directory.ReportServicesExport}, global)
	expectStatus(t, resp, http.StatusCreated)
	report := decode[struct {
		Data directory.Report `json:"data"`
	}](t, resp).Data
	if report.ID == "" || report.ReportType != directory.ReportServicesExport {
		t.Fatalf("unexpected report %+v", report)
	}

	resp = c.get("/core/v1/reports/"+report.ID+"/download", nil, global)
	expectStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="services_export_2024-05-01.csv"` {
		t.Fatalf("unexpected content disposition %q", got)
	}
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 || rows[0][0] != "Service ID" || rows[1][0] != c.service.ID {
		t.Fatalf("unexpected csv rows %v", rows)
	}
}

func TestUsersExportListsHighestRole(t *testing.T) {
	c := newTestAPI(t)
	global := c.globalAdmin()
	c.serviceRole("worker@example.org", auth.RoleServiceWorker, c.service)

	resp := c.post("/core/v1/reports", map[string]any{"report_type": directory.ReportUsersExport}, global)
	expectStatus(t, resp, http.StatusCreated)
	report := decode[struct {
		Data directory.Report `json:"data"`
	}](t, resp).Data

	resp = c.get("/core/v1/reports/"+report.ID+"/download", nil, global)
	expectStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	roles := map[string]string{}
	for _, row := range rows[1:] {
		roles[row[3]] = row[5]
	}
	if roles["global@example.org"] != string(auth.RoleGlobalAdmin) || roles["worker@example.org"] != string(auth.RoleServiceWorker) {
		t.Fatalf("unexpected roles %v", roles)
	}
}
