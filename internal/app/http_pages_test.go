package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"knitfolio/web/internal/cms"
)

func seedProjects(a *testApp) {
	a.directus.projects = []cms.Project{
		{ID: "proj-1", Status: cms.StatusPublic, Title: "Aran Sweater", Slug: "aran-sweater", FinishedAt: strptr("2024-03-10")},
		{ID: "proj-2", Status: cms.StatusDraft, Title: "Secret Gift Socks", Slug: "secret-gift-socks"},
		{ID: "proj-3", Status: cms.StatusPublic, Title: "Lace Shawl", Slug: "lace-shawl", FinishedAt: strptr("2023-11-02")},
	}
}

func TestProjectsPageShowsOnlyPublicToVisitors(t *testing.T) {
	a := newTestApp(t)
	seedProjects(a)

	rr := a.do(t, httptest.NewRequest(http.MethodGet, "/projects", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Aran Sweater") {
		t.Fatalf("expected the public project, body=%s", body)
	}
	if strings.Contains(body, "Secret Gift Socks") {
		t.Fatalf("draft project must not appear for visitors")
	}
}

func TestProjectsPageShowsDraftsToAdministrator(t *testing.T) {
	a := newTestApp(t)
	seedProjects(a)

	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.AddCookie(a.sessionCookie(t, "Administrator"))
	rr := a.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Secret Gift Socks") {
		t.Fatalf("expected the draft project for the administrator, body=%s", body)
	}
	if !strings.Contains(body, "draft") {
		t.Fatalf("expected the draft badge, body=%s", body)
	}
}

func TestDraftProjectDetailHiddenFromVisitors(t *testing.T) {
	a := newTestApp(t)
	seedProjects(a)

	rr := a.do(t, httptest.NewRequest(http.MethodGet, "/projects/secret-gift-socks", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for a draft, got %d", rr.Code)
	}
}

func TestDraftProjectDetailVisibleToAdministrator(t *testing.T) {
	a := newTestApp(t)
	seedProjects(a)

	req := httptest.NewRequest(http.MethodGet, "/projects/secret-gift-socks", nil)
	req.AddCookie(a.sessionCookie(t, "Administrator"))
	rr := a.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Secret Gift Socks") {
		t.Fatalf("expected the draft detail page")
	}
}

func TestUnknownProjectSlugIsNotFound(t *testing.T) {
	a := newTestApp(t)
	seedProjects(a)

	rr := a.do(t, httptest.NewRequest(http.MethodGet, "/projects/never-knit-this", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestTimelineGroupsByYearNewestFirst(t *testing.T) {
	a := newTestApp(t)
	seedProjects(a)

	rr := a.do(t, httptest.NewRequest(http.MethodGet, "/timeline", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	pos2024 := strings.Index(body, "2024")
	pos2023 := strings.Index(body, "2023")
	if pos2024 == -1 || pos2023 == -1 {
		t.Fatalf("expected both year headings, body=%s", body)
	}
	if pos2024 > pos2023 {
		t.Fatalf("expected 2024 before 2023")
	}
	if strings.Contains(body, "Secret Gift Socks") {
		t.Fatalf("unfinished drafts must not appear on the timeline")
	}
}

func TestPatternsPageRedirectsAnonymousToLogin(t *testing.T) {
	a := newTestApp(t)

	rr := a.do(t, httptest.NewRequest(http.MethodGet, "/patterns", nil))

	if rr.Code != http.StatusSeeOther {
		t.Fatalf("expected status 303, got %d", rr.Code)
	}
	if !strings.HasPrefix(rr.Header().Get("Location"), "/login?next=") {
		t.Fatalf("expected redirect to login, got %q", rr.Header().Get("Location"))
	}
}

func TestPatternsPageListsForSignedInUser(t *testing.T) {
	a := newTestApp(t)
	a.directus.patterns = []cms.Pattern{
		{ID: "pat-1", Title: "Cabled Mittens", Slug: "cabled-mittens", Visibility: cms.VisibilityPrivate, PDFFile: strptr("file-9")},
	}

	req := httptest.NewRequest(http.MethodGet, "/patterns", nil)
	req.AddCookie(a.sessionCookie(t, "Knitter"))
	rr := a.do(t, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "Cabled Mittens") {
		t.Fatalf("expected the pattern row, body=%s", body)
	}
	if !strings.Contains(body, "/api/download-pattern/cabled-mittens") {
		t.Fatalf("expected a download link, body=%s", body)
	}
}
