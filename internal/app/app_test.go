package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"knitfolio/web/internal/cms"
	"knitfolio/web/internal/config"
	"knitfolio/web/internal/search"
	"knitfolio/web/internal/session"
)

// fakeDirectus emulates the slice of the CMS API the app talks to. It
// applies status/slug filters the way the real service would so handler
// tests exercise the filters the app actually sends.
type fakeDirectus struct {
	mu sync.Mutex

	server *httptest.Server

	roleName string
	password string

	projects []cms.Project
	patterns []cms.Pattern

	failCreateProject bool
	failCreatePattern bool

	lastAuth        string
	lastSearchParam string
	loginCalls      int
	refreshCalls    int
	listCalls       int

	createdProjects []cms.ProjectInput
	createdPatterns []cms.PatternInput
	patchedProjects []string
	deletedProjects []string
	deletedPatterns []string
	uploadedFiles   []string
	deletedFiles    []string
}

func newFakeDirectus(t *testing.T) *fakeDirectus {
	t.Helper()
	f := &fakeDirectus{roleName: "Administrator", password: "correct-horse"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.loginCalls++
		f.mu.Unlock()
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Password != f.password {
			writeCMSError(w, http.StatusUnauthorized, "Invalid user credentials.")
			return
		}
		writeCMSData(w, map[string]any{"access_token": "at-1", "refresh_token": "rt-1", "expires": 900000})
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.refreshCalls++
		f.mu.Unlock()
		writeCMSData(w, map[string]any{"access_token": "at-2", "refresh_token": "rt-2", "expires": 900000})
	})
	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		writeCMSData(w, map[string]any{
			"id":         "user-1",
			"email":      "robin@example.com",
			"first_name": "Robin",
			"role":       map[string]any{"name": f.roleName},
		})
	})
	mux.HandleFunc("GET /items/projects", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.listCalls++
		f.lastAuth = r.Header.Get("Authorization")
		f.mu.Unlock()
		writeCMSData(w, filterProjects(f.projects, r.URL.Query()))
	})
	mux.HandleFunc("POST /items/projects", func(w http.ResponseWriter, r *http.Request) {
		if f.failCreateProject {
			writeCMSError(w, http.StatusInternalServerError, "boom")
			return
		}
		var input cms.ProjectInput
		_ = json.NewDecoder(r.Body).Decode(&input)
		f.mu.Lock()
		f.createdProjects = append(f.createdProjects, input)
		f.mu.Unlock()
		writeCMSData(w, cms.Project{ID: "proj-new", Status: input.Status, Title: input.Title, Slug: input.Slug, Description: input.Description})
	})
	mux.HandleFunc("PATCH /items/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.patchedProjects = append(f.patchedProjects, r.PathValue("id"))
		f.mu.Unlock()
		writeCMSData(w, map[string]any{"id": r.PathValue("id")})
	})
	mux.HandleFunc("DELETE /items/projects/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deletedProjects = append(f.deletedProjects, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /items/patterns", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		f.lastSearchParam = r.URL.Query().Get("search")
		f.mu.Unlock()
		writeCMSData(w, filterPatterns(f.patterns, r.URL.Query()))
	})
	mux.HandleFunc("POST /items/patterns", func(w http.ResponseWriter, r *http.Request) {
		if f.failCreatePattern {
			writeCMSError(w, http.StatusInternalServerError, "boom")
			return
		}
		var input cms.PatternInput
		_ = json.NewDecoder(r.Body).Decode(&input)
		f.mu.Lock()
		f.createdPatterns = append(f.createdPatterns, input)
		f.mu.Unlock()
		writeCMSData(w, cms.Pattern{ID: "pat-new", Title: input.Title, Slug: input.Slug, Visibility: input.Visibility, Notes: input.Notes, PDFFile: input.PDFFile})
	})
	mux.HandleFunc("DELETE /items/patterns/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deletedPatterns = append(f.deletedPatterns, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeCMSError(w, http.StatusBadRequest, "bad upload")
			return
		}
		_, header, err := r.FormFile("file")
		if err != nil {
			writeCMSError(w, http.StatusBadRequest, "missing file")
			return
		}
		f.mu.Lock()
		f.uploadedFiles = append(f.uploadedFiles, header.Filename)
		f.mu.Unlock()
		writeCMSData(w, map[string]any{"id": "file-1"})
	})
	mux.HandleFunc("DELETE /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deletedFiles = append(f.deletedFiles, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /assets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-fake-bytes"))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func writeCMSData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeCMSError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]any{{"message": message}},
	})
}

// findClause walks a decoded filter tree looking for a field clause,
// descending into _and groups.
func findClause(node any, field string) (map[string]any, bool) {
	tree, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	if clause, ok := tree[field].(map[string]any); ok {
		return clause, true
	}
	if group, ok := tree["_and"].([]any); ok {
		for _, item := range group {
			if clause, ok := findClause(item, field); ok {
				return clause, true
			}
		}
	}
	return nil, false
}

func decodeFilter(params url.Values) any {
	raw := params.Get("filter")
	if raw == "" {
		return nil
	}
	var node any
	_ = json.Unmarshal([]byte(raw), &node)
	return node
}

func filterProjects(projects []cms.Project, params url.Values) []cms.Project {
	node := decodeFilter(params)
	out := []cms.Project{}
	for _, p := range projects {
		if clause, ok := findClause(node, "status"); ok {
			if want, _ := clause["_eq"].(string); want != p.Status {
				continue
			}
		}
		if clause, ok := findClause(node, "slug"); ok {
			if want, _ := clause["_eq"].(string); want != p.Slug {
				continue
			}
		}
		if clause, ok := findClause(node, "finished_at"); ok {
			if _, nnull := clause["_nnull"]; nnull && p.FinishedAt == nil {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func filterPatterns(patterns []cms.Pattern, params url.Values) []cms.Pattern {
	node := decodeFilter(params)
	needle := strings.ToLower(params.Get("search"))
	out := []cms.Pattern{}
	for _, p := range patterns {
		if clause, ok := findClause(node, "slug"); ok {
			if want, _ := clause["_eq"].(string); want != p.Slug {
				continue
			}
		}
		if needle != "" && !strings.Contains(strings.ToLower(p.Title), needle) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// fakeEngine is an in-memory search backend with recorded calls.
type fakeEngine struct {
	mu       sync.Mutex
	healthy  bool
	response search.Response
	err      error

	searches []search.Query
	indexed  []search.PatternRecord
	deleted  []string
	// deletions and index pushes happen on background goroutines
	activity chan struct{}
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{healthy: true, activity: make(chan struct{}, 16)}
}

func (f *fakeEngine) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeEngine) Search(q search.Query) (search.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, q)
	return f.response, f.err
}

func (f *fakeEngine) IndexPattern(rec search.PatternRecord) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, rec)
	f.mu.Unlock()
	f.activity <- struct{}{}
	return nil
}

func (f *fakeEngine) DeletePattern(id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	f.activity <- struct{}{}
	return nil
}

func (f *fakeEngine) waitForActivity(t *testing.T) {
	t.Helper()
	select {
	case <-f.activity:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for background index activity")
	}
}

func (f *fakeEngine) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches)
}

type testApp struct {
	directus *fakeDirectus
	engine   *fakeEngine
	service  *Service
	server   *HTTPServer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	directus := newFakeDirectus(t)
	engine := newFakeEngine()

	cfg := config.Config{
		CMSURL:        directus.server.URL,
		SessionSecret: "test-secret",
		CookieTTL:     30 * 24 * time.Hour,
		AccessTTL:     7 * 24 * time.Hour,
	}
	gateway := cms.New(directus.server.URL)
	sessions := session.NewManager(gateway, cfg.AccessTTL, cfg.CookieTTL)
	service := NewService(cfg, gateway, search.NewService(engine), sessions)

	return &testApp{
		directus: directus,
		engine:   engine,
		service:  service,
		server:   NewHTTPServer(service),
	}
}

func (a *testApp) sessionCookie(t *testing.T, role string) *http.Cookie {
	t.Helper()
	sess := session.Session{
		UserID:          "user-1",
		Name:            "Robin",
		Role:            role,
		AccessToken:     "at-1",
		RefreshToken:    "rt-1",
		AccessExpiresAt: time.Now().Add(time.Hour),
		ExpiresAt:       time.Now().Add(24 * time.Hour),
		JTI:             "jti-test",
	}
	token, err := a.service.IssueToken(sess)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return &http.Cookie{Name: sessionCookieName, Value: token}
}

func (a *testApp) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rr, req)
	return rr
}

func strptr(s string) *string {
	return &s
}
