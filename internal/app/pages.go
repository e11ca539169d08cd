package app

import (
	"errors"
	"log"
	"net/http"

	"knitfolio/web/internal/access"
	"knitfolio/web/internal/cms"
	"knitfolio/web/internal/search"
	"knitfolio/web/internal/session"
)

// Viewer is the session as templates see it.
type Viewer struct {
	Authenticated bool
	Name          string
	IsAdmin       bool
	// SessionExpired is set when a refresh failed and the user must sign
	// in again; the layout shows a banner.
	SessionExpired bool
}

func viewerOf(sess session.Session) Viewer {
	return Viewer{
		Authenticated:  sess.Authenticated(),
		Name:           sess.Name,
		IsAdmin:        sess.IsAdministrator(),
		SessionExpired: sess.Err != "",
	}
}

type basePage struct {
	Title  string
	Viewer Viewer
}

func (s *HTTPServer) handlePage(w http.ResponseWriter, r *http.Request, sess session.Session) {
	parts := splitPath(r.URL.Path)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/":
		s.handleHome(w, sess)
	case r.Method == http.MethodGet && r.URL.Path == "/projects":
		s.handleProjects(w, r, sess)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "projects":
		s.handleProjectDetail(w, r, sess, parts[1])
	case r.Method == http.MethodGet && r.URL.Path == "/timeline":
		s.handleTimeline(w, r, sess)
	case r.Method == http.MethodGet && r.URL.Path == "/patterns":
		s.handlePatterns(w, r, sess)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "patterns":
		s.handlePatternDetail(w, r, sess, parts[1])
	case r.Method == http.MethodGet && r.URL.Path == "/search":
		s.handleSearchPage(w, r, sess)
	case r.Method == http.MethodGet && r.URL.Path == "/login":
		s.handleLoginForm(w, r, sess)
	case r.Method == http.MethodPost && r.URL.Path == "/login":
		s.handleLogin(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/logout":
		s.handleLogout(w, r, sess)
	case r.Method == http.MethodGet && r.URL.Path == "/admin/projects/new":
		s.render(w, http.StatusOK, "admin_project_new", struct {
			basePage
			Error string
		}{basePage{Title: "New project", Viewer: viewerOf(sess)}, ""})
	case r.Method == http.MethodPost && r.URL.Path == "/admin/projects":
		s.handleCreateProject(w, r, sess)
	case r.Method == http.MethodGet && r.URL.Path == "/admin/patterns/new":
		s.render(w, http.StatusOK, "admin_pattern_new", struct {
			basePage
			Error string
		}{basePage{Title: "New pattern", Viewer: viewerOf(sess)}, ""})
	case r.Method == http.MethodPost && r.URL.Path == "/admin/patterns":
		s.handleCreatePattern(w, r, sess)
	default:
		s.renderNotFound(w, sess)
	}
}

func (s *HTTPServer) renderNotFound(w http.ResponseWriter, sess session.Session) {
	s.render(w, http.StatusNotFound, "notfound", basePage{Title: "Not found", Viewer: viewerOf(sess)})
}

func (s *HTTPServer) renderError(w http.ResponseWriter, sess session.Session, err error) {
	log.Printf("app: page error: %v", err)
	status, _, message, _ := mapError(err)
	if status == http.StatusNotFound {
		s.renderNotFound(w, sess)
		return
	}
	s.render(w, status, "error", struct {
		basePage
		Message string
	}{basePage{Title: "Something went wrong", Viewer: viewerOf(sess)}, message})
}

func (s *HTTPServer) handleHome(w http.ResponseWriter, sess session.Session) {
	s.render(w, http.StatusOK, "home", basePage{Title: "Knitfolio", Viewer: viewerOf(sess)})
}

// ProjectCard is the list-page view of a project.
type ProjectCard struct {
	ID         string
	Title      string
	Slug       string
	Draft      bool
	FinishedAt string
	Excerpt    string
	ImageURL   string
}

func (s *HTTPServer) projectCard(p cms.Project) ProjectCard {
	card := ProjectCard{
		ID:      p.ID,
		Title:   p.Title,
		Slug:    p.Slug,
		Draft:   p.Status != cms.StatusPublic,
		Excerpt: excerpt(p.Description, 150),
	}
	if p.FinishedAt != nil {
		card.FinishedAt = *p.FinishedAt
	}
	if p.HeroImage != nil {
		card.ImageURL = s.service.ImageURL(*p.HeroImage, 600, 400, 75)
	}
	return card
}

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, sess session.Session) {
	projects, err := s.service.ListProjects(r.Context(), sess)
	if err != nil {
		s.renderError(w, sess, err)
		return
	}
	cards := make([]ProjectCard, 0, len(projects))
	for _, p := range projects {
		cards = append(cards, s.projectCard(p))
	}
	s.render(w, http.StatusOK, "projects", struct {
		basePage
		Projects []ProjectCard
	}{basePage{Title: "Projects", Viewer: viewerOf(sess)}, cards})
}

func (s *HTTPServer) handleProjectDetail(w http.ResponseWriter, r *http.Request, sess session.Session, slug string) {
	project, err := s.service.GetProjectBySlug(r.Context(), sess, slug)
	if err != nil {
		s.renderError(w, sess, err)
		return
	}
	heroURL := ""
	if project.HeroImage != nil {
		heroURL = s.service.ImageURL(*project.HeroImage, 1200, 675, 80)
	}
	finished := ""
	if project.FinishedAt != nil {
		finished = *project.FinishedAt
	}
	s.render(w, http.StatusOK, "project", struct {
		basePage
		Project    cms.Project
		Draft      bool
		FinishedAt string
		HeroURL    string
	}{
		basePage{Title: project.Title, Viewer: viewerOf(sess)},
		project,
		project.Status != cms.StatusPublic,
		finished,
		heroURL,
	})
}

func (s *HTTPServer) handleTimeline(w http.ResponseWriter, r *http.Request, sess session.Session) {
	years, err := s.service.Timeline(r.Context())
	if err != nil {
		s.renderError(w, sess, err)
		return
	}
	type timelineYear struct {
		Year     string
		Projects []ProjectCard
	}
	view := make([]timelineYear, 0, len(years))
	for _, year := range years {
		entry := timelineYear{Year: year.Year}
		for _, p := range year.Projects {
			entry.Projects = append(entry.Projects, s.projectCard(p))
		}
		view = append(view, entry)
	}
	s.render(w, http.StatusOK, "timeline", struct {
		basePage
		Years []timelineYear
	}{basePage{Title: "Timeline", Viewer: viewerOf(sess)}, view})
}

// PatternRow is the list-page view of a pattern.
type PatternRow struct {
	ID      string
	Title   string
	Slug    string
	HasPDF  bool
	Added   string
	Private bool
}

func (s *HTTPServer) handlePatterns(w http.ResponseWriter, r *http.Request, sess session.Session) {
	if access.Check(subjectOf(sess), access.RequireSignIn) != access.Allow {
		redirectToLogin(w, r)
		return
	}
	patterns, err := s.service.ListPatterns(r.Context(), sess)
	if err != nil {
		s.renderError(w, sess, err)
		return
	}
	rows := make([]PatternRow, 0, len(patterns))
	for _, p := range patterns {
		rows = append(rows, PatternRow{
			ID:      p.ID,
			Title:   p.Title,
			Slug:    p.Slug,
			HasPDF:  p.PDFFile != nil && *p.PDFFile != "",
			Added:   p.DateCreated,
			Private: p.Visibility == cms.VisibilityPrivate,
		})
	}
	s.render(w, http.StatusOK, "patterns", struct {
		basePage
		Patterns []PatternRow
	}{basePage{Title: "Patterns", Viewer: viewerOf(sess)}, rows})
}

func (s *HTTPServer) handlePatternDetail(w http.ResponseWriter, r *http.Request, sess session.Session, slug string) {
	if access.Check(subjectOf(sess), access.RequireSignIn) != access.Allow {
		redirectToLogin(w, r)
		return
	}
	pattern, err := s.service.GetPatternBySlug(r.Context(), sess, slug)
	if err != nil {
		s.renderError(w, sess, err)
		return
	}
	notes := ""
	if pattern.Notes != nil {
		notes = *pattern.Notes
	}
	s.render(w, http.StatusOK, "pattern", struct {
		basePage
		Pattern cms.Pattern
		Notes   string
		HasPDF  bool
	}{
		basePage{Title: pattern.Title, Viewer: viewerOf(sess)},
		pattern,
		notes,
		pattern.PDFFile != nil && *pattern.PDFFile != "",
	})
}

func (s *HTTPServer) handleSearchPage(w http.ResponseWriter, r *http.Request, sess session.Session) {
	query := ParseSearchQuery(r.URL.Query().Get("q"), r.URL.Query().Get("limit"), r.URL.Query().Get("offset"))

	var (
		resp      search.Response
		searchErr bool
	)
	if query.Text != "" {
		var err error
		resp, err = s.service.SearchPatterns(r.Context(), sess, query)
		if err != nil {
			log.Printf("app: search page: %v", err)
			searchErr = true
		}
	}

	type resultRow struct {
		Title   string
		Slug    string
		Snippet string
	}
	rows := make([]resultRow, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		row := resultRow{Title: hit.Title, Slug: hit.Slug}
		if hit.Formatted != nil {
			if hit.Formatted.Title != "" {
				row.Title = hit.Formatted.Title
			}
			if hit.Formatted.Content != "" {
				row.Snippet = hit.Formatted.Content
			} else {
				row.Snippet = hit.Formatted.Notes
			}
		} else {
			row.Snippet = excerpt(hit.Notes, 200)
		}
		rows = append(rows, row)
	}

	s.render(w, http.StatusOK, "search", struct {
		basePage
		Query     string
		Results   []resultRow
		Total     int64
		Searched  bool
		SearchErr bool
	}{
		basePage{Title: "Search", Viewer: viewerOf(sess)},
		query.Text,
		rows,
		resp.EstimatedTotalHits,
		query.Text != "",
		searchErr,
	})
}

type loginPage struct {
	basePage
	Error string
	Next  string
}

func (s *HTTPServer) handleLoginForm(w http.ResponseWriter, r *http.Request, sess session.Session) {
	if sess.Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, "login", loginPage{
		basePage: basePage{Title: "Sign in", Viewer: viewerOf(sess)},
		Next:     safeNext(r.URL.Query().Get("next")),
	})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, "login", loginPage{
			basePage: basePage{Title: "Sign in"},
			Error:    "Invalid form submission",
			Next:     "/",
		})
		return
	}
	next := safeNext(r.PostFormValue("next"))

	sess, err := s.service.Authenticate(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		if !errors.Is(err, session.ErrAuthFailed) {
			log.Printf("app: login: %v", err)
		}
		s.render(w, http.StatusUnauthorized, "login", loginPage{
			basePage: basePage{Title: "Sign in"},
			Error:    "Invalid email or password",
			Next:     next,
		})
		return
	}

	s.setSessionCookie(w, sess)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request, sess session.Session) {
	s.service.Logout(r.Context(), sess)
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// formUpload pulls an optional file field out of a parsed multipart form.
// The returned cleanup is always safe to defer.
func formUpload(r *http.Request, field string) (*Upload, func()) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, func() {}
	}
	return &Upload{Filename: header.Filename, Content: file}, func() { file.Close() }
}

const maxUploadBytes = 64 << 20

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request, sess session.Session) {
	// The /admin prefix gate already ran; mutations re-check regardless.
	if access.Check(subjectOf(sess), access.RequireAdministrator) != access.Allow {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.render(w, http.StatusBadRequest, "admin_project_new", struct {
			basePage
			Error string
		}{basePage{Title: "New project", Viewer: viewerOf(sess)}, "Upload too large or malformed"})
		return
	}

	draft := ProjectDraft{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		FinishedAt:  r.PostFormValue("finished_at"),
		Status:      r.PostFormValue("status"),
	}
	upload, closeUpload := formUpload(r, "hero_image")
	defer closeUpload()

	project, err := s.service.CreateProject(r.Context(), sess, draft, upload)
	if err != nil {
		status, _, message, _ := mapError(err)
		s.render(w, status, "admin_project_new", struct {
			basePage
			Error string
		}{basePage{Title: "New project", Viewer: viewerOf(sess)}, message})
		return
	}
	http.Redirect(w, r, "/projects/"+project.Slug, http.StatusSeeOther)
}

func (s *HTTPServer) handleCreatePattern(w http.ResponseWriter, r *http.Request, sess session.Session) {
	if access.Check(subjectOf(sess), access.RequireAdministrator) != access.Allow {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.render(w, http.StatusBadRequest, "admin_pattern_new", struct {
			basePage
			Error string
		}{basePage{Title: "New pattern", Viewer: viewerOf(sess)}, "Upload too large or malformed"})
		return
	}

	draft := PatternDraft{
		Title:      r.PostFormValue("title"),
		Notes:      r.PostFormValue("notes"),
		Visibility: r.PostFormValue("visibility"),
	}
	upload, closeUpload := formUpload(r, "pdf_file")
	defer closeUpload()

	pattern, err := s.service.CreatePattern(r.Context(), sess, draft, upload)
	if err != nil {
		status, _, message, _ := mapError(err)
		s.render(w, status, "admin_pattern_new", struct {
			basePage
			Error string
		}{basePage{Title: "New pattern", Viewer: viewerOf(sess)}, message})
		return
	}
	http.Redirect(w, r, "/patterns/"+pattern.Slug, http.StatusSeeOther)
}
