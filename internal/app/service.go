// Package app ties the CMS gateway, search facade and session manager into
// the page and API surface of the site.
package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"knitfolio/web/internal/auth"
	"knitfolio/web/internal/cms"
	"knitfolio/web/internal/config"
	"knitfolio/web/internal/search"
	"knitfolio/web/internal/session"
	"knitfolio/web/internal/util"
)

type Service struct {
	cfg      config.Config
	cms      *cms.Gateway
	search   *search.Service
	sessions *session.Manager
	revoked  *session.RevocationStore // nil when revocation is disabled
}

func NewService(cfg config.Config, gateway *cms.Gateway, searchSvc *search.Service, sessions *session.Manager) *Service {
	return &Service{
		cfg:      cfg,
		cms:      gateway,
		search:   searchSvc,
		sessions: sessions,
	}
}

// WithRevocation enables the logout denylist.
func (s *Service) WithRevocation(store *session.RevocationStore) *Service {
	s.revoked = store
	return s
}

// Authenticate signs the user in against the CMS.
func (s *Service) Authenticate(ctx context.Context, email, password string) (session.Session, error) {
	return s.sessions.Authenticate(ctx, email, password)
}

// ResolveSession turns a cookie token into a live session. Invalid, expired
// or revoked tokens resolve to the anonymous session; an expired access
// token triggers at most one refresh exchange. The second return reports
// whether the cookie must be re-issued.
func (s *Service) ResolveSession(ctx context.Context, token string) (session.Session, bool) {
	if token == "" {
		return session.Session{}, false
	}
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return session.Session{}, false
	}
	sess := session.FromClaims(claims)

	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, sess.JTI)
		if err != nil {
			log.Printf("app: revocation check failed: %v", err)
		} else if revoked {
			return session.Session{}, false
		}
	}

	return s.sessions.Resolve(ctx, sess)
}

// IssueToken signs the session into a cookie value.
func (s *Service) IssueToken(sess session.Session) (string, error) {
	return auth.IssueToken([]byte(s.cfg.SessionSecret), sess.Claims())
}

// Logout revokes the session's cookie id so the token cannot be replayed.
// Best effort: without a revocation store, clearing the cookie is all the
// logout does.
func (s *Service) Logout(ctx context.Context, sess session.Session) {
	if s.revoked == nil || sess.JTI == "" {
		return
	}
	if err := s.revoked.Revoke(ctx, sess.JTI, sess.ExpiresAt); err != nil {
		log.Printf("app: revoke session %s: %v", sess.JTI, err)
	}
}

func (s *Service) clientFor(sess session.Session) *cms.Client {
	if sess.Authenticated() && sess.AccessToken != "" {
		return s.cms.WithToken(sess.AccessToken)
	}
	return s.cms.Anonymous()
}

// ImageURL builds a sized asset URL for templates; empty when no file.
func (s *Service) ImageURL(fileID string, width, height, quality int) string {
	if fileID == "" {
		return ""
	}
	return s.cms.AssetURL(fileID, &cms.ImageTransform{
		Width:   width,
		Height:  height,
		Quality: quality,
		Fit:     "cover",
	})
}

// ListProjects returns the portfolio. Administrators see drafts too; if the
// privileged read fails the list degrades to the public view instead of
// erroring the page.
func (s *Service) ListProjects(ctx context.Context, sess session.Session) ([]cms.Project, error) {
	if sess.IsAdministrator() {
		projects, err := s.clientFor(sess).ListProjects(ctx, cms.Query{Sort: "-finished_at"})
		if err == nil {
			return projects, nil
		}
		log.Printf("app: privileged project list failed, serving public view: %v", err)
	}
	return s.cms.Anonymous().ListProjects(ctx, cms.Query{
		Filter: cms.Eq("status", cms.StatusPublic),
		Sort:   "-finished_at",
	})
}

// GetProjectBySlug returns a single project. Drafts resolve only for
// administrators; everyone else gets not-found, indistinguishable from a
// slug that never existed.
func (s *Service) GetProjectBySlug(ctx context.Context, sess session.Session, slug string) (cms.Project, error) {
	filter := cms.Eq("slug", slug)
	client := s.cms.Anonymous()
	if sess.IsAdministrator() {
		client = s.clientFor(sess)
	} else {
		filter = cms.And(filter, cms.Eq("status", cms.StatusPublic))
	}
	projects, err := client.ListProjects(ctx, cms.Query{Filter: filter, Limit: 1})
	if err != nil {
		return cms.Project{}, err
	}
	if len(projects) == 0 {
		return cms.Project{}, cms.ErrNotFound
	}
	return projects[0], nil
}

// TimelineYear groups finished public projects for the timeline page.
type TimelineYear struct {
	Year     string
	Projects []cms.Project
}

// Timeline lists public projects with a finish date, newest first, grouped
// by year.
func (s *Service) Timeline(ctx context.Context) ([]TimelineYear, error) {
	projects, err := s.cms.Anonymous().ListProjects(ctx, cms.Query{
		Filter: cms.And(
			cms.Eq("status", cms.StatusPublic),
			cms.NotNull("finished_at"),
		),
		Sort:  "-finished_at",
		Limit: -1,
	})
	if err != nil {
		return nil, err
	}

	var years []TimelineYear
	for _, project := range projects {
		year := finishYear(project)
		if year == "" {
			continue
		}
		if len(years) == 0 || years[len(years)-1].Year != year {
			years = append(years, TimelineYear{Year: year})
		}
		last := &years[len(years)-1]
		last.Projects = append(last.Projects, project)
	}
	return years, nil
}

func finishYear(p cms.Project) string {
	if p.FinishedAt == nil || len(*p.FinishedAt) < 4 {
		return ""
	}
	return (*p.FinishedAt)[:4]
}

// ListPatterns returns the pattern library for a signed-in user.
func (s *Service) ListPatterns(ctx context.Context, sess session.Session) ([]cms.Pattern, error) {
	return s.clientFor(sess).ListPatterns(ctx, cms.Query{Sort: "-date_created"})
}

// GetPatternBySlug returns a single pattern for a signed-in user.
func (s *Service) GetPatternBySlug(ctx context.Context, sess session.Session, slug string) (cms.Pattern, error) {
	patterns, err := s.clientFor(sess).ListPatterns(ctx, cms.Query{
		Filter: cms.Eq("slug", slug),
		Limit:  1,
	})
	if err != nil {
		return cms.Pattern{}, err
	}
	if len(patterns) == 0 {
		return cms.Pattern{}, cms.ErrNotFound
	}
	return patterns[0], nil
}

// SearchPatterns runs a full-text search. When the engine is down the query
// falls back to the CMS's own filter search using the caller's credentials;
// formatting and total counts are unavailable in that mode.
func (s *Service) SearchPatterns(ctx context.Context, sess session.Session, q search.Query) (search.Response, error) {
	resp, err := s.search.Search(q)
	if err == nil {
		return resp, nil
	}
	if !errors.Is(err, search.ErrUnavailable) {
		return search.Response{}, err
	}

	patterns, err := s.clientFor(sess).ListPatterns(ctx, cms.Query{
		Search: q.Text,
		Limit:  int(q.Limit),
		Offset: int(q.Offset),
	})
	if err != nil {
		return search.Response{}, err
	}

	hits := make([]search.Hit, 0, len(patterns))
	for _, p := range patterns {
		hit := search.Hit{
			ID:          p.ID,
			Title:       p.Title,
			Slug:        p.Slug,
			Visibility:  p.Visibility,
			DateCreated: p.DateCreated,
		}
		if p.Notes != nil {
			hit.Notes = *p.Notes
		}
		if p.PDFFile != nil {
			hit.PDFFile = *p.PDFFile
		}
		hits = append(hits, hit)
	}
	return search.Response{
		Hits:               hits,
		EstimatedTotalHits: int64(len(hits)),
		Query:              q.Text,
	}, nil
}

// Upload is an incoming multipart file.
type Upload struct {
	Filename string
	Content  io.Reader
}

// ProjectDraft is the create-form payload.
type ProjectDraft struct {
	Title       string
	Description string
	FinishedAt  string
	Status      string
}

// CreateProject uploads the optional hero image, derives the slug from the
// title and creates the record. If the create fails after the upload
// succeeded, the uploaded file is deleted so the CMS does not accumulate
// orphans.
func (s *Service) CreateProject(ctx context.Context, sess session.Session, draft ProjectDraft, hero *Upload) (cms.Project, error) {
	slug := util.Slugify(draft.Title)
	if slug == "" {
		return cms.Project{}, domainError(http.StatusUnprocessableEntity, "INVALID_TITLE", "Title must contain at least one letter or digit")
	}
	status := draft.Status
	if status != cms.StatusPublic {
		status = cms.StatusDraft
	}

	client := s.clientFor(sess)
	input := cms.ProjectInput{
		Title:       draft.Title,
		Slug:        slug,
		Description: draft.Description,
		Status:      status,
	}
	if draft.FinishedAt != "" {
		finished := draft.FinishedAt
		input.FinishedAt = &finished
	}

	var uploadedID string
	if hero != nil {
		file, err := client.UploadFile(ctx, hero.Filename, hero.Content)
		if err != nil {
			return cms.Project{}, err
		}
		uploadedID = file.ID
		input.HeroImage = &uploadedID
	}

	project, err := client.CreateProject(ctx, input)
	if err != nil {
		s.discardUpload(client, uploadedID)
		return cms.Project{}, err
	}
	return project, nil
}

// PatternDraft is the create-form payload.
type PatternDraft struct {
	Title      string
	Notes      string
	Visibility string
}

// CreatePattern uploads the PDF, derives the slug from the title and
// creates the record, then pushes the new pattern to the search index in
// the background.
func (s *Service) CreatePattern(ctx context.Context, sess session.Session, draft PatternDraft, pdf *Upload) (cms.Pattern, error) {
	slug := util.Slugify(draft.Title)
	if slug == "" {
		return cms.Pattern{}, domainError(http.StatusUnprocessableEntity, "INVALID_TITLE", "Title must contain at least one letter or digit")
	}
	visibility := draft.Visibility
	if visibility != cms.VisibilityFriendsFamily {
		visibility = cms.VisibilityPrivate
	}

	client := s.clientFor(sess)
	input := cms.PatternInput{
		Title:      draft.Title,
		Slug:       slug,
		Visibility: visibility,
	}
	if draft.Notes != "" {
		notes := draft.Notes
		input.Notes = &notes
	}

	var uploadedID string
	if pdf != nil {
		file, err := client.UploadFile(ctx, pdf.Filename, pdf.Content)
		if err != nil {
			return cms.Pattern{}, err
		}
		uploadedID = file.ID
		input.PDFFile = &uploadedID
	}

	pattern, err := client.CreatePattern(ctx, input)
	if err != nil {
		s.discardUpload(client, uploadedID)
		return cms.Pattern{}, err
	}

	record := search.PatternRecord{
		ID:          pattern.ID,
		Title:       pattern.Title,
		Slug:        pattern.Slug,
		Visibility:  pattern.Visibility,
		DateCreated: pattern.DateCreated,
	}
	if pattern.Notes != nil {
		record.Notes = *pattern.Notes
	}
	if pattern.PDFFile != nil {
		record.PDFFile = *pattern.PDFFile
	}
	s.search.IndexPattern(record)

	return pattern, nil
}

// discardUpload is the compensating delete for a create that failed after
// its file upload succeeded. Best effort, on a fresh context because the
// request's context may already be done.
func (s *Service) discardUpload(client *cms.Client, fileID string) {
	if fileID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.DeleteFile(ctx, fileID); err != nil {
		log.Printf("app: discard orphaned upload %s: %v", fileID, err)
	}
}

// PublishProject flips a draft to public.
func (s *Service) PublishProject(ctx context.Context, sess session.Session, id string) error {
	return s.clientFor(sess).UpdateProjectStatus(ctx, id, cms.StatusPublic)
}

func (s *Service) DeleteProject(ctx context.Context, sess session.Session, id string) error {
	return s.clientFor(sess).DeleteProject(ctx, id)
}

// DeletePattern removes the record and schedules the index entry's removal.
func (s *Service) DeletePattern(ctx context.Context, sess session.Session, id string) error {
	if err := s.clientFor(sess).DeletePattern(ctx, id); err != nil {
		return err
	}
	s.search.DeletePattern(id)
	return nil
}

// PatternDownload is a streamed PDF ready to be copied to the response.
type PatternDownload struct {
	Body        io.ReadCloser
	ContentType string
	Filename    string
}

// DownloadPattern streams the pattern's PDF for a signed-in user.
func (s *Service) DownloadPattern(ctx context.Context, sess session.Session, slug string) (PatternDownload, error) {
	pattern, err := s.GetPatternBySlug(ctx, sess, slug)
	if err != nil {
		return PatternDownload{}, err
	}
	if pattern.PDFFile == nil || *pattern.PDFFile == "" {
		return PatternDownload{}, cms.ErrNotFound
	}

	body, contentType, err := s.clientFor(sess).FetchAsset(ctx, *pattern.PDFFile)
	if err != nil {
		return PatternDownload{}, err
	}
	if contentType == "" {
		contentType = "application/pdf"
	}
	return PatternDownload{
		Body:        body,
		ContentType: contentType,
		Filename:    pattern.Slug + ".pdf",
	}, nil
}

// ParseSearchQuery builds the engine query from request parameters with the
// site's fixed highlight and crop configuration.
func ParseSearchQuery(text, limitStr, offsetStr string) search.Query {
	q := search.Query{
		Text:       strings.TrimSpace(text),
		Limit:      20,
		Highlight:  []string{"title", "notes", "content"},
		Crop:       []string{"content", "notes"},
		CropLength: 200,
	}
	// The limit is forwarded to the engine as given; only absent or
	// unparseable values fall back to the default.
	if limit, err := strconv.ParseInt(limitStr, 10, 64); err == nil && limit > 0 {
		q.Limit = limit
	}
	if offset, err := strconv.ParseInt(offsetStr, 10, 64); err == nil && offset > 0 {
		q.Offset = offset
	}
	return q
}
