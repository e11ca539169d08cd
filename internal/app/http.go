package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"knitfolio/web/internal/access"
	"knitfolio/web/internal/cms"
	"knitfolio/web/internal/session"
	"knitfolio/web/internal/util"
)

const sessionCookieName = "knitfolio_session"

type HTTPServer struct {
	service *Service
}

func NewHTTPServer(service *Service) *HTTPServer {
	return &HTTPServer{service: service}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	sess, changed := s.service.ResolveSession(r.Context(), sessionToken(r))
	if changed {
		s.setSessionCookie(w, sess)
	}

	// Coarse gate: everything under /admin needs an administrator before
	// any handler runs. Mutation handlers check again on their own.
	if strings.HasPrefix(r.URL.Path, "/admin") {
		switch access.Check(subjectOf(sess), access.RequireAdministrator) {
		case access.DenyAnonymous:
			redirectToLogin(w, r)
			return
		case access.DenyRole:
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
	}

	if strings.HasPrefix(r.URL.Path, "/api/") {
		s.handleAPI(w, r, sess)
		return
	}
	s.handlePage(w, r, sess)
}

func (s *HTTPServer) handleAPI(w http.ResponseWriter, r *http.Request, sess session.Session) {
	parts := splitPath(r.URL.Path)

	if r.Method == http.MethodGet && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		if !sess.Authenticated() {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "name": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"name":          sess.Name,
			"role":          sess.Role,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := ParseSearchQuery(
			r.URL.Query().Get("q"),
			r.URL.Query().Get("limit"),
			r.URL.Query().Get("offset"),
		)
		resp, err := s.service.SearchPatterns(r.Context(), sess, query)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SEARCH_FAILED", "Search failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// /api/projects/{id}
	if len(parts) == 3 && parts[1] == "projects" && r.Method == http.MethodDelete {
		if !s.authorizeJSON(w, sess, access.RequireAdministrator) {
			return
		}
		if err := s.service.DeleteProject(r.Context(), sess, parts[2]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	// /api/projects/{id}/publish
	if len(parts) == 4 && parts[1] == "projects" && parts[3] == "publish" && r.Method == http.MethodPost {
		if !s.authorizeJSON(w, sess, access.RequireAdministrator) {
			return
		}
		if err := s.service.PublishProject(r.Context(), sess, parts[2]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	// /api/patterns/{id}
	if len(parts) == 3 && parts[1] == "patterns" && r.Method == http.MethodDelete {
		if !s.authorizeJSON(w, sess, access.RequireAdministrator) {
			return
		}
		if err := s.service.DeletePattern(r.Context(), sess, parts[2]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}

	// /api/download-pattern/{slug}
	if len(parts) == 3 && parts[1] == "download-pattern" && r.Method == http.MethodGet {
		if !s.authorizeJSON(w, sess, access.RequireSignIn) {
			return
		}
		download, err := s.service.DownloadPattern(r.Context(), sess, parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		defer download.Body.Close()
		w.Header().Set("Content-Type", download.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Filename))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, download.Body); err != nil {
			log.Printf("app: stream pattern download: %v", err)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// authorizeJSON enforces a requirement on an API route. Anonymous callers
// get 401, signed-in callers without the role get 403; either way nothing
// else runs.
func (s *HTTPServer) authorizeJSON(w http.ResponseWriter, sess session.Session, req access.Requirement) bool {
	switch access.Check(subjectOf(sess), req) {
	case access.DenyAnonymous:
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	case access.DenyRole:
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return false
	}
	return true
}

func subjectOf(sess session.Session) access.Subject {
	return access.Subject{Authenticated: sess.Authenticated(), Role: sess.Role}
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Path
	if r.URL.RawQuery != "" {
		next += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, "/login?next="+url.QueryEscape(next), http.StatusSeeOther)
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	return next
}

func (s *HTTPServer) setSessionCookie(w http.ResponseWriter, sess session.Session) {
	if sess.UserID == "" {
		s.clearSessionCookie(w)
		return
	}
	token, err := s.service.IssueToken(sess)
	if err != nil {
		log.Printf("app: issue session cookie: %v", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.service.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.service.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("X-Content-Type-Options", "nosniff")
		writer.Header().Set("Referrer-Policy", "same-origin")

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, nil
	}
	if errors.Is(err, cms.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, session.ErrAuthFailed) {
		return http.StatusUnauthorized, "AUTH_FAILED", "Invalid email or password", nil
	}
	var upstream *cms.UpstreamError
	if errors.As(err, &upstream) {
		if upstream.Status == http.StatusNotFound {
			return http.StatusNotFound, "NOT_FOUND", "Not found", nil
		}
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Upstream service error", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
