package app

import (
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// pageTemplates maps page name to its parsed layout+content pair.
var pageTemplates = map[string]*template.Template{}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

func init() {
	funcMap := template.FuncMap{
		"safeHTML": safeHTML,
		"formatDate": func(value string) string {
			for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
				if parsed, err := time.Parse(layout, value); err == nil {
					return parsed.Format("January 2, 2006")
				}
			}
			return value
		},
		"excerpt": excerpt,
	}

	pages := []string{
		"home", "projects", "project", "timeline",
		"patterns", "pattern", "search", "login",
		"admin_project_new", "admin_pattern_new",
		"error", "notfound",
	}
	for _, page := range pages {
		pageTemplates[page] = template.Must(
			template.New("layout.html").Funcs(funcMap).ParseFS(
				templateFS,
				"templates/layout.html",
				"templates/"+page+".html",
			),
		)
	}
}

// safeHTML marks trusted rich-text (CMS descriptions, engine-highlighted
// snippets) for rendering without escaping.
func safeHTML(s any) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

// excerpt strips tags and truncates rich text for list cards. Truncation
// counts runes so a multibyte character is never split.
func excerpt(value string, max int) string {
	plain := strings.TrimSpace(tagPattern.ReplaceAllString(value, " "))
	plain = strings.Join(strings.Fields(plain), " ")
	if max <= 0 {
		return plain
	}
	runes := []rune(plain)
	if len(runes) <= max {
		return plain
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}

func (s *HTTPServer) render(w http.ResponseWriter, status int, page string, data any) {
	tmpl, ok := pageTemplates[page]
	if !ok {
		http.Error(w, fmt.Sprintf("missing template %q", page), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "layout.html", data); err != nil {
		// Headers are already sent; nothing to do but log.
		log.Printf("app: render %s: %v", page, err)
	}
}
