// Package cms is a thin gateway to the external headless CMS that owns all
// entity storage, file storage and credential handling. Every operation is a
// single request/response; the remote service is the source of truth, so
// there are no retries and no local state.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// UpstreamError is any non-success response from the CMS.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cms: upstream status %d", e.Status)
	}
	return fmt.Sprintf("cms: upstream status %d: %s", e.Status, e.Message)
}

var ErrNotFound = errors.New("cms: not found")

// Gateway is bound to a CMS base URL and produces per-request clients.
type Gateway struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Gateway {
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *Gateway) BaseURL() string {
	return g.baseURL
}

// Anonymous returns a client without credentials; reads are limited to what
// the CMS exposes publicly.
func (g *Gateway) Anonymous() *Client {
	return &Client{gw: g}
}

// WithToken returns a client that sends the given bearer token.
func (g *Gateway) WithToken(token string) *Client {
	return &Client{gw: g, token: token}
}

// ImageTransform holds pass-through asset query parameters; sizing is done
// by the remote asset service, never locally.
type ImageTransform struct {
	Width   int
	Height  int
	Quality int
	Fit     string
}

// AssetURL builds a display/download URL for a stored file.
func (g *Gateway) AssetURL(fileID string, t *ImageTransform) string {
	if fileID == "" {
		return ""
	}
	base := g.baseURL + "/assets/" + fileID
	if t == nil {
		return base
	}
	params := url.Values{}
	if t.Width > 0 {
		params.Set("width", strconv.Itoa(t.Width))
	}
	if t.Height > 0 {
		params.Set("height", strconv.Itoa(t.Height))
	}
	if t.Quality > 0 {
		params.Set("quality", strconv.Itoa(t.Quality))
	}
	if t.Fit != "" {
		params.Set("fit", t.Fit)
	}
	if encoded := params.Encode(); encoded != "" {
		return base + "?" + encoded
	}
	return base
}

// Client performs CMS calls with (or without) a bearer token.
type Client struct {
	gw    *Gateway
	token string
}

// Query is a filter/sort/limit specification for collection reads, encoded
// the way the CMS expects it.
type Query struct {
	Filter map[string]any
	Sort   string
	Limit  int // 0 = server default, -1 = unbounded
	Offset int
	Search string
	Fields string
}

func (q Query) values() (url.Values, error) {
	params := url.Values{}
	if q.Filter != nil {
		encoded, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("encode filter: %w", err)
		}
		params.Set("filter", string(encoded))
	}
	if q.Sort != "" {
		params.Set("sort", q.Sort)
	}
	if q.Limit != 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Search != "" {
		params.Set("search", q.Search)
	}
	if q.Fields != "" {
		params.Set("fields", q.Fields)
	}
	return params, nil
}

// Eq builds the CMS's field-equals filter clause.
func Eq(field string, value any) map[string]any {
	return map[string]any{field: map[string]any{"_eq": value}}
}

// And combines filter clauses.
func And(clauses ...map[string]any) map[string]any {
	return map[string]any{"_and": clauses}
}

// NotNull builds the CMS's field-is-set filter clause.
func NotNull(field string) map[string]any {
	return map[string]any{field: map[string]any{"_nnull": true}}
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, email, password string) (TokenPair, error) {
	var pair TokenPair
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &pair); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Refresh exchanges a refresh token for a fresh token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	var pair TokenPair
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, body, &pair); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Me fetches the caller's profile including the role name.
func (c *Client) Me(ctx context.Context) (User, error) {
	var user User
	params := url.Values{}
	params.Set("fields", "*,role.name")
	if err := c.do(ctx, http.MethodGet, "/users/me", params, nil, &user); err != nil {
		return User{}, err
	}
	return user, nil
}

func (c *Client) ListProjects(ctx context.Context, q Query) ([]Project, error) {
	var projects []Project
	params, err := q.values()
	if err != nil {
		return nil, err
	}
	if err := c.do(ctx, http.MethodGet, "/items/projects", params, nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (c *Client) CreateProject(ctx context.Context, input ProjectInput) (Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodPost, "/items/projects", nil, input, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

func (c *Client) UpdateProjectStatus(ctx context.Context, id, status string) error {
	body := map[string]string{"status": status}
	return c.do(ctx, http.MethodPatch, "/items/projects/"+url.PathEscape(id), nil, body, nil)
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/items/projects/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) ListPatterns(ctx context.Context, q Query) ([]Pattern, error) {
	var patterns []Pattern
	params, err := q.values()
	if err != nil {
		return nil, err
	}
	if err := c.do(ctx, http.MethodGet, "/items/patterns", params, nil, &patterns); err != nil {
		return nil, err
	}
	return patterns, nil
}

func (c *Client) CreatePattern(ctx context.Context, input PatternInput) (Pattern, error) {
	var pattern Pattern
	if err := c.do(ctx, http.MethodPost, "/items/patterns", nil, input, &pattern); err != nil {
		return Pattern{}, err
	}
	return pattern, nil
}

func (c *Client) DeletePattern(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/items/patterns/"+url.PathEscape(id), nil, nil, nil)
}

// UploadFile streams a multipart upload and returns the stored file id.
func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader) (File, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return File{}, fmt.Errorf("cms: build upload: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return File{}, fmt.Errorf("cms: read upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return File{}, fmt.Errorf("cms: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gw.baseURL+"/files", &buf)
	if err != nil {
		return File{}, fmt.Errorf("cms: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.gw.httpc.Do(req)
	if err != nil {
		return File{}, fmt.Errorf("cms: upload file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return File{}, upstreamError(resp)
	}

	var envelope struct {
		Data File `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return File{}, fmt.Errorf("cms: decode upload response: %w", err)
	}
	return envelope.Data, nil
}

// DeleteFile removes a stored file; used to compensate a failed create after
// a successful upload.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/files/"+url.PathEscape(id), nil, nil, nil)
}

// FetchAsset streams a stored file. The caller must close the reader.
func (c *Client) FetchAsset(ctx context.Context, fileID string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gw.baseURL+"/assets/"+url.PathEscape(fileID), nil)
	if err != nil {
		return nil, "", fmt.Errorf("cms: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.gw.httpc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("cms: fetch asset: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, "", upstreamError(resp)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	endpoint := c.gw.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("cms: encode body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("cms: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.gw.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("cms: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upstreamError(resp)
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("cms: decode response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("cms: decode response data: %w", err)
	}
	return nil
}

func upstreamError(resp *http.Response) error {
	var payload struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	message := ""
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err == nil && len(payload.Errors) > 0 {
		message = payload.Errors[0].Message
	}
	return &UpstreamError{Status: resp.StatusCode, Message: message}
}
