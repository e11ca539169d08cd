// Package session owns the sign-in flow and the opportunistic refresh of
// the CMS token pair carried inside the signed session cookie.
package session

import (
	"context"
	"errors"
	"log"
	"time"

	"knitfolio/web/internal/auth"
	"knitfolio/web/internal/cms"
	"knitfolio/web/internal/util"
)

// ErrAuthFailed is returned for every sign-in failure; the login form must
// not distinguish unknown users from wrong passwords.
var ErrAuthFailed = errors.New("invalid email or password")

// Session is the per-request identity. It lives entirely inside the signed
// cookie and is passed explicitly through handlers, never held globally.
type Session struct {
	UserID          string
	Name            string
	Role            string
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
	JTI             string
	Err             string
}

// Authenticated reports whether the session grants an identity. A session
// whose refresh failed degrades to anonymous.
func (s Session) Authenticated() bool {
	return s.UserID != "" && s.Err == ""
}

func (s Session) IsAdministrator() bool {
	return s.Authenticated() && s.Role == "Administrator"
}

// Claims converts the session into cookie claims.
func (s Session) Claims() auth.Claims {
	return auth.Claims{
		Sub:          s.UserID,
		Name:         s.Name,
		Role:         s.Role,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		AccessExp:    s.AccessExpiresAt.Unix(),
		JTI:          s.JTI,
		Exp:          s.ExpiresAt.Unix(),
		Err:          s.Err,
	}
}

// FromClaims rebuilds a session from parsed cookie claims.
func FromClaims(claims auth.Claims) Session {
	return Session{
		UserID:          claims.Sub,
		Name:            claims.Name,
		Role:            claims.Role,
		AccessToken:     claims.AccessToken,
		RefreshToken:    claims.RefreshToken,
		AccessExpiresAt: time.Unix(claims.AccessExp, 0),
		ExpiresAt:       time.Unix(claims.Exp, 0),
		JTI:             claims.JTI,
		Err:             claims.Err,
	}
}

// Manager exchanges credentials and refresh tokens with the CMS.
type Manager struct {
	cms       *cms.Gateway
	accessTTL time.Duration
	cookieTTL time.Duration
	now       func() time.Time
}

func NewManager(gateway *cms.Gateway, accessTTL, cookieTTL time.Duration) *Manager {
	return &Manager{
		cms:       gateway,
		accessTTL: accessTTL,
		cookieTTL: cookieTTL,
		now:       time.Now,
	}
}

// Authenticate exchanges credentials for a token pair, then fetches the
// caller's profile with the fresh access token. Either call failing yields
// ErrAuthFailed.
func (m *Manager) Authenticate(ctx context.Context, email, password string) (Session, error) {
	pair, err := m.cms.Anonymous().Login(ctx, email, password)
	if err != nil || pair.AccessToken == "" {
		return Session{}, ErrAuthFailed
	}

	user, err := m.cms.WithToken(pair.AccessToken).Me(ctx)
	if err != nil {
		return Session{}, ErrAuthFailed
	}

	now := m.now()
	return Session{
		UserID:          user.ID,
		Name:            user.DisplayName(),
		Role:            user.Role.Name,
		AccessToken:     pair.AccessToken,
		RefreshToken:    pair.RefreshToken,
		AccessExpiresAt: now.Add(m.accessTTL),
		ExpiresAt:       now.Add(m.cookieTTL),
		JTI:             util.NewID("jti"),
	}, nil
}

// Resolve returns the session ready for use. If the access token has not
// expired it is returned unchanged; otherwise exactly one refresh exchange
// is attempted. A failed refresh marks the session rather than logging the
// caller out, so pages can degrade to their public views. The second return
// reports whether the cookie must be re-issued.
func (m *Manager) Resolve(ctx context.Context, s Session) (Session, bool) {
	if s.UserID == "" || s.Err != "" {
		return s, false
	}
	now := m.now()
	if now.Before(s.AccessExpiresAt) {
		return s, false
	}

	if s.RefreshToken == "" {
		s.Err = auth.ErrRefreshFailed
		return s, true
	}

	pair, err := m.cms.Anonymous().Refresh(ctx, s.RefreshToken)
	if err != nil || pair.AccessToken == "" {
		log.Printf("session: refresh failed for user %s: %v", s.UserID, err)
		s.Err = auth.ErrRefreshFailed
		return s, true
	}

	s.AccessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		s.RefreshToken = pair.RefreshToken
	}
	s.AccessExpiresAt = now.Add(m.accessTTL)
	s.Err = ""
	return s, true
}
