package cms

import (
	"encoding/json"
	"fmt"
)

const (
	StatusDraft  = "draft"
	StatusPublic = "public"

	VisibilityPrivate       = "private"
	VisibilityFriendsFamily = "friends_family"
)

// Project mirrors the projects collection owned by the CMS.
type Project struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	Description string  `json:"description"`
	FinishedAt  *string `json:"finished_at"`
	HeroImage   *string `json:"hero_image"`
	DateCreated string  `json:"date_created"`
	DateUpdated string  `json:"date_updated"`
}

// Pattern mirrors the patterns collection owned by the CMS.
type Pattern struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	Visibility  string  `json:"visibility"`
	Notes       *string `json:"notes"`
	PDFFile     *string `json:"pdf_file"`
	DateCreated string  `json:"date_created"`
	DateUpdated string  `json:"date_updated"`
}

type ProjectInput struct {
	Title       string  `json:"title"`
	Slug        string  `json:"slug"`
	Description string  `json:"description,omitempty"`
	FinishedAt  *string `json:"finished_at,omitempty"`
	Status      string  `json:"status"`
	HeroImage   *string `json:"hero_image,omitempty"`
}

type PatternInput struct {
	Title      string  `json:"title"`
	Slug       string  `json:"slug"`
	Notes      *string `json:"notes,omitempty"`
	Visibility string  `json:"visibility"`
	PDFFile    *string `json:"pdf_file,omitempty"`
}

// TokenPair is what the CMS auth endpoints hand back.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Expires      int64  `json:"expires"`
}

// RoleRef decodes a Directus role field, which arrives either as a plain
// id string or as an expanded object with a name.
type RoleRef struct {
	Name string
}

func (r *RoleRef) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		r.Name = asString
		return nil
	}
	var asObject struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &asObject); err != nil {
		return fmt.Errorf("decode role: %w", err)
	}
	r.Name = asObject.Name
	return nil
}

// User is the caller's CMS profile.
type User struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FirstName string  `json:"first_name"`
	Role      RoleRef `json:"role"`
}

// DisplayName prefers the first name and falls back to the email address.
func (u User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Email
}

// File is the CMS record returned for an uploaded binary.
type File struct {
	ID string `json:"id"`
}
