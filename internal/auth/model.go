package auth

import (
	"time"

	"property-portal/internal/identity"
)

// CredentialRecord is the row the auth core reads from the user store.
type CredentialRecord struct {
	ID                  int64
	Email               string
	PasswordHash        string
	Role                identity.Role
	Name                string
	CompanyName         string
	EmailVerified       bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
}

func (c CredentialRecord) Identity() Identity {
	return Identity{
		UserID:      c.ID,
		Email:       c.Email,
		Role:        c.Role,
		Name:        c.Name,
		CompanyName: c.CompanyName,
	}
}

func (c CredentialRecord) Summary() UserSummary {
	return UserSummary{
		ID:            c.ID,
		Email:         c.Email,
		Role:          c.Role,
		Name:          c.Name,
		CompanyName:   c.CompanyName,
		EmailVerified: c.EmailVerified,
	}
}

// UserSummary is the public view of a credential record.
type UserSummary struct {
	ID            int64         `json:"id"`
	Email         string        `json:"email"`
	Role          identity.Role `json:"role"`
	Name          string        `json:"name,omitempty"`
	CompanyName   string        `json:"companyName,omitempty"`
	EmailVerified bool          `json:"emailVerified"`
}

// LoginResult is returned by a successful login or refresh.
type LoginResult struct {
	User         UserSummary `json:"user"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
	ExpiresIn    int64       `json:"expiresIn"`
}

// RequestMeta is the request context recorded with audit events.
type RequestMeta struct {
	IP        string
	UserAgent string
}
