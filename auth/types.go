package auth

import "time"

// UserInfo is a registered user.
type UserInfo struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	Role        Role      `json:"role"`
	Permissions []string  `json:"permissions,omitempty"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
	LastLoginAt time.Time `json:"lastLoginAt,omitempty"`
	LockedUntil time.Time `json:"lockedUntil,omitempty"`

	// MustChangePassword is set on bootstrap accounts whose initial
	// credentials are well known.
	MustChangePassword bool `json:"mustChangePassword,omitempty"`
}

// Token is an issued bearer token.
type Token struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session is an authenticated presence of a user from a specific client,
// bounded by a sliding expiration window.
type Session struct {
	SessionID     string    `json:"sessionId"`
	UserID        string    `json:"userId"`
	RemoteAddress string    `json:"remoteAddress,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastActivity  time.Time `json:"lastActivity"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// APIKey is a long-lived machine credential.
type APIKey struct {
	Key         string    `json:"key"`
	UserID      string    `json:"userId"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Request is a single authentication attempt.
type Request struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	RemoteAddress string `json:"remoteAddress,omitempty"`
}

// Result is the outcome of an authentication attempt.  Credential failures
// are reported in the result, never as Go errors.
type Result struct {
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Token        string    `json:"token,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	User         *UserInfo `json:"user,omitempty"`
}
