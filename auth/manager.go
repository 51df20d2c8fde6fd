// Package auth implements users, sessions, tokens, API keys, rate limiting,
// and account lockout for the gateway.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/hydrogen-io/hydrogen/logging"
)

const (
	ServiceName = "auth"

	apiKeyPrefix = "ak_"

	msgInvalidCredentials = "Invalid credentials"
	msgAccountLocked      = "Account locked"
	msgAccountDisabled    = "Account disabled"
	msgRateLimitExceeded  = "Rate limit exceeded"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrDuplicateUser   = errors.New("username is already taken")
	ErrTokenNotFound   = errors.New("token not found")
	ErrSessionNotFound = errors.New("session not found")
)

type rateWindow struct {
	count       int
	windowStart time.Time
}

// Manager is the authentication and session service.  All state is guarded
// by a single mutex, including the audit ring buffer.
type Manager struct {
	logger log.Logger

	tokenExpiration   time.Duration
	sessionTimeout    time.Duration
	maxFailedAttempts int
	lockoutDuration   time.Duration
	rateLimit         int
	sweepInterval     time.Duration
	bootstrapAdmin    bool

	lock          sync.Mutex
	users         map[string]*UserInfo
	usernameIndex map[string]string
	emailIndex    map[string]string
	passwordHash  map[string]string
	sessions      map[string]*Session
	tokens        map[string]*Token
	apiKeys       map[string]*APIKey
	failedLogins  map[string]int
	rateWindows   map[string]*rateWindow
	audit         []string
	auditNext     int
	auditFull     bool

	shutdown chan struct{}
	done     chan struct{}
	started  bool
	runOnce  sync.Once
	stopOnce sync.Once
}

// NewManager constructs an auth Manager from a set of Options, which may be nil.
func NewManager(o *Options) *Manager {
	return &Manager{
		logger:            o.logger(),
		tokenExpiration:   o.tokenExpiration(),
		sessionTimeout:    o.sessionTimeout(),
		maxFailedAttempts: o.maxFailedAttempts(),
		lockoutDuration:   o.lockoutDuration(),
		rateLimit:         o.rateLimit(),
		sweepInterval:     o.sweepInterval(),
		bootstrapAdmin:    !o.disableDefaultAdmin(),
		users:             make(map[string]*UserInfo),
		usernameIndex:     make(map[string]string),
		emailIndex:        make(map[string]string),
		passwordHash:      make(map[string]string),
		sessions:          make(map[string]*Session),
		tokens:            make(map[string]*Token),
		apiKeys:           make(map[string]*APIKey),
		failedLogins:      make(map[string]int),
		rateWindows:       make(map[string]*rateWindow),
		audit:             make([]string, DefaultAuditLogSize),
		shutdown:          make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Name implements service.Service.
func (m *Manager) Name() string { return ServiceName }

// Dependencies implements service.Service.  The auth service has none.
func (m *Manager) Dependencies() []string { return nil }

// Initialize creates the bootstrap admin account when the user store is
// empty.  The account is flagged MustChangePassword.
func (m *Manager) Initialize(context.Context) error {
	m.lock.Lock()
	empty := len(m.users) == 0
	m.lock.Unlock()

	if empty && m.bootstrapAdmin {
		admin, err := m.CreateUser("admin", "admin@localhost", "admin123!", RoleSuperAdmin)
		if err != nil {
			return err
		}

		m.lock.Lock()
		admin.MustChangePassword = true
		m.lock.Unlock()

		m.logger.Log(
			level.Key(), level.WarnValue(),
			logging.MessageKey(), "bootstrap admin account created; rotate its password immediately",
			"username", "admin",
		)
	}

	return nil
}

// Start launches the background session sweeper.
func (m *Manager) Start(context.Context) error {
	m.runOnce.Do(func() {
		m.lock.Lock()
		m.started = true
		m.lock.Unlock()
		go m.sweepLoop()
	})

	return nil
}

// Stop halts the background sweeper.  Safe to call on a Manager that was
// never started.
func (m *Manager) Stop(context.Context) error {
	m.stopOnce.Do(func() {
		close(m.shutdown)
	})

	m.lock.Lock()
	started := m.started
	m.lock.Unlock()

	if started {
		<-m.done
	}

	return nil
}

// IsHealthy implements service.Service.
func (m *Manager) IsHealthy() bool { return true }

func (m *Manager) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()

	m.lock.Lock()
	defer m.lock.Unlock()

	for id, session := range m.sessions {
		if now.After(session.ExpiresAt) {
			delete(m.sessions, id)
		}
	}

	for id, window := range m.rateWindows {
		if now.Sub(window.windowStart) >= time.Minute {
			delete(m.rateWindows, id)
		}
	}
}

// randomHex produces n random bytes rendered as 2n hex characters.
func randomHex(n int) string {
	buffer := make([]byte, n)
	if _, err := rand.Read(buffer); err != nil {
		panic(err)
	}

	return hex.EncodeToString(buffer)
}

// CreateUser registers a new user.  The password must satisfy the policy.
func (m *Manager) CreateUser(username, email, password string, role Role) (*UserInfo, error) {
	if len(username) == 0 {
		return nil, errors.New("username must be nonempty")
	}

	if err := CheckPasswordPolicy(password); err != nil {
		return nil, err
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.usernameIndex[username]; ok {
		return nil, ErrDuplicateUser
	}

	user := &UserInfo{
		UserID:    "usr_" + randomHex(8),
		Username:  username,
		Email:     email,
		Role:      role,
		Active:    true,
		CreatedAt: time.Now(),
	}

	m.users[user.UserID] = user
	m.usernameIndex[username] = user.UserID
	if len(email) > 0 {
		m.emailIndex[email] = user.UserID
	}

	m.passwordHash[user.UserID] = hashed
	m.auditf("user %s created with role %s", user.UserID, role)
	return user, nil
}

// allowAttempt enforces the per-identifier rate limit of attempts per minute.
// Must be called with the lock held.
func (m *Manager) allowAttempt(identifier string) bool {
	now := time.Now()
	window, ok := m.rateWindows[identifier]
	if !ok || now.Sub(window.windowStart) >= time.Minute {
		m.rateWindows[identifier] = &rateWindow{count: 1, windowStart: now}
		return true
	}

	window.count++
	return window.count < m.rateLimit
}

// lockedNow tests and lazily clears an expired lockout.  Must be called
// with the lock held.
func lockedNow(user *UserInfo) bool {
	if user.LockedUntil.IsZero() {
		return false
	}

	if time.Now().After(user.LockedUntil) {
		user.LockedUntil = time.Time{}
		return false
	}

	return true
}

// Authenticate verifies credentials and, on success, issues a session and
// token.  Credential failures never return Go errors; the Result carries
// the failure text.  The error text for a missing user matches that for a
// wrong password, to prevent username enumeration.
func (m *Manager) Authenticate(req Request) Result {
	m.lock.Lock()
	defer m.lock.Unlock()

	if !m.allowAttempt(req.Username + "@" + req.RemoteAddress) {
		m.auditf("rate limit exceeded for %s@%s", req.Username, req.RemoteAddress)
		return Result{ErrorMessage: msgRateLimitExceeded}
	}

	userID, ok := m.usernameIndex[req.Username]
	if !ok {
		return Result{ErrorMessage: msgInvalidCredentials}
	}

	user := m.users[userID]
	if lockedNow(user) {
		m.auditf("login rejected for locked user %s", userID)
		return Result{ErrorMessage: msgAccountLocked}
	}

	if !user.Active {
		return Result{ErrorMessage: msgAccountDisabled}
	}

	failKey := req.Username + "@" + req.RemoteAddress
	if !VerifyPassword(req.Password, m.passwordHash[userID]) {
		m.failedLogins[failKey]++
		if m.failedLogins[failKey] >= m.maxFailedAttempts {
			user.LockedUntil = time.Now().Add(m.lockoutDuration)
			m.auditf("user %s locked after %d failed attempts", userID, m.failedLogins[failKey])
		}

		return Result{ErrorMessage: msgInvalidCredentials}
	}

	delete(m.failedLogins, failKey)
	user.LastLoginAt = time.Now()

	session := &Session{
		SessionID:     randomHex(16),
		UserID:        userID,
		RemoteAddress: req.RemoteAddress,
		CreatedAt:     time.Now(),
		LastActivity:  time.Now(),
		ExpiresAt:     time.Now().Add(m.sessionTimeout),
	}
	m.sessions[session.SessionID] = session

	token := &Token{
		Token:     randomHex(16),
		UserID:    userID,
		SessionID: session.SessionID,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(m.tokenExpiration),
	}
	m.tokens[token.Token] = token

	m.auditf("user %s authenticated from %s", userID, req.RemoteAddress)
	userCopy := *user
	return Result{
		Success:   true,
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt,
		SessionID: session.SessionID,
		User:      &userCopy,
	}
}

// ValidateToken resolves a bearer token to its user.  Expired tokens are
// removed on first access.
func (m *Manager) ValidateToken(tokenString string) (*UserInfo, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	token, ok := m.tokens[tokenString]
	if !ok {
		return nil, false
	}

	if time.Now().After(token.ExpiresAt) {
		delete(m.tokens, tokenString)
		return nil, false
	}

	user, ok := m.users[token.UserID]
	if !ok || !user.Active {
		return nil, false
	}

	userCopy := *user
	return &userCopy, true
}

// RefreshToken issues a replacement token and evicts the old one.
func (m *Manager) RefreshToken(oldToken string) (*Token, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	token, ok := m.tokens[oldToken]
	if !ok || time.Now().After(token.ExpiresAt) {
		delete(m.tokens, oldToken)
		return nil, ErrTokenNotFound
	}

	delete(m.tokens, oldToken)
	replacement := &Token{
		Token:     randomHex(16),
		UserID:    token.UserID,
		SessionID: token.SessionID,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(m.tokenExpiration),
	}
	m.tokens[replacement.Token] = replacement

	m.auditf("token refreshed for user %s", token.UserID)
	tokenCopy := *replacement
	return &tokenCopy, nil
}

// RevokeToken removes a token.  Revoking an unknown token is a no-op.
func (m *Manager) RevokeToken(tokenString string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if token, ok := m.tokens[tokenString]; ok {
		m.auditf("token revoked for user %s", token.UserID)
	}

	delete(m.tokens, tokenString)
}

// Logout revokes a token and destroys its session.
func (m *Manager) Logout(tokenString string) {
	m.lock.Lock()
	defer m.lock.Unlock()

	token, ok := m.tokens[tokenString]
	if !ok {
		return
	}

	delete(m.tokens, tokenString)
	delete(m.sessions, token.SessionID)
	m.auditf("user %s logged out", token.UserID)
}

// UpdateSessionActivity extends a session's sliding expiration window.
func (m *Manager) UpdateSessionActivity(sessionID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	session.LastActivity = time.Now()
	session.ExpiresAt = time.Now().Add(m.sessionTimeout)
	return nil
}

// GetSession returns a copy of the session with the given id.
func (m *Manager) GetSession(sessionID string) (*Session, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}

	sessionCopy := *session
	return &sessionCopy, true
}

// IsUserLocked tests whether a user is locked out, lazily clearing an
// expired lockout.
func (m *Manager) IsUserLocked(username string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	userID, ok := m.usernameIndex[username]
	if !ok {
		return false
	}

	return lockedNow(m.users[userID])
}

// HasPermission tests whether a user holds a permission, either through
// their role or an explicit per-user grant.
func (m *Manager) HasPermission(userID, permission string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return false
	}

	if roleGrants(user.Role, permission) {
		return true
	}

	for _, granted := range user.Permissions {
		if granted == permission {
			return true
		}
	}

	return false
}

// GrantPermission adds an explicit permission overlay to a user.
func (m *Manager) GrantPermission(userID, permission string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}

	for _, granted := range user.Permissions {
		if granted == permission {
			return nil
		}
	}

	user.Permissions = append(user.Permissions, permission)
	m.auditf("permission %s granted to user %s", permission, userID)
	return nil
}

// SetUserActive enables or disables a user account.
func (m *Manager) SetUserActive(userID string, active bool) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}

	user.Active = active
	m.auditf("user %s active=%t", userID, active)
	return nil
}

// ChangePassword rotates a user's password after verifying the old one.
func (m *Manager) ChangePassword(userID, oldPassword, newPassword string) error {
	if err := CheckPasswordPolicy(newPassword); err != nil {
		return err
	}

	hashed, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}

	if !VerifyPassword(oldPassword, m.passwordHash[userID]) {
		return errors.New(msgInvalidCredentials)
	}

	m.passwordHash[userID] = hashed
	user.MustChangePassword = false
	m.auditf("password changed for user %s", userID)
	return nil
}

// CreateAPIKey issues a machine credential for a user.
func (m *Manager) CreateAPIKey(userID, description string) (*APIKey, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.users[userID]; !ok {
		return nil, ErrUserNotFound
	}

	key := &APIKey{
		Key:         apiKeyPrefix + randomHex(16),
		UserID:      userID,
		Description: description,
		CreatedAt:   time.Now(),
	}

	m.apiKeys[key.Key] = key
	m.auditf("api key created for user %s", userID)
	keyCopy := *key
	return &keyCopy, nil
}

// ValidateAPIKey resolves an API key to its user.
func (m *Manager) ValidateAPIKey(key string) (*UserInfo, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	record, ok := m.apiKeys[key]
	if !ok {
		return nil, false
	}

	user, ok := m.users[record.UserID]
	if !ok || !user.Active {
		return nil, false
	}

	userCopy := *user
	return &userCopy, true
}

// auditf appends a formatted entry to the bounded audit ring buffer.
// Must be called with the lock held.
func (m *Manager) auditf(format string, args ...interface{}) {
	entry := fmt.Sprintf("%s %s", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
	m.audit[m.auditNext] = entry
	m.auditNext++
	if m.auditNext == len(m.audit) {
		m.auditNext = 0
		m.auditFull = true
	}
}

// AuditLog returns audit entries, oldest first, filtered by a userId
// substring.  An empty filter returns everything retained.
func (m *Manager) AuditLog(userIDFilter string) []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	var ordered []string
	if m.auditFull {
		ordered = append(ordered, m.audit[m.auditNext:]...)
	}

	ordered = append(ordered, m.audit[:m.auditNext]...)

	if len(userIDFilter) == 0 {
		return ordered
	}

	var filtered []string
	for _, entry := range ordered {
		if strings.Contains(entry, userIDFilter) {
			filtered = append(filtered, entry)
		}
	}

	return filtered
}
