// Package auth is the credential codec and the access-control special cases
// around the root admin. Tokens are compact HMAC-SHA256 JWTs carrying the
// subject id, a role claim, and an expiry.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/userstore"
)

// RootSubject is the reserved token subject that resolves to the
// configuration-supplied root admin without a storage lookup.
const RootSubject = "root"

const issuerName = "modulpintar"

// Claims is the token payload: registered claims plus a role.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the decoded, verified content of a credential. Resolution to a
// stored user (when Root is false) is the caller's job.
type Identity struct {
	UserID int64
	Root   bool
	Role   userstore.Role
}

// Manager issues and validates session tokens and checks root credentials.
type Manager struct {
	secret       []byte
	ttl          time.Duration
	rootEmail    string
	rootPassword string
}

// NewManager creates a Manager with the provided signing secret and the root
// admin credentials. rootEmail may be empty to disable the root login.
func NewManager(secret string, ttl time.Duration, rootEmail, rootPassword string) *Manager {
	if secret == "" {
		panic("auth manager requires non-empty secret")
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Manager{
		secret:       []byte(secret),
		ttl:          ttl,
		rootEmail:    strings.TrimSpace(strings.ToLower(rootEmail)),
		rootPassword: rootPassword,
	}
}

// IssueToken signs a session token for the user. The root admin gets the
// reserved subject instead of a storage id.
func (m *Manager) IssueToken(u *userstore.User) (string, error) {
	if u == nil {
		return "", errors.New("token requires a user")
	}
	subject := strconv.FormatInt(u.ID, 10)
	if u.ID == userstore.RootAdminID {
		subject = RootSubject
	}
	now := time.Now()
	claims := Claims{
		Role: string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies a raw token and decodes its identity. Every failure
// maps to the unauthenticated kind with a reason a human can act on.
func (m *Manager) Authenticate(raw string) (Identity, error) {
	if strings.TrimSpace(raw) == "" {
		return Identity{}, apperr.New(apperr.Unauthenticated, "missing credential")
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithIssuer(issuerName), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, apperr.Wrap(apperr.Unauthenticated, "credential expired", err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Identity{}, apperr.Wrap(apperr.Unauthenticated, "malformed credential", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return Identity{}, apperr.Wrap(apperr.Unauthenticated, "credential signature mismatch", err)
	default:
		return Identity{}, apperr.Wrap(apperr.Unauthenticated, "invalid credential", err)
	}

	if claims.Subject == RootSubject && claims.Role == string(userstore.RoleAdmin) {
		return Identity{UserID: userstore.RootAdminID, Root: true, Role: userstore.RoleAdmin}, nil
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, apperr.New(apperr.Unauthenticated, "invalid credential subject")
	}
	role := userstore.Role(claims.Role)
	if role == "" {
		role = userstore.RoleUser
	}
	return Identity{UserID: id, Role: role}, nil
}

// RootLogin checks the supplied credentials against the configured root
// admin and returns the non-persisted root principal on a match.
func (m *Manager) RootLogin(email, password string) *userstore.User {
	email = strings.TrimSpace(strings.ToLower(email))
	if m.rootEmail == "" || email != m.rootEmail {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(m.rootPassword)) != 1 {
		return nil
	}
	return m.RootAdmin()
}

// RootAdmin returns the non-persisted root principal.
func (m *Manager) RootAdmin() *userstore.User {
	if m.rootEmail == "" {
		return nil
	}
	return &userstore.User{ID: userstore.RootAdminID, Email: m.rootEmail, Role: userstore.RoleAdmin}
}

// HashPassword derives a bcrypt hash from the plaintext password.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", apperr.New(apperr.Invalid, "password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// NewResetToken mints a random password-reset token. The raw value goes to
// the user by email; only its sum is stored.
func NewResetToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// SumResetToken returns the hex SHA-256 sum stored alongside the user.
func SumResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
