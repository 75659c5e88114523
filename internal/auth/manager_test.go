package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
	"github.com/modulpintar/modulpintar-server/internal/userstore"
)

func newTestManager() *Manager {
	return NewManager("test-secret", time.Hour, "root@sekolah.id", "root-password")
}

func TestIssueAndAuthenticate(t *testing.T) {
	m := newTestManager()
	user := &userstore.User{ID: 7, Email: "guru@sekolah.id", Role: userstore.RoleUser}

	token, err := m.IssueToken(user)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	identity, err := m.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if identity.UserID != 7 || identity.Root || identity.Role != userstore.RoleUser {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	m := newTestManager()

	cases := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"malformed", "not-a-token"},
		{"wrong signature", mustToken(t, NewManager("other-secret", time.Hour, "", ""))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Authenticate(tc.token)
			if err == nil {
				t.Fatalf("expected error")
			}
			if apperr.KindOf(err) != apperr.Unauthenticated {
				t.Fatalf("expected unauthenticated kind, got %v", apperr.KindOf(err))
			}
		})
	}
}

func TestAuthenticateExpired(t *testing.T) {
	m := NewManager("test-secret", -time.Minute, "", "")
	token, err := m.IssueToken(&userstore.User{ID: 3, Role: userstore.RoleUser})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	_, err = m.Authenticate(token)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiry error, got %v", err)
	}
}

func TestRootAdminRoundTrip(t *testing.T) {
	m := newTestManager()

	if m.RootLogin("root@sekolah.id", "wrong") != nil {
		t.Fatalf("root login accepted wrong password")
	}
	root := m.RootLogin("Root@Sekolah.ID", "root-password")
	if root == nil {
		t.Fatalf("root login rejected correct credentials")
	}
	if root.ID != userstore.RootAdminID || !root.IsAdmin() {
		t.Fatalf("unexpected root principal %+v", root)
	}

	token, err := m.IssueToken(root)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	identity, err := m.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !identity.Root || identity.UserID != userstore.RootAdminID {
		t.Fatalf("root token decoded to %+v", identity)
	}
}

func TestRootDisabledWithoutEmail(t *testing.T) {
	m := NewManager("test-secret", time.Hour, "", "")
	if m.RootAdmin() != nil {
		t.Fatalf("root admin should be disabled without an email")
	}
	if m.RootLogin("", "") != nil {
		t.Fatalf("root login should fail when disabled")
	}
}

func TestPasswordHashing(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Fatalf("expected rejection of short password")
	}
	hash, err := HashPassword("rahasia-sekali")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "rahasia-sekali") {
		t.Fatalf("correct password rejected")
	}
	if CheckPassword(hash, "salah") {
		t.Fatalf("wrong password accepted")
	}
}

func TestResetTokenSum(t *testing.T) {
	tok, err := NewResetToken()
	if err != nil {
		t.Fatalf("NewResetToken: %v", err)
	}
	if tok == "" {
		t.Fatalf("empty token")
	}
	if SumResetToken(tok) == SumResetToken(tok+"x") {
		t.Fatalf("sums should differ for different tokens")
	}
}

func mustToken(t *testing.T, m *Manager) string {
	t.Helper()
	token, err := m.IssueToken(&userstore.User{ID: 1, Role: userstore.RoleUser})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}
