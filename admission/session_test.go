package admission

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, *Store) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewAuthenticator(store, []byte("test-secret")), store
}

func TestAuthenticateSessionHappyPath(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	token, err := auth.IssueSession("agent-1", []string{"tools:call"}, nil, time.Hour)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	principal, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal == nil {
		t.Fatal("expected a principal")
	}
	if principal.Type != PrincipalSession || principal.Subject != "agent-1" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if len(principal.Scopes) != 1 || principal.Scopes[0] != "tools:call" {
		t.Fatalf("unexpected scopes: %v", principal.Scopes)
	}
}

func TestAuthenticateRevokedSessionFails(t *testing.T) {
	auth, store := newTestAuthenticator(t)
	token, err := auth.IssueSession("agent-2", nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	if err := store.RevokeSessionsForSubject("agent-2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	principal, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal != nil {
		t.Fatalf("expected revoked session to be rejected, got %+v", principal)
	}
}

func TestAuthenticateExpiredSessionFails(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	token, err := auth.IssueSession("agent-3", nil, nil, -time.Minute)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	principal, err := auth.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal != nil {
		t.Fatalf("expected expired session to be rejected, got %+v", principal)
	}
}

func TestAuthenticateAPIKeyHappyPath(t *testing.T) {
	auth, store := newTestAuthenticator(t)
	secret, err := GenerateAPIKeySecret()
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	rpm := 30
	if _, err := store.CreateAPIKey("key-1", secret, "test key", []string{"tools:call"}, &rpm, nil); err != nil {
		t.Fatalf("create api key: %v", err)
	}

	principal, err := auth.Authenticate(secret)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal == nil || principal.Type != PrincipalAPIKey || principal.Subject != "key-1" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if principal.RateLimitRPM == nil || *principal.RateLimitRPM != 30 {
		t.Fatalf("expected rpm override 30, got %+v", principal.RateLimitRPM)
	}
}

func TestAuthenticateRevokedAPIKeyFails(t *testing.T) {
	auth, store := newTestAuthenticator(t)
	secret, _ := GenerateAPIKeySecret()
	store.CreateAPIKey("key-2", secret, "", nil, nil, nil)
	if err := store.RevokeAPIKey("key-2"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	principal, err := auth.Authenticate(secret)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal != nil {
		t.Fatalf("expected revoked key to be rejected, got %+v", principal)
	}
}

func TestAuthenticateUnknownTokenFails(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	principal, err := auth.Authenticate("not-a-real-token")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal != nil {
		t.Fatalf("expected unknown token to be rejected, got %+v", principal)
	}
}
