package admission

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"toolwarden/observability"
)

// PrincipalType distinguishes the two bearer-credential kinds admitted by
// §4.6.
type PrincipalType string

const (
	PrincipalSession PrincipalType = "session"
	PrincipalAPIKey  PrincipalType = "api_key"
)

// Principal is what a successful Authenticate call hands to the relay: a
// subject id to key the rate limiter and ledger records on, plus an
// optional per-subject rate override.
type Principal struct {
	Type         PrincipalType
	Subject      string
	Scopes       []string
	RateLimitRPM *int
}

type sessionClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies session JWTs and looks up API keys,
// implementing the bearer admission contract from §4.6: try the token as a
// session id first, then fall back to hashing it and matching an API key.
type Authenticator struct {
	store  *Store
	secret []byte
}

// NewAuthenticator builds an Authenticator backed by store, signing session
// JWTs with secret (an HMAC key — mirrors the teacher's gateway bearer
// scheme, generalized from a single static token to per-session claims).
func NewAuthenticator(store *Store, secret []byte) *Authenticator {
	return &Authenticator{store: store, secret: secret}
}

// IssueSession mints a signed JWT for subjectID, persists the revocable
// session row keyed by its jti, and returns the bearer token string.
func (a *Authenticator) IssueSession(subjectID string, scopes []string, rpmOverride *int, ttl time.Duration) (string, error) {
	jti := uuid.NewString()
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := sessionClaims{
		Scope: strings.Join(scopes, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("admission: sign session token: %w", err)
	}
	if err := a.store.CreateSession(jti, subjectID, scopes, rpmOverride, expiresAt); err != nil {
		return "", err
	}
	return signed, nil
}

// Authenticate implements §4.6's bearer lookup: session first, API key
// second. It returns (nil, nil) — not an error — when token admits nothing,
// so the caller can surface a uniform 401.
func (a *Authenticator) Authenticate(token string) (*Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		observability.Admission().RecordAuthOutcome("rejected")
		return nil, nil
	}

	if principal, err := a.authenticateSession(token); err != nil {
		return nil, err
	} else if principal != nil {
		observability.Admission().RecordAuthOutcome("session")
		return principal, nil
	}

	principal, err := a.authenticateAPIKey(token)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		observability.Admission().RecordAuthOutcome("rejected")
		return nil, nil
	}
	observability.Admission().RecordAuthOutcome("api_key")
	return principal, nil
}

func (a *Authenticator) authenticateSession(token string) (*Principal, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		// Not a valid session token — fall through to the API-key path
		// rather than treating this as an error.
		return nil, nil
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || claims.ID == "" {
		return nil, nil
	}

	session, err := a.store.findSession(claims.ID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Revoked || time.Now().After(session.ExpiresAt) {
		return nil, nil
	}

	return &Principal{
		Type:         PrincipalSession,
		Subject:      session.SubjectID,
		Scopes:       splitScopes(session.Scopes),
		RateLimitRPM: session.RPMOverride,
	}, nil
}

func (a *Authenticator) authenticateAPIKey(token string) (*Principal, error) {
	hash := HashAPIKeySecret(token)
	key, err := a.store.findAPIKeyByHash(hash)
	if err != nil {
		return nil, err
	}
	if key == nil || key.Revoked || (key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt)) {
		return nil, nil
	}
	return &Principal{
		Type:         PrincipalAPIKey,
		Subject:      key.ID,
		Scopes:       splitScopes(key.Scopes),
		RateLimitRPM: key.RPMOverride,
	}, nil
}

func splitScopes(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Fields(s)
}
