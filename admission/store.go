package admission

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the gorm-backed api-key/session table described in §4.6 and
// persisted to `<auth>.db` per §6. Gorm is used here rather than the plain
// database/sql handle the ledger and behavior stores use: admission lookups
// are simple single-row reads/writes with no hash-chaining invariant to
// hand-manage, and gorm's AutoMigrate keeps the two small tables in sync
// with the struct definitions above as fields are added.
type Store struct {
	db *gorm.DB
}

// OpenStore opens (creating and migrating if necessary) the admission
// database at path.
func OpenStore(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("admission: store path must be configured")
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("admission: open store: %w", err)
	}
	if err := db.AutoMigrate(&APIKey{}, &Session{}); err != nil {
		return nil, fmt.Errorf("admission: migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateAPIKey persists a new API key record. secret is the raw value
// returned to the operator; only its hash is stored.
func (s *Store) CreateAPIKey(id, secret, label string, scopes []string, rpmOverride *int, expiresAt *time.Time) (*APIKey, error) {
	key := &APIKey{
		ID:          id,
		SecretHash:  HashAPIKeySecret(secret),
		Label:       label,
		Scopes:      strings.Join(scopes, " "),
		RPMOverride: rpmOverride,
		ExpiresAt:   expiresAt,
	}
	if err := s.db.Create(key).Error; err != nil {
		return nil, fmt.Errorf("admission: create api key: %w", err)
	}
	return key, nil
}

// RevokeAPIKey marks id as revoked; subsequent Authenticate calls will
// reject it immediately.
func (s *Store) RevokeAPIKey(id string) error {
	res := s.db.Model(&APIKey{}).Where("id = ?", id).Update("revoked", true)
	if res.Error != nil {
		return fmt.Errorf("admission: revoke api key: %w", res.Error)
	}
	return nil
}

// CreateSession persists the revocable row backing a freshly issued JWT.
func (s *Store) CreateSession(jti, subjectID string, scopes []string, rpmOverride *int, expiresAt time.Time) error {
	session := &Session{
		ID:          jti,
		SubjectID:   subjectID,
		Scopes:      strings.Join(scopes, " "),
		RPMOverride: rpmOverride,
		ExpiresAt:   expiresAt,
	}
	if err := s.db.Create(session).Error; err != nil {
		return fmt.Errorf("admission: create session: %w", err)
	}
	return nil
}

// RevokeSession marks jti as revoked ahead of its natural expiry.
func (s *Store) RevokeSession(jti string) error {
	res := s.db.Model(&Session{}).Where("id = ?", jti).Update("revoked", true)
	if res.Error != nil {
		return fmt.Errorf("admission: revoke session: %w", res.Error)
	}
	return nil
}

// RevokeSessionsForSubject revokes every session belonging to subjectID —
// the operator-facing "sign this agent out everywhere" operation.
func (s *Store) RevokeSessionsForSubject(subjectID string) error {
	res := s.db.Model(&Session{}).Where("subject_id = ?", subjectID).Update("revoked", true)
	if res.Error != nil {
		return fmt.Errorf("admission: revoke sessions for subject: %w", res.Error)
	}
	return nil
}

func (s *Store) findSession(jti string) (*Session, error) {
	var session Session
	err := s.db.Where("id = ?", jti).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("admission: find session: %w", err)
	}
	return &session, nil
}

func (s *Store) findAPIKeyByHash(hash string) (*APIKey, error) {
	var key APIKey
	err := s.db.Where("secret_hash = ?", hash).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("admission: find api key: %w", err)
	}
	return &key, nil
}
