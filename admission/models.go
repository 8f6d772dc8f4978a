package admission

import "time"

// APIKey is the persisted record behind a long-lived bearer credential, per
// §4.6. Only the SHA-256 hash of the raw secret is ever stored; the raw
// value is shown to the operator once at creation time and discarded.
type APIKey struct {
	ID          string `gorm:"primaryKey"`
	SecretHash  string `gorm:"uniqueIndex;not null"`
	Label       string
	Scopes      string
	RPMOverride *int
	Revoked     bool `gorm:"not null;default:false"`
	ExpiresAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session is the persisted side of a short-lived JWT bearer credential. The
// JWT itself carries the claims; the row keyed by its "jti" claim is what
// lets a still-unexpired token be revoked early.
type Session struct {
	ID          string `gorm:"primaryKey"` // jti
	SubjectID   string `gorm:"index;not null"`
	Scopes      string
	RPMOverride *int
	Revoked     bool `gorm:"not null;default:false"`
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
