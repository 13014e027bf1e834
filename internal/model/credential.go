package model

import "time"

// Credential represents one issued API key. The raw secret is never
// stored; only an argon2id hash and a short non-secret prefix used as a
// lookup index are persisted.
type Credential struct {
	ID         string     `json:"id" db:"id"`
	SecretHash string     `json:"-" db:"secret_hash"` // argon2id PHC string, never expose
	Prefix     string     `json:"key_prefix" db:"key_prefix"`
	OwnerID    string     `json:"owner_id" db:"owner_id"`
	Label      string     `json:"label" db:"label"`
	Scopes     ScopeSet   `json:"scopes" db:"scopes"`
	Active     bool       `json:"is_active" db:"is_active"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// ExpiredAt reports whether the credential is expired at the given
// instant. The boundary is inclusive: a credential expiring exactly now
// is already expired.
func (c *Credential) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Masked returns the display form shown after creation: the non-secret
// prefix plus an ellipsis, never the secret or its hash.
func (c *Credential) Masked() string {
	return c.Prefix + "..."
}
