package storage

import "time"

// User is the identity record. Email is stored lower-cased.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	IsVerified   bool
	IsDeleted    bool

	DeletionRequestedAt  *time.Time
	DeletionConfirmedAt  *time.Time
	DeletionScheduledFor *time.Time
	DeletionTokenHash    string
	DeletionTokenExpires *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClearDeletion resets every deletion field.
func (u *User) ClearDeletion() {
	u.DeletionRequestedAt = nil
	u.DeletionConfirmedAt = nil
	u.DeletionScheduledFor = nil
	u.DeletionTokenHash = ""
	u.DeletionTokenExpires = nil
}

// RefreshToken is one issued refresh credential. FamilyID is shared by every
// rotation descending from the same login.
type RefreshToken struct {
	ID         string
	UserID     string
	TokenHash  string
	FamilyID   string
	ParentID   string
	ExpiresAt  time.Time
	IsRevoked  bool
	RevokedAt  *time.Time
	CreatedAt  time.Time
	DeviceInfo string
	IPAddress  string
}

// Live reports whether the token can still be exchanged at now.
func (t *RefreshToken) Live(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiresAt)
}

// APIKey is one machine credential. OwnerID is empty for system keys.
type APIKey struct {
	ID         string
	OwnerID    string
	KeyHash    string
	KeyPrefix  string
	Label      string
	Scopes     []string
	IsActive   bool
	ExpiresAt  *time.Time
	CreatedAt  time.Time
	RotatedAt  *time.Time
	LastUsedAt *time.Time

	IsDeleted      bool
	DeletedAt      *time.Time
	DeletedBy      string
	DeletionReason string
}
