package authcore

import (
	"time"

	"github.com/MrEthical07/authcore/deletion"
	"github.com/MrEthical07/authcore/storage"
)

// TokenPair is returned by Login and Refresh. RefreshToken is shown to the
// client once; only its hash is stored.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
	SessionID        string    `json:"session_id"`
}

// Principal is the caller identity established by ValidateAccess.
type Principal struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RegisterRequest carries the fields accepted by Register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// Account is the public view of a user record.
type Account struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Username   string    `json:"username"`
	IsActive   bool      `json:"is_active"`
	IsVerified bool      `json:"is_verified"`
	CreatedAt  time.Time `json:"created_at"`
}

func accountFromUser(u *storage.User) *Account {
	return &Account{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		IsActive:   u.IsActive,
		IsVerified: u.IsVerified,
		CreatedAt:  u.CreatedAt,
	}
}

// Session is one live refresh lineage of a user.
type Session struct {
	ID         string    `json:"id"`
	FamilyID   string    `json:"family_id"`
	DeviceInfo string    `json:"device_info,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// CreateAPIKeyRequest carries the fields accepted by CreateAPIKey.
type CreateAPIKeyRequest struct {
	Label     string     `json:"label"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// APIKey is the public view of an API key. The secret is never included.
type APIKey struct {
	ID             string     `json:"id"`
	OwnerID        string     `json:"owner_id,omitempty"`
	Prefix         string     `json:"prefix"`
	Label          string     `json:"label"`
	Scopes         []string   `json:"scopes"`
	IsActive       bool       `json:"is_active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	RotatedAt      *time.Time `json:"rotated_at,omitempty"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	DeletedBy      string     `json:"deleted_by,omitempty"`
	DeletionReason string     `json:"deletion_reason,omitempty"`
}

// IssuedAPIKey pairs a freshly generated raw key with its record. Key cannot
// be recovered later.
type IssuedAPIKey struct {
	Key    string `json:"key"`
	APIKey APIKey `json:"api_key"`
}

func apiKeyFromRecord(k *storage.APIKey) APIKey {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return APIKey{
		ID:             k.ID,
		OwnerID:        k.OwnerID,
		Prefix:         k.KeyPrefix,
		Label:          k.Label,
		Scopes:         scopes,
		IsActive:       k.IsActive,
		ExpiresAt:      k.ExpiresAt,
		CreatedAt:      k.CreatedAt,
		RotatedAt:      k.RotatedAt,
		LastUsedAt:     k.LastUsedAt,
		IsDeleted:      k.IsDeleted,
		DeletedAt:      k.DeletedAt,
		DeletedBy:      k.DeletedBy,
		DeletionReason: k.DeletionReason,
	}
}

// DeletionTicket is returned by RequestAccountDeletion. Token must be sent
// back to ConfirmAccountDeletion before ExpiresAt.
type DeletionTicket struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DeletionStatus reports where an account is in the deletion workflow.
type DeletionStatus struct {
	UserID       string         `json:"user_id"`
	State        deletion.State `json:"state"`
	RequestedAt  *time.Time     `json:"requested_at,omitempty"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`
	ScheduledFor *time.Time     `json:"scheduled_for,omitempty"`
}

// SweepResult summarises one ExecuteScheduledDeletions run.
type SweepResult struct {
	Deleted []string          `json:"deleted"`
	Failed  map[string]string `json:"failed,omitempty"`
}
