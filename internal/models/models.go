package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SyncStatus records where a playlist sits in its sync lifecycle.
type SyncStatus string

const (
	SyncStatusUnlinked   SyncStatus = "unlinked"
	SyncStatusLinked     SyncStatus = "linked"
	SyncStatusSyncing    SyncStatus = "syncing"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusSyncFailed SyncStatus = "sync_failed"
)

// User represents the users table
type User struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	APIKey    uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"api_key"`
	Username  string    `gorm:"size:255;uniqueIndex;not null" json:"username"`
	Email     string    `gorm:"size:255" json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate sets the API key before creating a user
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.APIKey == uuid.Nil {
		u.APIKey = uuid.New()
	}
	return nil
}

// CredentialOverride carries connection-specific provider credentials
// that take precedence over the process-wide configuration.
type CredentialOverride struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// ServiceConnection represents a user's authorization with a streaming
// provider. The token fields are encrypted at rest; the invariant that
// expires_at always describes the stored access_token is maintained by
// updating the three token columns in a single statement (see
// Repository.UpdateConnectionToken).
type ServiceConnection struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64           `gorm:"index:idx_connections_user_provider,unique;not null" json:"user_id"`
	ProviderName   string          `gorm:"size:50;index:idx_connections_user_provider,unique;not null" json:"provider_name"`
	ExternalUserID string          `gorm:"size:255" json:"external_user_id"`
	AccessToken    EncryptedString `gorm:"size:1024;not null" json:"-"`
	RefreshToken   EncryptedString `gorm:"size:1024" json:"-"`
	ExpiresAt      *time.Time      `json:"expires_at"`
	Credentials    EncryptedString `gorm:"size:2048" json:"-"` // JSON-encoded CredentialOverride
	Market         string          `gorm:"size:2" json:"market"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Relationships
	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (ServiceConnection) TableName() string {
	return "service_connections"
}

// CredentialOverride decodes the encrypted credentials column. Returns
// nil when no override is stored.
func (c *ServiceConnection) CredentialOverride() (*CredentialOverride, error) {
	if c.Credentials == "" {
		return nil, nil
	}
	var o CredentialOverride
	if err := json.Unmarshal([]byte(c.Credentials), &o); err != nil {
		return nil, fmt.Errorf("malformed credential override: %w", err)
	}
	return &o, nil
}

// TrackRef is one entry in a playlist's local track list. A ref with
// an empty URI has not been resolved against its provider yet; the
// artist/title fields carry the request until resolution fills the
// URI in.
type TrackRef struct {
	URI      string `json:"uri,omitempty"`
	Provider string `json:"provider"`
	Artist   string `json:"artist,omitempty"`
	Title    string `json:"title,omitempty"`
	Album    string `json:"album,omitempty"`
	Version  string `json:"version,omitempty"`
}

// TrackList stores a playlist's ordered local tracks as a jsonb column.
type TrackList []TrackRef

// Value implements driver.Valuer
func (t TrackList) Value() (driver.Value, error) {
	if t == nil {
		t = TrackList{}
	}
	return json.Marshal(t)
}

// Scan implements sql.Scanner
func (t *TrackList) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*t = TrackList{}
		return nil
	case []byte:
		return json.Unmarshal(v, t)
	case string:
		return json.Unmarshal([]byte(v), t)
	default:
		return fmt.Errorf("cannot scan %T into TrackList", value)
	}
}

// URIsForProvider returns the ordered track URIs whose provider
// matches the given name.
func (t TrackList) URIsForProvider(provider string) []string {
	uris := make([]string, 0, len(t))
	for _, ref := range t {
		if ref.URI != "" && ref.Provider == provider {
			uris = append(uris, ref.URI)
		}
	}
	return uris
}

// Playlist represents the playlists table. RemoteProvider and RemoteID
// are set once when the playlist is linked and never change afterwards;
// relinking creates a new link.
type Playlist struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	APIKey         uuid.UUID      `gorm:"type:uuid;uniqueIndex" json:"api_key"`
	UserID         int64          `gorm:"index;not null" json:"user_id"`
	Name           string         `gorm:"size:255;not null" json:"name"`
	Description    string         `json:"description"`
	Public         bool           `gorm:"default:false" json:"public"`
	Tracks         TrackList      `gorm:"type:jsonb" json:"tracks"`
	RemoteProvider *string        `gorm:"size:50;index" json:"remote_provider"`
	RemoteID       *string        `gorm:"size:255" json:"remote_id"`
	LastSyncedAt   *time.Time     `json:"last_synced_at"`
	SyncStatus     SyncStatus     `gorm:"size:20;default:'unlinked'" json:"sync_status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (Playlist) TableName() string {
	return "playlists"
}

// BeforeCreate sets the API key before creating a playlist
func (p *Playlist) BeforeCreate(tx *gorm.DB) error {
	if p.APIKey == uuid.Nil {
		p.APIKey = uuid.New()
	}
	return nil
}

// Linked reports whether the playlist has a remote counterpart.
func (p *Playlist) Linked() bool {
	return p.RemoteProvider != nil && *p.RemoteProvider != "" &&
		p.RemoteID != nil && *p.RemoteID != ""
}
