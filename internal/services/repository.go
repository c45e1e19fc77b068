package services

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"tunebridge/internal/models"
)

// Repository handles database operations for models
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository instance
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

// DB exposes the underlying handle for transactional callers.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// User operations
func (r *Repository) CreateUser(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *Repository) GetUserByID(id int64) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) GetUserByUsername(username string) (*models.User, error) {
	var user models.User
	err := r.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Connection operations
func (r *Repository) CreateConnection(conn *models.ServiceConnection) error {
	return r.db.Create(conn).Error
}

func (r *Repository) GetConnectionByID(id int64) (*models.ServiceConnection, error) {
	var conn models.ServiceConnection
	err := r.db.First(&conn, id).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// GetConnection fetches a user's authorization with a provider.
func (r *Repository) GetConnection(userID int64, provider string) (*models.ServiceConnection, error) {
	var conn models.ServiceConnection
	err := r.db.Where("user_id = ? AND provider_name = ?", userID, provider).First(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *Repository) DeleteConnection(id int64) error {
	return r.db.Delete(&models.ServiceConnection{}, id).Error
}

// UpdateConnectionToken replaces the connection's token triple in a
// single statement so expires_at always describes the stored
// access_token. An empty refreshToken keeps the existing one (the
// provider did not rotate it).
func (r *Repository) UpdateConnectionToken(id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	updates := map[string]any{
		"access_token": models.EncryptedString(accessToken),
		"expires_at":   expiresAt,
	}
	if refreshToken != "" {
		updates["refresh_token"] = models.EncryptedString(refreshToken)
	}

	result := r.db.Model(&models.ServiceConnection{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update connection token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Playlist operations
func (r *Repository) CreatePlaylist(playlist *models.Playlist) error {
	return r.db.Create(playlist).Error
}

func (r *Repository) GetPlaylistByID(id int64) (*models.Playlist, error) {
	var playlist models.Playlist
	err := r.db.Preload("User").First(&playlist, id).Error
	if err != nil {
		return nil, err
	}
	return &playlist, nil
}

func (r *Repository) UpdatePlaylist(playlist *models.Playlist) error {
	return r.db.Save(playlist).Error
}

// DeletePlaylist soft-deletes; purge removes the row for real later.
func (r *Repository) DeletePlaylist(id int64) error {
	return r.db.Delete(&models.Playlist{}, id).Error
}

// GetPlaylistsWithUser retrieves playlists with user information
func (r *Repository) GetPlaylistsWithUser(limit, offset int) ([]models.Playlist, int64, error) {
	var playlists []models.Playlist
	var total int64

	err := r.db.Model(&models.Playlist{}).Count(&total).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count playlists: %w", err)
	}

	err = r.db.Offset(offset).Limit(limit).
		Preload("User").
		Find(&playlists).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch playlists: %w", err)
	}

	return playlists, total, nil
}

// LinkPlaylist records the playlist's remote counterpart. The link is
// write-once: a playlist that already has a remote provider keeps it.
func (r *Repository) LinkPlaylist(id int64, provider, remoteID string) error {
	result := r.db.Model(&models.Playlist{}).
		Where("id = ? AND remote_provider IS NULL", id).
		Updates(map[string]any{
			"remote_provider": provider,
			"remote_id":       remoteID,
			"sync_status":     models.SyncStatusLinked,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to link playlist: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("playlist %d not found or already linked", id)
	}
	return nil
}

// SetSyncStatus updates only the playlist's sync status.
func (r *Repository) SetSyncStatus(id int64, status models.SyncStatus) error {
	return r.db.Model(&models.Playlist{}).Where("id = ?", id).
		Update("sync_status", status).Error
}

// SetSyncOutcome records a terminal sync result. syncedAt is written
// only on success.
func (r *Repository) SetSyncOutcome(id int64, status models.SyncStatus, syncedAt *time.Time) error {
	updates := map[string]any{"sync_status": status}
	if syncedAt != nil {
		updates["last_synced_at"] = *syncedAt
	}
	return r.db.Model(&models.Playlist{}).Where("id = ?", id).Updates(updates).Error
}

// GetSyncDuePlaylists returns linked playlists that have never synced
// or last synced at or before the staleness horizon. Soft-deleted
// playlists never qualify.
func (r *Repository) GetSyncDuePlaylists(staleness time.Duration) ([]models.Playlist, error) {
	horizon := time.Now().Add(-staleness)
	var playlists []models.Playlist
	err := r.db.
		Where("remote_provider IS NOT NULL AND remote_id IS NOT NULL").
		Where("last_synced_at IS NULL OR last_synced_at <= ?", horizon).
		Find(&playlists).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sync-due playlists: %w", err)
	}
	return playlists, nil
}

// PurgeDeletedBefore permanently removes playlists soft-deleted at or
// before the cutoff. Returns the number of rows removed.
func (r *Repository) PurgeDeletedBefore(cutoff time.Time) (int64, error) {
	result := r.db.Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at <= ?", cutoff).
		Delete(&models.Playlist{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge deleted playlists: %w", result.Error)
	}
	return result.RowsAffected, nil
}
