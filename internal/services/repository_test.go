package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tunebridge/internal/models"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.ServiceConnection{}, &models.Playlist{}))
	return NewRepository(db)
}

func createTestUser(t *testing.T, repo *Repository) *models.User {
	t.Helper()
	user := &models.User{Username: "alice"}
	require.NoError(t, repo.CreateUser(user))
	return user
}

func strptr(s string) *string { return &s }

func TestConnectionLookup(t *testing.T) {
	repo := openTestRepo(t)
	user := createTestUser(t, repo)

	conn := &models.ServiceConnection{
		UserID:       user.ID,
		ProviderName: "spotify",
		AccessToken:  "tok",
	}
	require.NoError(t, repo.CreateConnection(conn))

	got, err := repo.GetConnection(user.ID, "spotify")
	require.NoError(t, err)
	assert.Equal(t, conn.ID, got.ID)

	_, err = repo.GetConnection(user.ID, "tidal")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpdateConnectionToken(t *testing.T) {
	repo := openTestRepo(t)
	user := createTestUser(t, repo)

	conn := &models.ServiceConnection{
		UserID:       user.ID,
		ProviderName: "spotify",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
	}
	require.NoError(t, repo.CreateConnection(conn))

	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateConnectionToken(conn.ID, "new-access", "new-refresh", expiresAt))

	got, err := repo.GetConnectionByID(conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-access", string(got.AccessToken))
	assert.Equal(t, "new-refresh", string(got.RefreshToken))
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, expiresAt, *got.ExpiresAt, time.Second)
}

func TestUpdateConnectionTokenKeepsRefreshWhenNotRotated(t *testing.T) {
	repo := openTestRepo(t)
	user := createTestUser(t, repo)

	conn := &models.ServiceConnection{
		UserID:       user.ID,
		ProviderName: "spotify",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
	}
	require.NoError(t, repo.CreateConnection(conn))

	require.NoError(t, repo.UpdateConnectionToken(conn.ID, "new-access", "", time.Now().Add(time.Hour)))

	got, err := repo.GetConnectionByID(conn.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-access", string(got.AccessToken))
	assert.Equal(t, "old-refresh", string(got.RefreshToken))
}

func TestUpdateConnectionTokenMissingConnection(t *testing.T) {
	repo := openTestRepo(t)
	err := repo.UpdateConnectionToken(9999, "a", "b", time.Now())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestLinkPlaylistIsWriteOnce(t *testing.T) {
	repo := openTestRepo(t)
	user := createTestUser(t, repo)

	playlist := &models.Playlist{UserID: user.ID, Name: "Road Trip"}
	require.NoError(t, repo.CreatePlaylist(playlist))

	require.NoError(t, repo.LinkPlaylist(playlist.ID, "spotify", "remote-1"))

	got, err := repo.GetPlaylistByID(playlist.ID)
	require.NoError(t, err)
	assert.True(t, got.Linked())
	assert.Equal(t, models.SyncStatusLinked, got.SyncStatus)

	err = repo.LinkPlaylist(playlist.ID, "spotify", "remote-2")
	require.Error(t, err, "relinking must be rejected")

	got, err = repo.GetPlaylistByID(playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote-1", *got.RemoteID)
}

func TestSetSyncOutcome(t *testing.T) {
	repo := openTestRepo(t)
	user := createTestUser(t, repo)

	playlist := &models.Playlist{UserID: user.ID, Name: "Road Trip"}
	require.NoError(t, repo.CreatePlaylist(playlist))

	// Failure leaves last_synced_at untouched.
	require.NoError(t, repo.SetSyncOutcome(playlist.ID, models.SyncStatusSyncFailed, nil))
	got, err := repo.GetPlaylistByID(playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSyncFailed, got.SyncStatus)
	assert.Nil(t, got.LastSyncedAt)

	// Success stamps it.
	syncedAt := time.Now().UTC()
	require.NoError(t, repo.SetSyncOutcome(playlist.ID, models.SyncStatusSynced, &syncedAt))
	got, err = repo.GetPlaylistByID(playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	require.NotNil(t, got.LastSyncedAt)
	assert.WithinDuration(t, syncedAt, *got.LastSyncedAt, time.Second)
}

func TestGetSyncDuePlaylists(t *testing.T) {
	repo := openTestRepo(t)
	user := createTestUser(t, repo)
	staleness := 24 * time.Hour

	mk := func(name string, linked bool, lastSynced *time.Time) *models.Playlist {
		p := &models.Playlist{UserID: user.ID, Name: name, LastSyncedAt: lastSynced}
		if linked {
			p.RemoteProvider = strptr("spotify")
			p.RemoteID = strptr("remote-" + name)
			p.SyncStatus = models.SyncStatusLinked
		}
		require.NoError(t, repo.CreatePlaylist(p))
		return p
	}

	stale := time.Now().Add(-2 * staleness)
	fresh := time.Now().Add(-time.Hour)

	neverSynced := mk("never", true, nil)
	staleSynced := mk("stale", true, &stale)
	mk("fresh", true, &fresh)
	mk("unlinked", false, nil)

	deleted := mk("deleted", true, nil)
	require.NoError(t, repo.DeletePlaylist(deleted.ID))

	due, err := repo.GetSyncDuePlaylists(staleness)
	require.NoError(t, err)

	ids := make([]int64, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []int64{neverSynced.ID, staleSynced.ID}, ids)
}

func TestPurgeDeletedBefore(t *testing.T) {
	repo := openTestRepo(t)
	user := createTestUser(t, repo)

	keep := &models.Playlist{UserID: user.ID, Name: "keep"}
	oldDeleted := &models.Playlist{UserID: user.ID, Name: "old"}
	newDeleted := &models.Playlist{UserID: user.ID, Name: "new"}
	require.NoError(t, repo.CreatePlaylist(keep))
	require.NoError(t, repo.CreatePlaylist(oldDeleted))
	require.NoError(t, repo.CreatePlaylist(newDeleted))

	require.NoError(t, repo.DeletePlaylist(oldDeleted.ID))
	require.NoError(t, repo.DeletePlaylist(newDeleted.ID))

	// Age the first deletion past the cutoff.
	aged := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, repo.DB().Unscoped().Model(&models.Playlist{}).
		Where("id = ?", oldDeleted.ID).Update("deleted_at", aged).Error)

	purged, err := repo.PurgeDeletedBefore(time.Now().Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	var remaining int64
	require.NoError(t, repo.DB().Unscoped().Model(&models.Playlist{}).Count(&remaining).Error)
	assert.Equal(t, int64(2), remaining)
}
