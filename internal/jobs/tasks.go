// Package jobs defines the background task types and their handlers:
// per-playlist synchronization, the periodic dispatcher that finds
// sync-due playlists, and the purge of long-deleted playlists.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypePlaylistSync  = "playlist:sync"
	TypePlaylistBuild = "playlist:build"
	TypeSyncDispatch  = "sync:dispatch"
	TypePlaylistPurge = "playlist:purge"
)

// Queue names
const (
	QueueSync        = "sync"
	QueueMaintenance = "maintenance"
)

// PlaylistSyncPayload represents the payload for playlist sync jobs
type PlaylistSyncPayload struct {
	PlaylistID int64 `json:"playlist_id"`
}

// PlaylistPurgePayload represents the payload for the purge job
type PlaylistPurgePayload struct {
	OlderThanDays int `json:"older_than_days"`
}

// NewPlaylistSyncTask creates a sync task for one playlist.
func NewPlaylistSyncTask(playlistID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(PlaylistSyncPayload{PlaylistID: playlistID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePlaylistSync, payload, asynq.Queue(QueueSync)), nil
}

// PlaylistBuildPayload represents the payload for playlist build jobs
type PlaylistBuildPayload struct {
	PlaylistID int64 `json:"playlist_id"`
}

// NewPlaylistBuildTask creates a build task: resolve the playlist's
// unresolved tracks, link a remote counterpart, and push.
func NewPlaylistBuildTask(playlistID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(PlaylistBuildPayload{PlaylistID: playlistID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePlaylistBuild, payload, asynq.Queue(QueueSync)), nil
}

// NewSyncDispatchTask creates the dispatcher task that fans out sync
// tasks for every due playlist.
func NewSyncDispatchTask() *asynq.Task {
	return asynq.NewTask(TypeSyncDispatch, nil, asynq.Queue(QueueMaintenance))
}

// NewPlaylistPurgeTask creates the purge task for playlists
// soft-deleted longer than olderThanDays ago.
func NewPlaylistPurgeTask(olderThanDays int) (*asynq.Task, error) {
	payload, err := json.Marshal(PlaylistPurgePayload{OlderThanDays: olderThanDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePlaylistPurge, payload, asynq.Queue(QueueMaintenance)), nil
}
