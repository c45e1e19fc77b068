package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"tunebridge/internal/catalog"
	"tunebridge/internal/errs"
	"tunebridge/internal/lock"
	"tunebridge/internal/logging"
	"tunebridge/internal/metrics"
	"tunebridge/internal/models"
	"tunebridge/internal/services"
)

// Outcome is the terminal state of one sync run. Every run ends in
// exactly one of these; none of them crashes the worker.
type Outcome string

const (
	OutcomeSynced       Outcome = "synced"
	OutcomeLocked       Outcome = "locked"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeNotLinked    Outcome = "not_linked"
	OutcomeUnsupported  Outcome = "unsupported_provider"
	OutcomeNoConnection Outcome = "no_connection"
	OutcomeFailed       Outcome = "failed"
)

// Catalog is the provider surface the sync and build jobs need.
type Catalog interface {
	SearchTracks(ctx context.Context, artist, title, album string, limit int) ([]catalog.Candidate, error)
	CreatePlaylist(ctx context.Context, ownerID, name string, opts catalog.CreatePlaylistOpts) (string, error)
	AddTracks(ctx context.Context, playlistID string, uris []string) error
	ReplaceTracks(ctx context.Context, playlistID string, uris []string) error
}

// CatalogFactory builds a provider client for one connection's token
// and market.
type CatalogFactory func(accessToken, market string) Catalog

// TokenSource hands out valid access tokens for connections.
type TokenSource interface {
	GetValidToken(ctx context.Context, conn *models.ServiceConnection) (string, error)
}

// Dispatcher enqueues tasks; *asynq.Client satisfies it.
type Dispatcher interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// SyncService runs playlist synchronization: a one-way full replace of
// the remote playlist with the local track list, guarded by a
// per-playlist distributed mutex.
type SyncService struct {
	repo       *services.Repository
	tokens     TokenSource
	newCatalog CatalogFactory
	rdb        redis.Cmdable
	log        *logging.Logger
	metrics    *metrics.Metrics

	// newResolver is optional; without it the build job pushes only
	// tracks that already carry a URI.
	newResolver ResolverFactory

	lockTTL   time.Duration
	staleness time.Duration
}

// NewSyncService wires the sync engine.
func NewSyncService(
	repo *services.Repository,
	tokens TokenSource,
	newCatalog CatalogFactory,
	rdb redis.Cmdable,
	lockTTL, staleness time.Duration,
	log *logging.Logger,
	m *metrics.Metrics,
) *SyncService {
	return &SyncService{
		repo:       repo,
		tokens:     tokens,
		newCatalog: newCatalog,
		rdb:        rdb,
		log:        log,
		metrics:    m,
		lockTTL:    lockTTL,
		staleness:  staleness,
	}
}

func syncLockName(playlistID int64) string {
	return fmt.Sprintf("playlist_sync:%d", playlistID)
}

// SyncPlaylist performs one guarded sync run. The error return is
// reserved for conditions worth an asynq retry (lock store or database
// unreachable); everything else lands in a terminal outcome.
func (s *SyncService) SyncPlaylist(ctx context.Context, playlistID int64) (Outcome, error) {
	mu := lock.NewMutex(s.rdb, syncLockName(playlistID), s.lockTTL)
	if err := mu.Acquire(ctx); err != nil {
		if errs.IsLockHeld(err) {
			s.log.Zerolog().Info().
				Int64("playlist_id", playlistID).
				Msg("sync already in progress, aborting")
			s.metrics.RecordSyncRun(string(OutcomeLocked))
			return OutcomeLocked, nil
		}
		return OutcomeFailed, err
	}
	defer mu.Release(ctx)

	outcome, err := s.run(ctx, playlistID)
	s.metrics.RecordSyncRun(string(outcome))
	return outcome, err
}

func (s *SyncService) run(ctx context.Context, playlistID int64) (Outcome, error) {
	playlist, err := s.repo.GetPlaylistByID(playlistID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Zerolog().Warn().
				Int64("playlist_id", playlistID).
				Msg("sync failed: playlist not found")
			return OutcomeNotFound, nil
		}
		return OutcomeFailed, err
	}

	if !playlist.Linked() {
		s.log.Zerolog().Info().
			Int64("playlist_id", playlistID).
			Msg("sync skipped: playlist not linked to a remote provider")
		return OutcomeNotLinked, nil
	}

	provider := *playlist.RemoteProvider
	if provider != catalog.Provider {
		s.log.Zerolog().Info().
			Int64("playlist_id", playlistID).
			Str("provider", provider).
			Msg("sync skipped: provider not supported")
		return OutcomeUnsupported, nil
	}

	conn, err := s.repo.GetConnection(playlist.UserID, provider)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Zerolog().Warn().
				Int64("playlist_id", playlistID).
				Int64("user_id", playlist.UserID).
				Str("provider", provider).
				Msg("sync failed: user has no connection for provider")
			return s.fail(playlistID, nil, OutcomeNoConnection), nil
		}
		return OutcomeFailed, err
	}

	startedAt := time.Now().UTC()
	if err := s.repo.SetSyncStatus(playlistID, models.SyncStatusSyncing); err != nil {
		return OutcomeFailed, err
	}

	token, err := s.tokens.GetValidToken(ctx, conn)
	if err != nil {
		return s.fail(playlistID, err, OutcomeFailed), nil
	}

	cat := s.newCatalog(token, conn.Market)
	uris := playlist.Tracks.URIsForProvider(provider)

	if err := cat.ReplaceTracks(ctx, *playlist.RemoteID, uris); err != nil {
		return s.fail(playlistID, err, OutcomeFailed), nil
	}

	if err := s.repo.SetSyncOutcome(playlistID, models.SyncStatusSynced, &startedAt); err != nil {
		return OutcomeFailed, err
	}

	s.log.Zerolog().Info().
		Int64("playlist_id", playlistID).
		Str("provider", provider).
		Int("tracks", len(uris)).
		Msg("playlist synchronized")
	return OutcomeSynced, nil
}

// fail records the terminal failure state. A failure to record it is
// logged and swallowed; the run is already failed.
func (s *SyncService) fail(playlistID int64, cause error, outcome Outcome) Outcome {
	if cause != nil {
		s.log.Zerolog().Error().
			Err(cause).
			Int64("playlist_id", playlistID).
			Msg("sync failed")
	}
	if err := s.repo.SetSyncOutcome(playlistID, models.SyncStatusSyncFailed, nil); err != nil {
		s.log.Zerolog().Error().
			Err(err).
			Int64("playlist_id", playlistID).
			Msg("failed to record sync failure")
	}
	return outcome
}

// DispatchDueSyncs enqueues a sync task for every due playlist:
// linked, not deleted, never synced or last synced at or beyond the
// staleness horizon. Dispatch is fire-and-forget; one bad enqueue does
// not stop the rest.
func (s *SyncService) DispatchDueSyncs(ctx context.Context, client Dispatcher) (int, error) {
	due, err := s.repo.GetSyncDuePlaylists(s.staleness)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, p := range due {
		task, err := NewPlaylistSyncTask(p.ID)
		if err != nil {
			s.log.Zerolog().Error().Err(err).Int64("playlist_id", p.ID).Msg("failed to build sync task")
			continue
		}
		if _, err := client.Enqueue(task); err != nil {
			s.log.Zerolog().Error().Err(err).Int64("playlist_id", p.ID).Msg("failed to enqueue sync task")
			continue
		}
		dispatched++
	}

	s.log.Zerolog().Info().
		Int("due", len(due)).
		Int("dispatched", dispatched).
		Msg("sync dispatch complete")
	return dispatched, nil
}

// PurgeDeleted permanently removes playlists soft-deleted longer than
// olderThanDays ago.
func (s *SyncService) PurgeDeleted(olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	purged, err := s.repo.PurgeDeletedBefore(cutoff)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.Zerolog().Info().
			Int64("purged", purged).
			Int("older_than_days", olderThanDays).
			Msg("purged soft-deleted playlists")
	}
	return purged, nil
}

// HandlePlaylistSync is the asynq handler for playlist:sync tasks.
func (s *SyncService) HandlePlaylistSync(ctx context.Context, t *asynq.Task) error {
	var p PlaylistSyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid playlist sync payload: %w", err)
	}

	start := time.Now()
	outcome, err := s.SyncPlaylist(ctx, p.PlaylistID)
	s.metrics.ObserveJobDuration(TypePlaylistSync, string(outcome), time.Since(start).Seconds())
	return err
}
