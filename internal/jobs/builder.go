package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"tunebridge/internal/catalog"
	"tunebridge/internal/match"
	"tunebridge/internal/models"
	"tunebridge/internal/resolver"
)

// TrackResolver maps one requested track onto a catalog ID.
type TrackResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (string, error)
}

// ResolverFactory builds a resolver over a connection-scoped catalog
// client.
type ResolverFactory func(cat Catalog) TrackResolver

// SetResolverFactory wires track resolution into the build job.
func (s *SyncService) SetResolverFactory(f ResolverFactory) {
	s.newResolver = f
}

// BuildPlaylist resolves the playlist's unresolved track refs against
// the catalog, creates and links a remote counterpart if the playlist
// has none, then hands off to a sync run to push the track list.
// Tracks that cannot be resolved keep their empty URI and are simply
// absent from the remote list.
func (s *SyncService) BuildPlaylist(ctx context.Context, playlistID int64) (Outcome, error) {
	playlist, err := s.repo.GetPlaylistByID(playlistID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Zerolog().Warn().
				Int64("playlist_id", playlistID).
				Msg("build failed: playlist not found")
			return OutcomeNotFound, nil
		}
		return OutcomeFailed, err
	}

	conn, err := s.repo.GetConnection(playlist.UserID, catalog.Provider)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return s.fail(playlistID, nil, OutcomeNoConnection), nil
		}
		return OutcomeFailed, err
	}

	token, err := s.tokens.GetValidToken(ctx, conn)
	if err != nil {
		return s.fail(playlistID, err, OutcomeFailed), nil
	}
	cat := s.newCatalog(token, conn.Market)

	if s.newResolver != nil {
		if err := s.resolveTracks(ctx, playlist, cat); err != nil {
			return s.fail(playlistID, err, OutcomeFailed), nil
		}
	}

	if !playlist.Linked() {
		remoteID, err := cat.CreatePlaylist(ctx, conn.ExternalUserID, playlist.Name, catalog.CreatePlaylistOpts{
			Description: playlist.Description,
			Public:      playlist.Public,
		})
		if err != nil {
			return s.fail(playlistID, err, OutcomeFailed), nil
		}
		if err := s.repo.LinkPlaylist(playlistID, catalog.Provider, remoteID); err != nil {
			return OutcomeFailed, err
		}
		s.log.Zerolog().Info().
			Int64("playlist_id", playlistID).
			Str("remote_id", remoteID).
			Msg("playlist linked to new remote counterpart")
	}

	return s.SyncPlaylist(ctx, playlistID)
}

// resolveTracks fills in URIs for refs that lack one and persists the
// updated list. Resolution misses are logged and left unresolved.
func (s *SyncService) resolveTracks(ctx context.Context, playlist *models.Playlist, cat Catalog) error {
	res := s.newResolver(cat)

	unresolved := 0
	for i, ref := range playlist.Tracks {
		if ref.URI != "" || ref.Provider != catalog.Provider {
			continue
		}
		id, err := res.Resolve(ctx, resolver.Request{
			Artist:  ref.Artist,
			Title:   ref.Title,
			Album:   ref.Album,
			Version: match.VersionTag(ref.Version),
		})
		if err != nil {
			s.log.Zerolog().Warn().
				Err(err).
				Str("artist", ref.Artist).
				Str("title", ref.Title).
				Msg("track resolution errored")
			unresolved++
			continue
		}
		if id == "" {
			s.log.Zerolog().Info().
				Str("artist", ref.Artist).
				Str("title", ref.Title).
				Msg("track could not be resolved")
			unresolved++
			continue
		}
		playlist.Tracks[i].URI = id
	}

	if unresolved > 0 {
		s.log.Zerolog().Info().
			Int64("playlist_id", playlist.ID).
			Int("unresolved", unresolved).
			Msg("some tracks left unresolved")
	}

	return s.repo.UpdatePlaylist(playlist)
}

// HandlePlaylistBuild is the asynq handler for playlist:build tasks.
func (s *SyncService) HandlePlaylistBuild(ctx context.Context, t *asynq.Task) error {
	var p PlaylistBuildPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid playlist build payload: %w", err)
	}

	start := time.Now()
	outcome, err := s.BuildPlaylist(ctx, p.PlaylistID)
	s.metrics.ObserveJobDuration(TypePlaylistBuild, string(outcome), time.Since(start).Seconds())
	return err
}
