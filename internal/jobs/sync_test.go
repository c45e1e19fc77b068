package jobs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tunebridge/internal/catalog"
	"tunebridge/internal/errs"
	"tunebridge/internal/logging"
	"tunebridge/internal/models"
	"tunebridge/internal/resolver"
	"tunebridge/internal/services"
)

type replaceCall struct {
	playlistID string
	uris       []string
}

type fakeCat struct {
	replaceCalls []replaceCall
	replaceErr   error

	createdID    string
	createCalls  int
	createdName  string
	createdOwner string

	addCalls   int
	candidates []catalog.Candidate
}

func (f *fakeCat) SearchTracks(ctx context.Context, artist, title, album string, limit int) ([]catalog.Candidate, error) {
	return f.candidates, nil
}

func (f *fakeCat) CreatePlaylist(ctx context.Context, ownerID, name string, opts catalog.CreatePlaylistOpts) (string, error) {
	f.createCalls++
	f.createdOwner = ownerID
	f.createdName = name
	return f.createdID, nil
}

func (f *fakeCat) AddTracks(ctx context.Context, playlistID string, uris []string) error {
	f.addCalls++
	return nil
}

func (f *fakeCat) ReplaceTracks(ctx context.Context, playlistID string, uris []string) error {
	f.replaceCalls = append(f.replaceCalls, replaceCall{playlistID, uris})
	return f.replaceErr
}

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) GetValidToken(ctx context.Context, conn *models.ServiceConnection) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeDispatcher struct {
	tasks      []*asynq.Task
	enqueueErr error
	failFirst  bool
}

func (f *fakeDispatcher) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.failFirst && len(f.tasks) == 0 {
		f.tasks = append(f.tasks, nil)
		return nil, errors.New("queue full")
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type syncFixture struct {
	svc    *SyncService
	repo   *services.Repository
	cat    *fakeCat
	tokens *fakeTokens
	mr     *miniredis.Miniredis
	gotTok string
	gotMkt string
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.ServiceConnection{}, &models.Playlist{}))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &syncFixture{
		repo:   services.NewRepository(db),
		cat:    &fakeCat{createdID: "remote-new"},
		tokens: &fakeTokens{token: "valid-token"},
		mr:     mr,
	}

	log := logging.NewLogger(logging.ErrorLevel, io.Discard)
	f.svc = NewSyncService(
		f.repo,
		f.tokens,
		func(token, market string) Catalog {
			f.gotTok = token
			f.gotMkt = market
			return f.cat
		},
		rdb,
		5*time.Minute,
		24*time.Hour,
		log,
		nil,
	)
	return f
}

func (f *syncFixture) seedUserWithConnection(t *testing.T) *models.User {
	t.Helper()
	user := &models.User{Username: "alice"}
	require.NoError(t, f.repo.CreateUser(user))
	require.NoError(t, f.repo.CreateConnection(&models.ServiceConnection{
		UserID:         user.ID,
		ProviderName:   "spotify",
		ExternalUserID: "alice-remote",
		AccessToken:    "tok",
		RefreshToken:   "refresh",
		Market:         "SE",
	}))
	return user
}

func (f *syncFixture) seedLinkedPlaylist(t *testing.T, userID int64, tracks models.TrackList) *models.Playlist {
	t.Helper()
	provider := "spotify"
	remoteID := "abc"
	p := &models.Playlist{
		UserID:         userID,
		Name:           "Road Trip",
		Tracks:         tracks,
		RemoteProvider: &provider,
		RemoteID:       &remoteID,
		SyncStatus:     models.SyncStatusLinked,
	}
	require.NoError(t, f.repo.CreatePlaylist(p))
	return p
}

func TestSyncPlaylistFullReplace(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)
	p := f.seedLinkedPlaylist(t, user.ID, models.TrackList{
		{URI: "spotify:track:1", Provider: "spotify"},
		{URI: "tidal:track:9", Provider: "tidal"},
		{URI: "spotify:track:2", Provider: "spotify"},
	})

	outcome, err := f.svc.SyncPlaylist(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, outcome)

	require.Len(t, f.cat.replaceCalls, 1)
	assert.Equal(t, "abc", f.cat.replaceCalls[0].playlistID)
	assert.Equal(t, []string{"spotify:track:1", "spotify:track:2"}, f.cat.replaceCalls[0].uris,
		"foreign-provider tracks are filtered out, order preserved")
	assert.Equal(t, "valid-token", f.gotTok)
	assert.Equal(t, "SE", f.gotMkt)

	got, err := f.repo.GetPlaylistByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
	require.NotNil(t, got.LastSyncedAt)
	assert.WithinDuration(t, time.Now(), *got.LastSyncedAt, 5*time.Second)
}

func TestSyncPlaylistEmptyListClearsRemote(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)
	p := f.seedLinkedPlaylist(t, user.ID, nil)

	outcome, err := f.svc.SyncPlaylist(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, outcome)
	require.Len(t, f.cat.replaceCalls, 1)
	assert.Empty(t, f.cat.replaceCalls[0].uris)
}

func TestSyncPlaylistNotFound(t *testing.T) {
	f := newSyncFixture(t)

	outcome, err := f.svc.SyncPlaylist(context.Background(), 9999)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
	assert.Empty(t, f.cat.replaceCalls)
}

func TestSyncPlaylistNotLinked(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)
	p := &models.Playlist{UserID: user.ID, Name: "Unlinked"}
	require.NoError(t, f.repo.CreatePlaylist(p))

	outcome, err := f.svc.SyncPlaylist(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotLinked, outcome)
	assert.Equal(t, 0, f.tokens.calls)
	assert.Empty(t, f.cat.replaceCalls)
}

func TestSyncPlaylistUnsupportedProvider(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)
	provider := "tidal"
	remoteID := "t-1"
	p := &models.Playlist{
		UserID:         user.ID,
		Name:           "Elsewhere",
		RemoteProvider: &provider,
		RemoteID:       &remoteID,
	}
	require.NoError(t, f.repo.CreatePlaylist(p))

	outcome, err := f.svc.SyncPlaylist(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnsupported, outcome)
	assert.Empty(t, f.cat.replaceCalls)
}

func TestSyncPlaylistNoConnection(t *testing.T) {
	f := newSyncFixture(t)
	user := &models.User{Username: "bob"}
	require.NoError(t, f.repo.CreateUser(user))
	p := f.seedLinkedPlaylist(t, user.ID, nil)

	outcome, err := f.svc.SyncPlaylist(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoConnection, outcome)

	got, err := f.repo.GetPlaylistByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSyncFailed, got.SyncStatus)
	assert.Nil(t, got.LastSyncedAt)
}

func TestSyncPlaylistLockContention(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)
	p := f.seedLinkedPlaylist(t, user.ID, models.TrackList{
		{URI: "spotify:track:1", Provider: "spotify"},
	})

	require.NoError(t, f.mr.Set("lock:"+syncLockName(p.ID), "holder"))

	outcome, err := f.svc.SyncPlaylist(context.Background(), p.ID)
	require.NoError(t, err, "a held lock is a terminal outcome, not a retryable error")
	assert.Equal(t, OutcomeLocked, outcome)
	assert.Empty(t, f.cat.replaceCalls, "the losing run must not touch the remote")

	// After the holder releases, a run goes through exactly once.
	f.mr.Del("lock:" + syncLockName(p.ID))
	outcome, err = f.svc.SyncPlaylist(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, outcome)
	assert.Len(t, f.cat.replaceCalls, 1)
}

func TestSyncPlaylistLockStoreUnreachable(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)
	p := f.seedLinkedPlaylist(t, user.ID, nil)

	f.mr.Close()

	outcome, err := f.svc.SyncPlaylist(context.Background(), p.ID)
	require.Error(t, err, "store failure must surface for retry, unlike contention")
	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, errs.IsKind(err, errs.KindInfrastructure))
}

func TestSyncPlaylistTokenFailure(t *testing.T) {
	f := newSyncFixture(t)
	f.tokens.err = errs.TokenRefresh("revoked", nil)
	user := f.seedUserWithConnection(t)
	p := f.seedLinkedPlaylist(t, user.ID, nil)

	outcome, err := f.svc.SyncPlaylist(context.Background(), p.ID)
	require.NoError(t, err, "token failure is caught, never crashes the worker")
	assert.Equal(t, OutcomeFailed, outcome)

	got, err := f.repo.GetPlaylistByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSyncFailed, got.SyncStatus)
	assert.Nil(t, got.LastSyncedAt)
}

func TestSyncPlaylistReplaceFailure(t *testing.T) {
	f := newSyncFixture(t)
	f.cat.replaceErr = errs.CatalogAPI("server error", 502, nil)
	user := f.seedUserWithConnection(t)
	p := f.seedLinkedPlaylist(t, user.ID, models.TrackList{
		{URI: "spotify:track:1", Provider: "spotify"},
	})

	outcome, err := f.svc.SyncPlaylist(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)

	got, err := f.repo.GetPlaylistByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSyncFailed, got.SyncStatus)
	assert.Nil(t, got.LastSyncedAt, "a failed run must not record a sync time")
}

func TestDispatchDueSyncs(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)

	// Never synced: due.
	f.seedLinkedPlaylist(t, user.ID, models.TrackList{
		{URI: "x:1", Provider: "spotify"},
	})

	// Fresh: not due.
	fresh := f.seedLinkedPlaylist(t, user.ID, nil)
	now := time.Now()
	require.NoError(t, f.repo.SetSyncOutcome(fresh.ID, models.SyncStatusSynced, &now))

	d := &fakeDispatcher{}
	n, err := f.svc.DispatchDueSyncs(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, d.tasks, 1)
	assert.Equal(t, TypePlaylistSync, d.tasks[0].Type())
}

func TestDispatchContinuesPastEnqueueFailure(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)
	f.seedLinkedPlaylist(t, user.ID, nil)
	f.seedLinkedPlaylist(t, user.ID, nil)

	d := &fakeDispatcher{failFirst: true}
	n, err := f.svc.DispatchDueSyncs(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one enqueue failed, the other went out")
}

func TestNeverSyncedPlaylistEndToEnd(t *testing.T) {
	// A linked playlist with one local track and no sync history is
	// picked up by dispatch and its sync replaces the remote list.
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)
	p := f.seedLinkedPlaylist(t, user.ID, models.TrackList{
		{URI: "x:1", Provider: "spotify"},
	})

	d := &fakeDispatcher{}
	n, err := f.svc.DispatchDueSyncs(context.Background(), d)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, f.svc.HandlePlaylistSync(context.Background(), d.tasks[0]))

	require.Len(t, f.cat.replaceCalls, 1)
	assert.Equal(t, "abc", f.cat.replaceCalls[0].playlistID)
	assert.Equal(t, []string{"x:1"}, f.cat.replaceCalls[0].uris)

	got, err := f.repo.GetPlaylistByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, got.SyncStatus)
}

func TestHandlePlaylistPurgeDefaultsDays(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)

	old := &models.Playlist{UserID: user.ID, Name: "old"}
	require.NoError(t, f.repo.CreatePlaylist(old))
	require.NoError(t, f.repo.DeletePlaylist(old.ID))
	aged := time.Now().Add(-45 * 24 * time.Hour)
	require.NoError(t, f.repo.DB().Unscoped().Model(&models.Playlist{}).
		Where("id = ?", old.ID).Update("deleted_at", aged).Error)

	task, err := NewPlaylistPurgeTask(0)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandlePlaylistPurge(context.Background(), task))

	var remaining int64
	require.NoError(t, f.repo.DB().Unscoped().Model(&models.Playlist{}).Count(&remaining).Error)
	assert.Equal(t, int64(0), remaining)
}

func TestBuildPlaylistResolvesLinksAndPushes(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)

	p := &models.Playlist{
		UserID: user.ID,
		Name:   "Mixtape",
		Tracks: models.TrackList{
			{Provider: "spotify", Artist: "Queen", Title: "Song"},
			{Provider: "spotify", URI: "spotify:track:already"},
		},
	}
	require.NoError(t, f.repo.CreatePlaylist(p))

	f.cat.candidates = []catalog.Candidate{
		{Title: "Song", Artists: []string{"Queen"}, Album: "Song", ExternalID: "spotify:track:resolved"},
	}
	log := logging.NewLogger(logging.ErrorLevel, io.Discard)
	f.svc.SetResolverFactory(func(cat Catalog) TrackResolver {
		return resolver.New(cat, log)
	})

	outcome, err := f.svc.BuildPlaylist(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, outcome)

	assert.Equal(t, 1, f.cat.createCalls)
	assert.Equal(t, "alice-remote", f.cat.createdOwner)
	assert.Equal(t, "Mixtape", f.cat.createdName)

	got, err := f.repo.GetPlaylistByID(p.ID)
	require.NoError(t, err)
	assert.True(t, got.Linked())
	assert.Equal(t, "remote-new", *got.RemoteID)
	assert.Equal(t, "spotify:track:resolved", got.Tracks[0].URI, "resolved URI persisted")

	require.Len(t, f.cat.replaceCalls, 1)
	assert.Equal(t, "remote-new", f.cat.replaceCalls[0].playlistID)
	assert.Equal(t, []string{"spotify:track:resolved", "spotify:track:already"}, f.cat.replaceCalls[0].uris)
}

func TestBuildPlaylistAlreadyLinkedSkipsCreate(t *testing.T) {
	f := newSyncFixture(t)
	user := f.seedUserWithConnection(t)
	p := f.seedLinkedPlaylist(t, user.ID, models.TrackList{
		{URI: "spotify:track:1", Provider: "spotify"},
	})

	outcome, err := f.svc.BuildPlaylist(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSynced, outcome)
	assert.Equal(t, 0, f.cat.createCalls)
	assert.Len(t, f.cat.replaceCalls, 1)
}
