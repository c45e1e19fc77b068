package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Default cadences for the periodic jobs. The dispatcher runs every
// six hours; a playlist is due once it is 24 hours stale. Purge keeps
// soft-deleted playlists restorable for 30 days.
const (
	DefaultDispatchSchedule = "@every 6h"
	DefaultPurgeSchedule    = "@every 24h"
	DefaultPurgeAfterDays   = 30
)

// SyncDispatchHandler returns the asynq handler for sync:dispatch
// tasks; found playlists are fanned out through client.
func (s *SyncService) SyncDispatchHandler(client Dispatcher) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		_, err := s.DispatchDueSyncs(ctx, client)
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.ObserveJobDuration(TypeSyncDispatch, status, time.Since(start).Seconds())
		return err
	}
}

// HandlePlaylistPurge is the asynq handler for playlist:purge tasks.
func (s *SyncService) HandlePlaylistPurge(ctx context.Context, t *asynq.Task) error {
	var p PlaylistPurgePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("invalid playlist purge payload: %w", err)
	}
	if p.OlderThanDays <= 0 {
		p.OlderThanDays = DefaultPurgeAfterDays
	}

	start := time.Now()
	_, err := s.PurgeDeleted(p.OlderThanDays)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveJobDuration(TypePlaylistPurge, status, time.Since(start).Seconds())
	return err
}

// RegisterHandlers attaches every task handler to the worker mux.
func (s *SyncService) RegisterHandlers(mux *asynq.ServeMux, client Dispatcher) {
	mux.HandleFunc(TypePlaylistSync, s.HandlePlaylistSync)
	mux.HandleFunc(TypePlaylistBuild, s.HandlePlaylistBuild)
	mux.HandleFunc(TypeSyncDispatch, s.SyncDispatchHandler(client))
	mux.HandleFunc(TypePlaylistPurge, s.HandlePlaylistPurge)
}

// RegisterPeriodicTasks puts the dispatcher and purge on their
// schedules. dispatchEvery overrides the default cadence when
// positive.
func RegisterPeriodicTasks(scheduler *asynq.Scheduler, dispatchEvery time.Duration) error {
	dispatchSchedule := DefaultDispatchSchedule
	if dispatchEvery > 0 {
		dispatchSchedule = fmt.Sprintf("@every %s", dispatchEvery)
	}

	if _, err := scheduler.Register(dispatchSchedule, NewSyncDispatchTask()); err != nil {
		return fmt.Errorf("failed to register sync dispatch schedule: %w", err)
	}

	purgeTask, err := NewPlaylistPurgeTask(DefaultPurgeAfterDays)
	if err != nil {
		return err
	}
	if _, err := scheduler.Register(DefaultPurgeSchedule, purgeTask); err != nil {
		return fmt.Errorf("failed to register purge schedule: %w", err)
	}

	return nil
}
