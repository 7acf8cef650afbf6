// SPDX-License-Identifier: MIT

// Package dispatch admits tracks into the processing pipeline: it enforces
// the one-worker-per-track rule, charges credits, caps concurrency, and
// re-enqueues incomplete tracks after a restart.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/feed"
	"github.com/stemsync/stemsync/internal/log"
	"github.com/stemsync/stemsync/internal/metrics"
	"github.com/stemsync/stemsync/internal/pipeline"
	"github.com/stemsync/stemsync/internal/status"
	"github.com/stemsync/stemsync/internal/store"
)

var (
	// ErrAlreadyProcessing rejects a second add for a track with a live
	// worker.
	ErrAlreadyProcessing = errors.New("dispatch: track is already being processed")

	// ErrInsufficientCredits rejects a paid action the user cannot afford.
	ErrInsufficientCredits = errors.New("dispatch: insufficient credits")

	// ErrUnknownStage rejects a reprocess request naming no known stage.
	ErrUnknownStage = errors.New("dispatch: unknown reprocess stage")
)

// EnqueueCost is the credits a non-admin spends to add a new track.
const EnqueueCost = 5

// Outcome states reported by Add and Reprocess.
const (
	StateQueued = "queued"
	StateReady  = "ready"
)

// Outcome tells the caller how an add resolved: a worker was spawned, or
// the track was already complete on disk.
type Outcome struct {
	State    string `json:"state"`
	Progress int    `json:"progress"`
}

// Runner executes the pipeline for one track.
type Runner interface {
	Run(ctx context.Context, trackID string) error
}

// CreditStore charges user accounts.
type CreditStore interface {
	DeductCredits(ctx context.Context, userID int64, n int) (bool, error)
}

// Config tunes the dispatcher.
type Config struct {
	// MaxWorkers caps concurrently running pipelines.
	MaxWorkers int64
	// ReconcileDelay postpones startup reconciliation until the service
	// is up and serving.
	ReconcileDelay time.Duration
	// Stagger is the minimum gap between reconcile spawns.
	Stagger time.Duration
}

// reprocessArtifacts maps a reprocess stage to the artifacts that must be
// deleted so the pipeline's skip checks re-run from that stage.
var reprocessArtifacts = map[string][]string{
	"all": {
		store.KeyMetadata, store.KeySong, store.KeyVocals, store.KeyNoVocals,
		store.KeyRawLyrics, store.KeyReference, store.KeyLyrics,
	},
	"splitting": {
		store.KeyVocals, store.KeyNoVocals,
		store.KeyRawLyrics, store.KeyReference, store.KeyLyrics,
	},
	"lyrics":     {store.KeyRawLyrics, store.KeyReference, store.KeyLyrics},
	"processing": {store.KeyLyrics},
}

// ReprocessStages lists the accepted reprocess stage names.
func ReprocessStages() []string {
	return []string{"all", "splitting", "lyrics", "processing"}
}

// Dispatcher owns worker admission. One instance per process.
type Dispatcher struct {
	cfg      Config
	store    *store.Store
	registry *status.Registry
	feed     *feed.Feed
	runner   Runner
	credits  CreditStore

	// ctx bounds worker lifetimes; it outlives any request context.
	ctx context.Context
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	logger zerolog.Logger
}

// New builds a dispatcher. ctx is the process lifetime context: canceling
// it stops workers and blocks new spawns.
func New(ctx context.Context, cfg Config, st *store.Store, registry *status.Registry, fd *feed.Feed, runner Runner, credits CreditStore) *Dispatcher {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    st,
		registry: registry,
		feed:     fd,
		runner:   runner,
		credits:  credits,
		ctx:      ctx,
		sem:      semaphore.NewWeighted(cfg.MaxWorkers),
		logger:   log.WithComponent("dispatch"),
	}
}

// Add admits a track. Completed tracks come back ready without charge;
// anything else claims the track and spawns a worker, charging non-admins
// first. A nil user skips the credit check (internal callers).
func (d *Dispatcher) Add(ctx context.Context, trackID string, user *db.User) (Outcome, error) {
	if trackID == "" {
		return Outcome{}, fmt.Errorf("dispatch: empty track id")
	}
	if entry, ok := d.registry.Get(trackID); ok && !entry.Status.Terminal() {
		return Outcome{}, fmt.Errorf("track %s is %s: %w", trackID, entry.Status, ErrAlreadyProcessing)
	}
	if d.store.IsComplete(trackID) {
		return Outcome{State: StateReady, Progress: pipeline.ProgressComplete}, nil
	}

	entry, claimed := d.registry.Claim(trackID, status.StateMetadata, pipeline.ProgressMetadata, "queued")
	if !claimed {
		return Outcome{}, fmt.Errorf("track %s: %w", trackID, ErrAlreadyProcessing)
	}

	if user != nil && !user.IsAdmin && d.credits != nil {
		ok, err := d.credits.DeductCredits(ctx, user.ID, EnqueueCost)
		if err != nil {
			d.registry.Remove(trackID)
			return Outcome{}, fmt.Errorf("deduct credits: %w", err)
		}
		if !ok {
			d.registry.Remove(trackID)
			return Outcome{}, fmt.Errorf("%d credits required: %w", EnqueueCost, ErrInsufficientCredits)
		}
		metrics.CreditsSpent.WithLabelValues("add_track").Add(EnqueueCost)
	}

	d.feed.Publish(entry)
	d.spawn(trackID)
	d.logger.Info().Str(log.FieldTrackID, trackID).Msg("track queued")
	return Outcome{State: StateQueued, Progress: entry.Progress}, nil
}

// Reprocess deletes the artifacts downstream of fromStage and re-runs the
// track. The pipeline's skip checks rebuild exactly what was deleted.
func (d *Dispatcher) Reprocess(_ context.Context, trackID, fromStage string) (Outcome, error) {
	keys, ok := reprocessArtifacts[fromStage]
	if !ok {
		return Outcome{}, fmt.Errorf("%q: %w", fromStage, ErrUnknownStage)
	}

	entry, claimed := d.registry.Claim(trackID, status.StateMetadata, pipeline.ProgressMetadata, "reprocess from "+fromStage)
	if !claimed {
		cur, _ := d.registry.Get(trackID)
		return Outcome{}, fmt.Errorf("track %s is %s: %w", trackID, cur.Status, ErrAlreadyProcessing)
	}

	for _, key := range keys {
		if err := d.store.DeleteArtifact(trackID, key); err != nil {
			d.registry.Remove(trackID)
			return Outcome{}, err
		}
	}

	d.feed.Publish(entry)
	d.spawn(trackID)
	d.logger.Info().
		Str(log.FieldTrackID, trackID).
		Str(log.FieldStage, fromStage).
		Msg("track requeued for reprocessing")
	return Outcome{State: StateQueued, Progress: entry.Progress}, nil
}

// Reconcile re-enqueues every incomplete track directory. Runs once at
// startup after ReconcileDelay; spawns are separated by Stagger so a big
// backlog does not stampede the model host. Returns the resumed count.
func (d *Dispatcher) Reconcile(ctx context.Context) (int, error) {
	if d.cfg.ReconcileDelay > 0 {
		select {
		case <-time.After(d.cfg.ReconcileDelay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	ids, err := d.store.AllTrackIDs()
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, id := range ids {
		if d.store.IsComplete(id) {
			continue
		}
		entry, claimed := d.registry.Claim(id, status.StateMetadata, pipeline.ProgressMetadata, "resumed after restart")
		if !claimed {
			continue
		}
		if resumed > 0 {
			select {
			case <-time.After(d.cfg.Stagger):
			case <-ctx.Done():
				d.registry.Remove(id)
				return resumed, ctx.Err()
			}
		}
		d.feed.Publish(entry)
		d.spawn(id)
		metrics.ReconcileResumed.Inc()
		d.logger.Info().Str(log.FieldTrackID, id).Msg("resuming incomplete track")
		resumed++
	}

	if resumed > 0 {
		d.logger.Info().Int("count", resumed).Msg("reconciliation complete")
	}
	return resumed, nil
}

// Status returns the live status of one track.
func (d *Dispatcher) Status(trackID string) (status.TrackStatus, bool) {
	return d.registry.Get(trackID)
}

// StatusAll snapshots every tracked status.
func (d *Dispatcher) StatusAll() map[string]status.TrackStatus {
	return d.registry.All()
}

// spawn runs the pipeline for trackID under the concurrency cap. The soft
// cap means the claim is visible immediately even while the worker waits
// for a slot.
func (d *Dispatcher) spawn(trackID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			// Shutdown before the worker started; reconciliation picks
			// the track up on the next boot.
			return
		}
		defer d.sem.Release(1)
		// Failures are recorded and surfaced by the pipeline itself.
		_ = d.runner.Run(d.ctx, trackID)
	}()
}

// Wait blocks until every spawned worker has returned. Called during
// shutdown after the worker context is canceled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
