// SPDX-License-Identifier: MIT

// Package pipeline turns a track ID into a complete set of karaoke assets:
// metadata, original audio, separated stems, a word-timed transcript, and
// the reference-corrected lyrics. Stages run in a fixed order and each one
// skips itself when its artifact already exists, so a crashed run resumes
// from where it stopped.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsync/stemsync/internal/align"
	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/deezer"
	"github.com/stemsync/stemsync/internal/feed"
	"github.com/stemsync/stemsync/internal/log"
	"github.com/stemsync/stemsync/internal/lyrics"
	"github.com/stemsync/stemsync/internal/metrics"
	"github.com/stemsync/stemsync/internal/modelhost"
	"github.com/stemsync/stemsync/internal/status"
	"github.com/stemsync/stemsync/internal/store"
)

// Stage names, recorded on failures and metrics.
const (
	StageMetadata = "metadata"
	StageDownload = "download"
	StageSplit    = "split"
	StageLyrics   = "lyrics"
	StageProcess  = "process"
	StageFinalize = "finalize"
)

// Progress floors published as each stage begins.
const (
	ProgressMetadata    = 5
	ProgressDownloading = 15
	ProgressSplitting   = 35
	ProgressLyrics      = 65
	ProgressProcessing  = 87
	ProgressComplete    = 100
)

// Source fetches track metadata and the original audio.
type Source interface {
	GetInfo(ctx context.Context, trackID string) (*deezer.Info, error)
	Download(ctx context.Context, blob json.RawMessage) (io.ReadCloser, error)
}

// Models runs the hosted separation and alignment models.
type Models interface {
	Upload(ctx context.Context, path string) (string, error)
	RunSeparator(ctx context.Context, audioURL string) (modelhost.SeparatorOutput, error)
	RunAligner(ctx context.Context, audioURL string, opts modelhost.AlignerOptions) (*align.Transcript, error)
	Fetch(ctx context.Context, fileURL string) (io.ReadCloser, error)
}

// References resolves reference lyric lines.
type References interface {
	Fetch(ctx context.Context, title, artist string) ([]string, error)
	FetchGenerative(ctx context.Context, in lyrics.GenerativeInput) ([]string, error)
}

// Encoder re-encodes saved stems to the target bitrate.
type Encoder interface {
	CompressAudio(ctx context.Context, path string, targetKbps int) error
}

// Recorder persists failures and processing milestones.
type Recorder interface {
	RecordFailure(ctx context.Context, trackID, stage, message string) error
	InsertErrorLog(ctx context.Context, e db.ErrorEntry) error
	InsertAppLog(ctx context.Context, level, source, message, details, trackID string) error
}

// Deps wires the pipeline to its collaborators. Store, Source, Models,
// Lyrics, Registry, and Feed are required; Encoder defaults to the store.
type Deps struct {
	Store    *store.Store
	Source   Source
	Models   Models
	Lyrics   References
	Registry *status.Registry
	Feed     *feed.Feed
	Recorder Recorder
	Encoder  Encoder

	// StemKbps is the bitrate stems are re-encoded to. Zero disables
	// re-encoding.
	StemKbps int
}

// Pipeline executes the processing stages for one track at a time per call.
// Safe for concurrent use across distinct track IDs; the dispatcher
// guarantees a single worker per track.
type Pipeline struct {
	deps   Deps
	logger zerolog.Logger
}

type stage struct {
	name  string
	state status.State
	floor int
	run   func(ctx context.Context, trackID string) (skipped bool, err error)
}

func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("pipeline: store is required")
	case deps.Source == nil:
		return nil, fmt.Errorf("pipeline: source is required")
	case deps.Models == nil:
		return nil, fmt.Errorf("pipeline: models are required")
	case deps.Lyrics == nil:
		return nil, fmt.Errorf("pipeline: lyrics client is required")
	case deps.Registry == nil:
		return nil, fmt.Errorf("pipeline: status registry is required")
	case deps.Feed == nil:
		return nil, fmt.Errorf("pipeline: feed is required")
	}
	if deps.Encoder == nil {
		deps.Encoder = deps.Store
	}
	return &Pipeline{
		deps:   deps,
		logger: log.WithComponent("pipeline"),
	}, nil
}

func (p *Pipeline) stages() []stage {
	return []stage{
		{StageMetadata, status.StateMetadata, ProgressMetadata, p.runMetadata},
		{StageDownload, status.StateDownloading, ProgressDownloading, p.runDownload},
		{StageSplit, status.StateSplitting, ProgressSplitting, p.runSplit},
		{StageLyrics, status.StateLyrics, ProgressLyrics, p.runLyrics},
		{StageProcess, status.StateProcessing, ProgressProcessing, p.runProcess},
		{StageFinalize, status.StateComplete, ProgressComplete, p.runFinalize},
	}
}

// Run processes one track through every stage. Failures are recorded and
// surfaced on the status registry before the error returns; callers only
// need the error for control flow.
func (p *Pipeline) Run(ctx context.Context, trackID string) error {
	ctx = log.ContextWithTrackID(ctx, trackID)
	logger := log.WithComponentFromContext(ctx, "pipeline")
	ctx = logger.WithContext(ctx)

	metrics.ActivePipelines.Inc()
	defer metrics.ActivePipelines.Dec()

	start := time.Now()
	for _, st := range p.stages() {
		stageStart := time.Now()
		skipped, err := st.run(ctx, trackID)

		outcome := metrics.OutcomeCompleted
		switch {
		case err != nil:
			outcome = metrics.OutcomeFailed
		case skipped:
			outcome = metrics.OutcomeSkipped
		}
		metrics.ObserveStage(st.name, outcome, time.Since(stageStart))

		if err != nil {
			p.fail(trackID, st.name, err)
			metrics.PipelineRuns.WithLabelValues(metrics.OutcomeFailed).Inc()
			return fmt.Errorf("stage %s: %w", st.name, err)
		}
		logger.Debug().
			Str(log.FieldStage, st.name).
			Bool("skipped", skipped).
			Dur("elapsed", time.Since(stageStart)).
			Msg("stage finished")
	}

	metrics.PipelineRuns.WithLabelValues(metrics.OutcomeCompleted).Inc()
	logger.Info().Dur("elapsed", time.Since(start)).Msg("track processing complete")
	p.milestone(trackID, "track processing complete")
	return nil
}

// publish pushes a status transition to the registry and the live feed.
func (p *Pipeline) publish(trackID string, st status.State, progress int, detail string) {
	entry := p.deps.Registry.Set(trackID, st, progress, detail)
	p.deps.Feed.Publish(entry)
	p.logger.Debug().
		Str(log.FieldTrackID, trackID).
		Str("state", string(st)).
		Int(log.FieldProgress, progress).
		Str(log.FieldDetail, detail).
		Msg("status published")
}

// milestone writes an informational row to the application log table.
func (p *Pipeline) milestone(trackID, message string) {
	p.record(db.LevelInfo, trackID, message)
}

// record appends a row to the application log table. A fresh context is used
// so a canceled run still leaves a trace.
func (p *Pipeline) record(level, trackID, message string) {
	if p.deps.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.deps.Recorder.InsertAppLog(ctx, level, "pipeline", message, "", trackID); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldTrackID, trackID).Msg("app log write failed")
	}
}

// fail records a stage failure everywhere it must be visible: the failure
// table, the error log, the status registry, and the live feed. Recording
// uses a fresh context so a canceled run still leaves a trace.
func (p *Pipeline) fail(trackID, stageName string, cause error) {
	p.logger.Error().
		Err(cause).
		Str(log.FieldTrackID, trackID).
		Str(log.FieldStage, stageName).
		Msg("stage failed")

	p.publish(trackID, status.StateError, 0, cause.Error())
	metrics.StageFailures.WithLabelValues(stageName).Inc()

	if p.deps.Recorder == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.deps.Recorder.RecordFailure(rctx, trackID, stageName, cause.Error()); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldTrackID, trackID).Msg("failure record write failed")
	}
	entry := db.ErrorEntry{
		ErrorType:    db.ErrorTypePipeline,
		Source:       stageName,
		ErrorMessage: cause.Error(),
		StackTrace:   string(debug.Stack()),
		TrackID:      trackID,
	}
	if err := p.deps.Recorder.InsertErrorLog(rctx, entry); err != nil {
		p.logger.Warn().Err(err).Str(log.FieldTrackID, trackID).Msg("error log write failed")
	}
}
