// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/stemsync/stemsync/internal/align"
	"github.com/stemsync/stemsync/internal/db"
	"github.com/stemsync/stemsync/internal/log"
	"github.com/stemsync/stemsync/internal/lyrics"
	"github.com/stemsync/stemsync/internal/modelhost"
	"github.com/stemsync/stemsync/internal/status"
	"github.com/stemsync/stemsync/internal/store"
)

// runMetadata fetches track metadata from the source and persists it,
// including the opaque download payload needed by the download stage.
func (p *Pipeline) runMetadata(ctx context.Context, trackID string) (bool, error) {
	if p.deps.Store.Exists(trackID, store.KeyMetadata) {
		p.publish(trackID, status.StateMetadata, ProgressMetadata, "metadata present")
		return true, nil
	}
	p.publish(trackID, status.StateMetadata, ProgressMetadata, "fetching metadata")

	info, err := p.deps.Source.GetInfo(ctx, trackID)
	if err != nil {
		return false, err
	}
	meta := store.Metadata{
		ID:              trackID,
		Title:           info.Title,
		Artist:          info.Artist,
		Album:           info.Album,
		DurationSeconds: info.DurationSeconds,
		ImgURL:          info.CoverURL,
		DeezerData:      info.Blob,
	}
	return false, p.deps.Store.SaveJSON(trackID, store.KeyMetadata, meta)
}

// runDownload streams the original audio to disk. When the metadata on disk
// has already been stripped of its download payload (a completed track being
// rebuilt), the payload is re-fetched first.
func (p *Pipeline) runDownload(ctx context.Context, trackID string) (bool, error) {
	if p.deps.Store.Exists(trackID, store.KeySong) {
		p.publish(trackID, status.StateDownloading, ProgressDownloading, "audio present")
		return true, nil
	}
	p.publish(trackID, status.StateDownloading, ProgressDownloading, "downloading audio")

	var meta store.Metadata
	if err := p.deps.Store.LoadJSON(trackID, store.KeyMetadata, &meta); err != nil {
		return false, err
	}
	if len(meta.DeezerData) == 0 {
		info, err := p.deps.Source.GetInfo(ctx, trackID)
		if err != nil {
			return false, fmt.Errorf("refresh download payload: %w", err)
		}
		meta.DeezerData = info.Blob
		if err := p.deps.Store.SaveJSON(trackID, store.KeyMetadata, meta); err != nil {
			return false, err
		}
	}

	rc, err := p.deps.Source.Download(ctx, meta.DeezerData)
	if err != nil {
		return false, err
	}
	defer rc.Close()
	return false, p.deps.Store.SaveBinary(trackID, store.KeySong, rc)
}

// runSplit runs the separator over the uploaded song and stores the
// re-encoded stems. A missing instrumental stem is tolerated; downstream
// stages only need the vocals.
func (p *Pipeline) runSplit(ctx context.Context, trackID string) (bool, error) {
	haveVocals := p.deps.Store.Exists(trackID, store.KeyVocals)
	haveNoVocals := p.deps.Store.Exists(trackID, store.KeyNoVocals)
	if haveVocals && haveNoVocals {
		p.publish(trackID, status.StateSplitting, ProgressSplitting, "stems present")
		return true, nil
	}
	p.publish(trackID, status.StateSplitting, ProgressSplitting, "separating stems")

	songURL, err := p.deps.Models.Upload(ctx, p.deps.Store.Path(trackID, store.KeySong))
	if err != nil {
		return false, err
	}
	out, err := p.deps.Models.RunSeparator(ctx, songURL)
	if err != nil {
		return false, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.saveStem(gctx, trackID, store.KeyVocals, out.Vocals) })
	if out.NoVocals != "" {
		g.Go(func() error { return p.saveStem(gctx, trackID, store.KeyNoVocals, out.NoVocals) })
	} else {
		p.logger.Warn().
			Str(log.FieldTrackID, trackID).
			Str("kind", out.Kind.String()).
			Msg("separator produced no instrumental stem")
		p.record(db.LevelWarning, trackID, "separator produced no instrumental stem")
	}
	return false, g.Wait()
}

// saveStem downloads one stem from the model host and re-encodes it.
func (p *Pipeline) saveStem(ctx context.Context, trackID, key, fileURL string) error {
	rc, err := p.deps.Models.Fetch(ctx, fileURL)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := p.deps.Store.SaveBinary(trackID, key, rc); err != nil {
		return err
	}
	if p.deps.StemKbps <= 0 {
		return nil
	}
	return p.deps.Encoder.CompressAudio(ctx, p.deps.Store.Path(trackID, key), p.deps.StemKbps)
}

// runLyrics transcribes the vocal stem. Reference lyrics are fetched
// speculatively first so they can bias the aligner; transcripts that fail
// the health gate are retried and finally handed to the generative fallback.
func (p *Pipeline) runLyrics(ctx context.Context, trackID string) (bool, error) {
	if p.deps.Store.Exists(trackID, store.KeyRawLyrics) {
		p.publish(trackID, status.StateLyrics, ProgressLyrics, "transcript present")
		return true, nil
	}
	p.publish(trackID, status.StateLyrics, ProgressLyrics, "transcribing vocals")

	refLines, err := p.referenceLines(ctx, trackID, nil)
	if err != nil {
		p.logger.Warn().Err(err).Str(log.FieldTrackID, trackID).Msg("reference lyrics unavailable before transcription")
	}

	vocalsURL, err := p.deps.Models.Upload(ctx, p.deps.Store.Path(trackID, store.KeyVocals))
	if err != nil {
		return false, err
	}
	tr, err := p.transcribe(ctx, trackID, vocalsURL, refLines)
	if err != nil {
		return false, err
	}
	return false, p.deps.Store.SaveJSON(trackID, store.KeyRawLyrics, tr)
}

// transcribeAttempts is the total number of aligner attempts before the
// generative fallback: the initial call plus two health-gate retries.
const transcribeAttempts = 3

// transcribe runs the aligner until a transcript passes the health gate.
// Each attempt tries diarization first and retries without it on error.
// When every attempt fails the gate, the generative provider reconstructs
// lines from the last transcript and the vocals audio; if that also fails,
// the last transcript is kept so processing can still try its best.
func (p *Pipeline) transcribe(ctx context.Context, trackID, vocalsURL string, refLines []string) (*align.Transcript, error) {
	logger := p.logger.With().Str(log.FieldTrackID, trackID).Logger()
	opts := modelhost.AlignerOptions{Diarize: true, TextPrior: refLines}

	var last *align.Transcript
	var lastReason string
	for attempt := 1; attempt <= transcribeAttempts; attempt++ {
		tr, err := p.runAlignerOnce(ctx, vocalsURL, opts)
		if err != nil {
			return nil, err
		}
		healthy, reason := align.Healthy(tr, refLines)
		if healthy {
			return tr, nil
		}
		last, lastReason = tr, reason
		logger.Warn().
			Int("attempt", attempt).
			Str("reason", reason).
			Msg("transcript failed health gate")
	}

	lines, err := p.deps.Lyrics.FetchGenerative(ctx, lyrics.GenerativeInput{
		RawText:    flatText(last),
		VocalsPath: p.deps.Store.Path(trackID, store.KeyVocals),
	})
	if err == nil && len(lines) > 0 {
		logger.Info().Int("lines", len(lines)).Msg("generative transcription replaced unhealthy transcript")
		return untimedTranscript(lines), nil
	}
	logger.Warn().Err(err).
		Str("reason", lastReason).
		Msg("generative fallback unavailable, keeping last transcript")
	return last, nil
}

// runAlignerOnce is one aligner attempt: diarization on, then off when the
// diarized call errors.
func (p *Pipeline) runAlignerOnce(ctx context.Context, vocalsURL string, opts modelhost.AlignerOptions) (*align.Transcript, error) {
	tr, err := p.deps.Models.RunAligner(ctx, vocalsURL, opts)
	if err == nil || !opts.Diarize {
		return tr, err
	}
	log.FromContext(ctx).Warn().Err(err).Msg("diarized alignment failed, retrying without diarization")
	opts.Diarize = false
	return p.deps.Models.RunAligner(ctx, vocalsURL, opts)
}

// runProcess corrects the transcript against the reference lyrics and
// composes the karaoke asset. With an empty transcript the reference lines
// become an untimed asset; with neither, the track fails.
func (p *Pipeline) runProcess(ctx context.Context, trackID string) (bool, error) {
	if p.deps.Store.Exists(trackID, store.KeyLyrics) {
		p.publish(trackID, status.StateProcessing, ProgressProcessing, "lyrics present")
		return true, nil
	}
	p.publish(trackID, status.StateProcessing, ProgressProcessing, "aligning lyrics")

	var tr align.Transcript
	if err := p.deps.Store.LoadJSON(trackID, store.KeyRawLyrics, &tr); err != nil {
		return false, err
	}
	tr.Normalize()

	refLines, err := p.referenceLines(ctx, trackID, &tr)
	if err != nil {
		p.logger.Warn().Err(err).Str(log.FieldTrackID, trackID).Msg("reference lyrics unavailable for processing")
	}

	if tr.WordCount() == 0 {
		if len(refLines) == 0 {
			return false, fmt.Errorf("track %s: empty transcript and %w", trackID, lyrics.ErrReferenceUnavailable)
		}
		return false, p.deps.Store.SaveJSON(trackID, store.KeyLyrics, align.UntimedLyrics(refLines))
	}

	rewritten, lyr := align.Process(&tr, refLines)
	if err := p.deps.Store.SaveJSON(trackID, store.KeyRawLyrics, rewritten); err != nil {
		return false, err
	}
	return false, p.deps.Store.SaveJSON(trackID, store.KeyLyrics, lyr)
}

// runFinalize strips the opaque download payload from the metadata and
// marks the track complete.
func (p *Pipeline) runFinalize(_ context.Context, trackID string) (bool, error) {
	var meta store.Metadata
	if err := p.deps.Store.LoadJSON(trackID, store.KeyMetadata, &meta); err != nil {
		return false, err
	}
	skipped := true
	if len(meta.DeezerData) > 0 {
		meta.DeezerData = nil
		if err := p.deps.Store.SaveJSON(trackID, store.KeyMetadata, meta); err != nil {
			return false, err
		}
		skipped = false
	}
	p.publish(trackID, status.StateComplete, ProgressComplete, "")
	return skipped, nil
}

// referenceLines loads persisted reference lyrics, or resolves and persists
// them. The transcript, when given, unlocks the generative fallback with
// the flattened ASR text as its prompt.
func (p *Pipeline) referenceLines(ctx context.Context, trackID string, tr *align.Transcript) ([]string, error) {
	if p.deps.Store.Exists(trackID, store.KeyReference) {
		var ref align.ReferenceLyrics
		if err := p.deps.Store.LoadJSON(trackID, store.KeyReference, &ref); err != nil {
			return nil, err
		}
		return ref.Lines, nil
	}

	var meta store.Metadata
	if err := p.deps.Store.LoadJSON(trackID, store.KeyMetadata, &meta); err != nil {
		return nil, err
	}

	lines, err := p.deps.Lyrics.Fetch(ctx, meta.Title, meta.Artist)
	if len(lines) == 0 && tr != nil {
		glines, gerr := p.deps.Lyrics.FetchGenerative(ctx, lyrics.GenerativeInput{RawText: flatText(tr)})
		if gerr == nil && len(glines) > 0 {
			lines = glines
			err = nil
		} else if err == nil {
			err = gerr
		}
	}
	if len(lines) == 0 {
		return nil, err
	}

	if serr := p.deps.Store.SaveJSON(trackID, store.KeyReference, align.ReferenceLyrics{Lines: lines}); serr != nil {
		return nil, serr
	}
	return lines, nil
}

// flatText joins every transcript word into the plain-text prompt used by
// the generative fallback.
func flatText(t *align.Transcript) string {
	if t == nil {
		return ""
	}
	var words []string
	for _, seg := range t.Segments {
		for _, w := range seg.Words {
			if w.Word != "" {
				words = append(words, w.Word)
			}
		}
	}
	return strings.Join(words, " ")
}

// untimedTranscript remaps generative lyric lines onto the transcript
// schema: one segment per line, words without timing.
func untimedTranscript(lines []string) *align.Transcript {
	t := &align.Transcript{Segments: make([]align.Segment, 0, len(lines))}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		words := make([]align.Word, len(fields))
		for i, f := range fields {
			words[i] = align.Word{Word: f}
		}
		t.Segments = append(t.Segments, align.Segment{Text: line, Words: words})
	}
	t.Normalize()
	return t
}
