// SPDX-License-Identifier: MIT

// Package store is the filesystem-backed artifact store: one directory per
// track, atomic file writes, completeness probe.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/stemsync/stemsync/internal/log"
)

// Artifact keys inside a track directory. Presence of a non-empty file is
// authoritative evidence that the producing stage completed.
const (
	KeyMetadata  = "metadata.json"
	KeySong      = "song.mp3"
	KeyVocals    = "vocals.mp3"
	KeyNoVocals  = "no_vocals.mp3"
	KeyRawLyrics = "lyrics_raw.json"
	KeyReference = "reference_lyrics.json"
	KeyLyrics    = "lyrics.json"
)

// completionKeys are the artifacts a finished track must carry.
var completionKeys = []string{KeyMetadata, KeySong, KeyVocals, KeyNoVocals, KeyLyrics}

// ErrStorage is the sentinel for filesystem failures.
var ErrStorage = errors.New("store: filesystem unavailable")

// StorageError wraps ErrStorage with the failing operation and path.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return ErrStorage }

func fail(op, path string, err error) error {
	return &StorageError{Op: op, Path: path, Err: err}
}

// Store owns the artifact root. All writes go through pending files that are
// atomically renamed into place, so readers see either the previous or the
// new complete version.
type Store struct {
	root   string
	logger zerolog.Logger
}

// New creates the artifact root when missing and returns the store.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fail("mkdir", root, err)
	}
	return &Store{root: root, logger: log.WithComponent("store")}, nil
}

// Root returns the artifact root directory.
func (s *Store) Root() string { return s.root }

// Dir returns the track directory, creating it on demand.
func (s *Store) Dir(trackID string) (string, error) {
	dir := filepath.Join(s.root, trackID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fail("mkdir", dir, err)
	}
	return dir, nil
}

// Path returns the artifact path without touching the filesystem.
func (s *Store) Path(trackID, key string) string {
	return filepath.Join(s.root, trackID, key)
}

// Exists reports whether the artifact exists and is non-empty. Empty files
// are treated as absent so a crashed write never satisfies a stage's skip
// check.
func (s *Store) Exists(trackID, key string) bool {
	info, err := os.Stat(s.Path(trackID, key))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// SaveJSON marshals obj and writes it atomically.
func (s *Store) SaveJSON(trackID, key string, obj any) error {
	data, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return fail("marshal", key, err)
	}
	if _, err := s.Dir(trackID); err != nil {
		return err
	}
	return s.writeAtomic(s.Path(trackID, key), func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// LoadJSON reads the artifact into out.
func (s *Store) LoadJSON(trackID, key string, out any) error {
	data, err := os.ReadFile(s.Path(trackID, key))
	if err != nil {
		return fail("read", s.Path(trackID, key), err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fail("unmarshal", key, err)
	}
	return nil
}

// SaveBinary streams r into the artifact atomically.
func (s *Store) SaveBinary(trackID, key string, r io.Reader) error {
	if _, err := s.Dir(trackID); err != nil {
		return err
	}
	return s.writeAtomic(s.Path(trackID, key), func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// writeAtomic routes every write through a renameio pending file: temp file,
// fsync, atomic rename.
func (s *Store) writeAtomic(path string, write func(io.Writer) error) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fail("create pending", path, err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			s.logger.Debug().Err(err).Str(log.FieldPath, path).Msg("cleanup pending file")
		}
	}()

	if err := write(pending); err != nil {
		return fail("write", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fail("replace", path, err)
	}
	return nil
}

// DeleteArtifact removes a single artifact; missing files are not an error.
func (s *Store) DeleteArtifact(trackID, key string) error {
	err := os.Remove(s.Path(trackID, key))
	if err != nil && !os.IsNotExist(err) {
		return fail("remove", s.Path(trackID, key), err)
	}
	return nil
}

// Delete removes the whole track directory.
func (s *Store) Delete(trackID string) error {
	dir := filepath.Join(s.root, trackID)
	if err := os.RemoveAll(dir); err != nil {
		return fail("remove all", dir, err)
	}
	return nil
}

// AllTrackIDs returns the purely numeric directory names under the root,
// sorted ascending by numeric value.
func (s *Store) AllTrackIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fail("read dir", s.root, err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.ParseUint(e.Name(), 10, 64); err != nil {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.ParseUint(ids[i], 10, 64)
		b, _ := strconv.ParseUint(ids[j], 10, 64)
		return a < b
	})
	return ids, nil
}

// IsComplete reports whether every completion artifact exists. lyrics.json
// may be untimed and the track still counts as complete.
func (s *Store) IsComplete(trackID string) bool {
	for _, key := range completionKeys {
		if !s.Exists(trackID, key) {
			return false
		}
	}
	return true
}

// MissingArtifacts lists the completion artifacts a track still lacks.
func (s *Store) MissingArtifacts(trackID string) []string {
	var missing []string
	for _, key := range completionKeys {
		if !s.Exists(trackID, key) {
			missing = append(missing, key)
		}
	}
	return missing
}

// FileSizes returns the size of every artifact present in the track dir.
func (s *Store) FileSizes(trackID string) (map[string]int64, error) {
	dir := filepath.Join(s.root, trackID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int64{}, nil
		}
		return nil, fail("read dir", dir, err)
	}
	sizes := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fail("stat", filepath.Join(dir, e.Name()), err)
		}
		sizes[e.Name()] = info.Size()
	}
	return sizes, nil
}
