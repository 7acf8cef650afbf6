// SPDX-License-Identifier: MIT

// Package status tracks the volatile per-track processing state. The
// registry is the single source of truth for "is something working on this
// track right now"; it is rebuilt from disk by reconciliation after a
// restart.
package status

import (
	"sync"
	"time"
)

// State is a pipeline lifecycle state.
type State string

const (
	StatePending     State = "PENDING"
	StateMetadata    State = "METADATA"
	StateDownloading State = "DOWNLOADING"
	StateSplitting   State = "SPLITTING"
	StateLyrics      State = "LYRICS"
	StateProcessing  State = "PROCESSING"
	StateComplete    State = "COMPLETE"
	StateError       State = "ERROR"
)

// Terminal reports whether the state ends a pipeline run. Terminal entries
// do not block a new enqueue for the same track.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// TrackStatus is one registry entry.
type TrackStatus struct {
	TrackID   string    `json:"track_id"`
	Status    State     `json:"status"`
	Progress  int       `json:"progress"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry is a mutex-guarded map of track statuses. All accessors return
// copies; callers never see shared state.
type Registry struct {
	mu      sync.Mutex
	entries map[string]TrackStatus
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]TrackStatus),
		now:     time.Now,
	}
}

// Set records the current state of a track and returns the stored entry.
func (r *Registry) Set(trackID string, st State, progress int, detail string) TrackStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := TrackStatus{
		TrackID:   trackID,
		Status:    st,
		Progress:  progress,
		Detail:    detail,
		UpdatedAt: r.now().UTC(),
	}
	r.entries[trackID] = e
	return e
}

// Claim atomically takes ownership of a track for a new pipeline run. It
// fails when a non-terminal entry already exists, which is what keeps two
// workers off the same track.
func (r *Registry) Claim(trackID string, st State, progress int, detail string) (TrackStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[trackID]; ok && !cur.Status.Terminal() {
		return cur, false
	}
	e := TrackStatus{
		TrackID:   trackID,
		Status:    st,
		Progress:  progress,
		Detail:    detail,
		UpdatedAt: r.now().UTC(),
	}
	r.entries[trackID] = e
	return e, true
}

// Get returns a copy of the entry for the track.
func (r *Registry) Get(trackID string) (TrackStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[trackID]
	return e, ok
}

// All returns a copy of every entry keyed by track ID.
func (r *Registry) All() map[string]TrackStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]TrackStatus, len(r.entries))
	for k, v := range r.entries {
		out[k] = v
	}
	return out
}

// Remove drops the entry for the track, if any.
func (r *Registry) Remove(trackID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, trackID)
}

// ActiveCount returns the number of non-terminal entries.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if !e.Status.Terminal() {
			n++
		}
	}
	return n
}
