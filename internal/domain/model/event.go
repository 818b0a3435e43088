// Package model contains domain models passed between layers.
package model

import "time"

// Kind classifies a change the way the watch API reports it.
type Kind string

const (
	// KindRename covers entries appearing, disappearing or being renamed.
	KindRename Kind = "rename"
	// KindChange covers content or attribute changes of an existing entry.
	KindChange Kind = "change"
)

// Event represents a single filesystem change observed by a source.
type Event struct {
	ID      string    `json:"id"`      // unique id, used as the SSE event id
	Kind    Kind      `json:"kind"`    // rename or change
	Subject string    `json:"subject"` // path the change applies to
	Op      string    `json:"op"`      // raw operation as reported by the backend, e.g. "WRITE"
	TS      time.Time `json:"ts"`      // time the event was observed
}

// IsRename reports whether the event changed the set of directory entries.
func (e Event) IsRename() bool { return e.Kind == KindRename }
