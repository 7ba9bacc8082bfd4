package tracker

import (
	"sort"
	"time"
)

// DocLine identifies one line of one document. Line is 0-based.
type DocLine struct {
	Document string `json:"document"`
	Line     int    `json:"line"`
}

// Entry is the text recorded for a line at acceptance time.
type Entry struct {
	Text       string    `json:"text"`
	RecordedAt time.Time `json:"recorded_at"`

	// Gen increases with every Record, so a stale check can tell that the
	// line was re-accepted after it was scheduled.
	Gen uint64 `json:"-"`
}

// Registry maps document lines to the text the last acceptance produced
// there. It is not safe for concurrent use; Tracker serializes access.
type Registry struct {
	entries map[DocLine]Entry
	gen     uint64
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[DocLine]Entry)}
}

// Record inserts or overwrites the entry for key.
func (r *Registry) Record(key DocLine, text string, at time.Time) {
	r.gen++
	r.entries[key] = Entry{Text: text, RecordedAt: at, Gen: r.gen}
}

func (r *Registry) Get(key DocLine) (Entry, bool) {
	e, ok := r.entries[key]
	return e, ok
}

func (r *Registry) Remove(key DocLine) {
	delete(r.entries, key)
}

func (r *Registry) Len() int {
	return len(r.entries)
}

// RecordedBefore returns the keys whose entries are older than cutoff.
func (r *Registry) RecordedBefore(cutoff time.Time) []DocLine {
	var keys []DocLine
	for k, e := range r.entries {
		if e.RecordedAt.Before(cutoff) {
			keys = append(keys, k)
		}
	}
	return keys
}

// InDocument returns the keys tracked for document.
func (r *Registry) InDocument(document string) []DocLine {
	var keys []DocLine
	for k := range r.entries {
		if k.Document == document {
			keys = append(keys, k)
		}
	}
	return keys
}

// Tracked is one registry entry as exposed by Snapshot.
type Tracked struct {
	DocLine
	Entry
}

// Snapshot copies the registry, ordered by document then line.
func (r *Registry) Snapshot() []Tracked {
	out := make([]Tracked, 0, len(r.entries))
	for k, e := range r.entries {
		out = append(out, Tracked{DocLine: k, Entry: e})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Document != out[j].Document {
			return out[i].Document < out[j].Document
		}
		return out[i].Line < out[j].Line
	})
	return out
}
