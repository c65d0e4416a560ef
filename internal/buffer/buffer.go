// Package buffer holds captured responses in memory until the classifier
// has processed them.
package buffer

import (
	"net/http"
	"sync"
)

// Entry is one captured request/response pair.
type Entry struct {
	ID              string      `json:"id"`
	Host            string      `json:"host"`
	URL             string      `json:"url"`
	Status          int         `json:"http_status"`
	ResponseHeaders http.Header `json:"response_headers,omitempty"`
	RequestBody     string      `json:"request_body,omitempty"`

	// ResponseBody is the decoded text, or the raw bytes when decoding failed.
	ResponseBody string `json:"response_body"`

	Processed bool `json:"processed"`

	// CapturedAt is a Unix timestamp in milliseconds.
	CapturedAt int64 `json:"captured_at"`
}

// Buffer is an ordered, append-only list of entries. The proxy appends from
// many connection goroutines; the classifier marks entries processed.
type Buffer struct {
	mu      sync.Mutex
	entries []*Entry
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append adds an entry at the end.
func (b *Buffer) Append(e Entry) {
	b.mu.Lock()
	b.entries = append(b.entries, &e)
	b.mu.Unlock()
}

// Load appends entries in order, keeping their processed flags. Entries
// whose ID is already buffered are skipped. It returns how many were added.
func (b *Buffer) Load(entries []Entry) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(b.entries)+len(entries))
	for _, e := range b.entries {
		seen[e.ID] = struct{}{}
	}
	added := 0
	for i := range entries {
		e := entries[i]
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}
		b.entries = append(b.entries, &e)
		added++
	}
	return added
}

// Unprocessed returns copies of the entries not yet processed, oldest first.
func (b *Buffer) Unprocessed() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	for _, e := range b.entries {
		if !e.Processed {
			out = append(out, *e)
		}
	}
	return out
}

// Snapshot returns copies of every entry.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Entry, len(b.entries))
	for i, e := range b.entries {
		out[i] = *e
	}
	return out
}

// MarkProcessed flags every entry with id. It reports whether one exists.
func (b *Buffer) MarkProcessed(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	for _, e := range b.entries {
		if e.ID == id {
			e.Processed = true
			found = true
		}
	}
	return found
}

// IsProcessed reports whether the entry with id has been processed.
func (b *Buffer) IsProcessed(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		if e.ID == id {
			return e.Processed
		}
	}
	return false
}

// ClearProcessed drops processed entries and returns how many were removed.
func (b *Buffer) ClearProcessed() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.entries[:0]
	for _, e := range b.entries {
		if !e.Processed {
			kept = append(kept, e)
		}
	}
	removed := len(b.entries) - len(kept)
	for i := len(kept); i < len(b.entries); i++ {
		b.entries[i] = nil
	}
	b.entries = kept
	return removed
}

// Reset drops every entry.
func (b *Buffer) Reset() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}

// Counts returns the number of processed and unprocessed entries.
func (b *Buffer) Counts() (processed, unprocessed int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, e := range b.entries {
		if e.Processed {
			processed++
		} else {
			unprocessed++
		}
	}
	return processed, unprocessed
}

// Len returns the number of entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
