package core

import (
	"strings"
	"sync"
)

// ModelResponse is the in-flight state of one model's answer for the
// current turn. Content holds the latest accumulated snapshot, not deltas.
type ModelResponse struct {
	Model   string `json:"model"`
	Content string `json:"content"`
	Done    bool   `json:"done"`
	Err     string `json:"error,omitempty"`
}

// HasContent reports whether the response carries non-empty trimmed text
func (r ModelResponse) HasContent() bool {
	return strings.TrimSpace(r.Content) != ""
}

// Tracker holds the authoritative view of what each selected model has
// produced so far in the current turn. The orchestrator is the only
// writer; gate and evaluation consumers read point-in-time snapshots.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*ModelResponse
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*ModelResponse)}
}

// Upsert stores the latest accumulated content for a model. An unknown
// model is a fresh insert, never an error. Once an entry is terminal a
// stray late call is dropped rather than resurrecting the stream, and
// while streaming the stored content never shrinks.
func (t *Tracker) Upsert(model, content string, done bool, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[model]
	if !ok {
		t.entries[model] = &ModelResponse{
			Model:   model,
			Content: content,
			Done:    done,
			Err:     errMsg,
		}
		return
	}

	if entry.Done {
		// Late chunk after terminal state; ignore it.
		return
	}

	if len(content) >= len(entry.Content) {
		entry.Content = content
	}
	entry.Done = done
	entry.Err = errMsg
}

// Clear removes all entries; called when a new turn starts
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*ModelResponse)
}

// Remove drops a single model's entry so stale terminal state does not
// leak into completion checks during a regeneration
func (t *Tracker) Remove(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, model)
}

// Snapshot returns an immutable copy of the current state
func (t *Tracker) Snapshot() map[string]ModelResponse {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]ModelResponse, len(t.entries))
	for model, entry := range t.entries {
		snapshot[model] = *entry
	}
	return snapshot
}
