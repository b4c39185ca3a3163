package core

import (
	"fmt"
	"sync"
	"testing"
)

func TestTrackerFreshInsert(t *testing.T) {
	tracker := NewTracker()

	tracker.Upsert("llama3", "Hello", false, "")

	snapshot := tracker.Snapshot()
	entry, ok := snapshot["llama3"]
	if !ok {
		t.Fatal("Expected entry for llama3 after upsert")
	}
	if entry.Content != "Hello" {
		t.Errorf("Expected content 'Hello', got %q", entry.Content)
	}
	if entry.Done {
		t.Error("Expected entry to not be done")
	}
}

func TestTrackerContentNeverShrinks(t *testing.T) {
	tracker := NewTracker()

	tracker.Upsert("llama3", "Hello, wor", false, "")
	tracker.Upsert("llama3", "Hello", false, "")

	entry := tracker.Snapshot()["llama3"]
	if entry.Content != "Hello, wor" {
		t.Errorf("Shorter content replaced longer: got %q", entry.Content)
	}

	tracker.Upsert("llama3", "Hello, world", false, "")
	entry = tracker.Snapshot()["llama3"]
	if entry.Content != "Hello, world" {
		t.Errorf("Expected content to grow, got %q", entry.Content)
	}
}

func TestTrackerTerminalDropsLateUpserts(t *testing.T) {
	tracker := NewTracker()

	tracker.Upsert("llama3", "final answer", true, "")
	tracker.Upsert("llama3", "final answer with a late chunk", false, "")

	entry := tracker.Snapshot()["llama3"]
	if entry.Content != "final answer" {
		t.Errorf("Late chunk modified terminal entry: got %q", entry.Content)
	}
	if !entry.Done {
		t.Error("Late chunk resurrected terminal entry")
	}
}

func TestTrackerErrorState(t *testing.T) {
	tracker := NewTracker()

	tracker.Upsert("llama3", "partial", false, "")
	tracker.Upsert("llama3", "partial", true, "connection refused")

	entry := tracker.Snapshot()["llama3"]
	if !entry.Done {
		t.Error("Expected errored entry to be terminal")
	}
	if entry.Err != "connection refused" {
		t.Errorf("Expected error message, got %q", entry.Err)
	}
}

func TestTrackerSnapshotIsolation(t *testing.T) {
	tracker := NewTracker()
	tracker.Upsert("llama3", "before", false, "")

	snapshot := tracker.Snapshot()
	tracker.Upsert("llama3", "before and after", true, "")

	if snapshot["llama3"].Content != "before" {
		t.Errorf("Snapshot mutated by later writes: got %q", snapshot["llama3"].Content)
	}
	if snapshot["llama3"].Done {
		t.Error("Snapshot mutated by later writes: done flag flipped")
	}
}

func TestTrackerClearAndRemove(t *testing.T) {
	tracker := NewTracker()
	tracker.Upsert("llama3", "a", true, "")
	tracker.Upsert("mistral", "b", true, "")

	tracker.Remove("llama3")
	snapshot := tracker.Snapshot()
	if _, ok := snapshot["llama3"]; ok {
		t.Error("Expected llama3 removed")
	}
	if _, ok := snapshot["mistral"]; !ok {
		t.Error("Remove dropped an unrelated entry")
	}

	tracker.Clear()
	if len(tracker.Snapshot()) != 0 {
		t.Error("Expected empty tracker after Clear")
	}
}

func TestTrackerConcurrentUpserts(t *testing.T) {
	tracker := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			model := fmt.Sprintf("model-%d", n%4)
			content := ""
			for j := 0; j < 100; j++ {
				content += "x"
				tracker.Upsert(model, content, false, "")
			}
		}(i)
	}
	wg.Wait()

	snapshot := tracker.Snapshot()
	if len(snapshot) != 4 {
		t.Errorf("Expected 4 entries, got %d", len(snapshot))
	}
	for model, entry := range snapshot {
		if len(entry.Content) != 100 {
			t.Errorf("Model %s: expected 100 chars, got %d", model, len(entry.Content))
		}
	}
}

func TestHasContent(t *testing.T) {
	if (ModelResponse{Content: "   \n\t "}).HasContent() {
		t.Error("Whitespace-only content reported as content")
	}
	if (ModelResponse{Content: ""}).HasContent() {
		t.Error("Empty content reported as content")
	}
	if !(ModelResponse{Content: "answer"}).HasContent() {
		t.Error("Real content not reported")
	}
}
