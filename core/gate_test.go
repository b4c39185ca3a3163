package core

import "testing"

// applyOrder replays a sequence of upserts against a fresh tracker and
// returns the resulting snapshot.
func applyOrder(upserts [][4]string) map[string]ModelResponse {
	tracker := NewTracker()
	for _, u := range upserts {
		tracker.Upsert(u[0], u[1], u[2] == "done", u[3])
	}
	return tracker.Snapshot()
}

func TestAllDoneOrderIndependent(t *testing.T) {
	selected := []string{"llama3", "mistral", "phi3"}

	orders := [][][4]string{
		// llama3 first, then mistral, then phi3
		{
			{"llama3", "answer a", "done", ""},
			{"mistral", "answer b", "done", ""},
			{"phi3", "answer c", "done", ""},
		},
		// reverse order
		{
			{"phi3", "answer c", "done", ""},
			{"mistral", "answer b", "done", ""},
			{"llama3", "answer a", "done", ""},
		},
		// interleaved partials before any completion
		{
			{"mistral", "ans", "", ""},
			{"llama3", "an", "", ""},
			{"phi3", "answer c", "done", ""},
			{"llama3", "answer a", "done", ""},
			{"mistral", "answer b", "done", ""},
		},
	}

	for i, order := range orders {
		snapshot := applyOrder(order)
		if !AllDone(snapshot, selected) {
			t.Errorf("Order %d: expected AllDone true", i)
		}
	}
}

func TestAllDoneFalseWhileStreaming(t *testing.T) {
	selected := []string{"llama3", "mistral"}

	snapshot := applyOrder([][4]string{
		{"llama3", "answer a", "done", ""},
		{"mistral", "partial", "", ""},
	})

	if AllDone(snapshot, selected) {
		t.Error("Gate opened with a model still streaming")
	}
}

func TestAllDoneFalseWithMissingModel(t *testing.T) {
	selected := []string{"llama3", "mistral"}

	snapshot := applyOrder([][4]string{
		{"llama3", "answer a", "done", ""},
	})

	if AllDone(snapshot, selected) {
		t.Error("Gate opened with a selected model absent from the snapshot")
	}
}

func TestAllDoneFalseWithEmptyFailure(t *testing.T) {
	selected := []string{"llama3", "mistral"}

	snapshot := applyOrder([][4]string{
		{"llama3", "answer a", "done", ""},
		{"mistral", "", "done", "connection refused"},
	})

	if AllDone(snapshot, selected) {
		t.Error("Gate counted an empty errored response as complete")
	}
	if !AllTerminal(snapshot, selected) {
		t.Error("Terminal check blocked by an empty errored response")
	}
}

func TestAllDoneWhitespaceContent(t *testing.T) {
	selected := []string{"llama3"}

	snapshot := applyOrder([][4]string{
		{"llama3", "  \n ", "done", ""},
	})

	if AllDone(snapshot, selected) {
		t.Error("Whitespace-only response counted as complete")
	}
}

func TestAllDoneEmptySelection(t *testing.T) {
	if AllDone(map[string]ModelResponse{}, nil) {
		t.Error("Empty selection reported complete")
	}
	if AllTerminal(map[string]ModelResponse{}, nil) {
		t.Error("Empty selection reported terminal")
	}
}

func TestAllDoneIgnoresUnselectedModels(t *testing.T) {
	selected := []string{"llama3"}

	snapshot := applyOrder([][4]string{
		{"llama3", "answer a", "done", ""},
		{"stale-model", "partial", "", ""},
	})

	if !AllDone(snapshot, selected) {
		t.Error("Unselected leftover entry kept the gate closed")
	}
}
