package core

// AllDone reports whether every selected model has reached a terminal
// state with non-empty trimmed content. It is a pure predicate over a
// snapshot; callers must never feed it the live tracker, or models
// checked early could disagree with models checked late.
//
// A model that finished with an error and produced nothing keeps the
// gate closed: such a response is excluded from evaluation downstream
// rather than counted as complete here.
func AllDone(snapshot map[string]ModelResponse, selected []string) bool {
	if len(selected) == 0 {
		return false
	}

	for _, model := range selected {
		entry, ok := snapshot[model]
		if !ok || !entry.Done || !entry.HasContent() {
			return false
		}
	}

	return true
}

// AllTerminal reports whether every selected model has finished,
// successfully or not. The orchestrator's bounded wait polls this form,
// so one model failing with empty output never blocks the turn from
// moving on to evaluation of its siblings.
func AllTerminal(snapshot map[string]ModelResponse, selected []string) bool {
	if len(selected) == 0 {
		return false
	}

	for _, model := range selected {
		entry, ok := snapshot[model]
		if !ok || !entry.Done {
			return false
		}
	}

	return true
}
