package core

import (
	"sort"

	"github.com/amlervishal/ollamalens/db"
)

// Turn is one user prompt plus the per-model responses it produced,
// merged from persisted rows and (for the last turn) live tracker state.
type Turn struct {
	Turn        int64                    `json:"turn"`
	UserMessage *db.Message              `json:"user_message,omitempty"`
	Responses   map[string]ModelResponse `json:"responses"`
}

// MergeTurns reconciles persisted messages with the live tracker
// snapshot into one ordered, de-duplicated list of turns. Only the last
// turn consults live state: a model present in both sources shows the
// live value while it is still streaming and the persisted value once
// persistence has occurred, so partially-streamed text never visually
// reverts. No model renders twice.
func MergeTurns(messages []*db.Message, selected []string, live map[string]ModelResponse) []Turn {
	byTurn := make(map[int64]*Turn)
	var order []int64

	for _, msg := range messages {
		t, ok := byTurn[msg.Turn]
		if !ok {
			t = &Turn{Turn: msg.Turn, Responses: make(map[string]ModelResponse)}
			byTurn[msg.Turn] = t
			order = append(order, msg.Turn)
		}

		if msg.Role == "user" {
			t.UserMessage = msg
			continue
		}

		t.Responses[msg.Model] = ModelResponse{
			Model:   msg.Model,
			Content: msg.Content,
			Done:    true,
		}
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	turns := make([]Turn, 0, len(byTurn))
	for _, n := range order {
		turns = append(turns, *byTurn[n])
	}

	if len(turns) == 0 || len(live) == 0 {
		return turns
	}

	last := &turns[len(turns)-1]
	for _, model := range selected {
		liveEntry, hasLive := live[model]
		if !hasLive {
			continue
		}
		persisted, hasPersisted := last.Responses[model]

		switch {
		case hasPersisted && liveEntry.Done:
			// Persistence happened; the stored row wins.
			last.Responses[model] = persisted
		default:
			last.Responses[model] = liveEntry
		}
	}

	return turns
}
