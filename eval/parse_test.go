package eval

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const cleanPayload = `{
	"readability": "easy",
	"scores": {"accuracy": 4, "depth": 3, "clarity": 3.5, "structure": 2, "relevance": 4},
	"final_score": 3.3,
	"difference_summary": "Covers the basics but skips goroutine internals.",
	"missing_topics": ["scheduler", "GOMAXPROCS"]
}`

func TestParseResultCleanPayload(t *testing.T) {
	result, err := parseResult(cleanPayload, 4)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}

	if result.Readability != ReadabilityEasy {
		t.Errorf("Expected easy readability, got %q", result.Readability)
	}
	if len(result.ParameterScores) != len(Criteria) {
		t.Errorf("Expected %d scores, got %d", len(Criteria), len(result.ParameterScores))
	}
	if result.ParameterScores["clarity"] != 3.5 {
		t.Errorf("Expected clarity 3.5, got %v", result.ParameterScores["clarity"])
	}
	if result.FinalScore != 3.3 {
		t.Errorf("Expected final score 3.3, got %v", result.FinalScore)
	}
	if result.Difference == nil || len(result.Difference.MissingTopics) != 2 {
		t.Errorf("Difference analysis lost: %+v", result.Difference)
	}
}

func TestParseResultFallbackExtraction(t *testing.T) {
	wrapped := "Sure! Here is my evaluation:\n```json\n" + cleanPayload + "\n```\nLet me know if you need more."

	result, err := parseResult(wrapped, 4)
	if err != nil {
		t.Fatalf("Fallback extraction failed: %v", err)
	}
	if result.FinalScore != 3.3 {
		t.Errorf("Expected final score 3.3, got %v", result.FinalScore)
	}
}

func TestParseResultBracesInsideStrings(t *testing.T) {
	payload := `noise {"readability": "medium", "scores": {"accuracy": 2, "depth": 2, "clarity": 2, "structure": 2, "relevance": 2}, "final_score": 2, "difference_summary": "uses {braces} and \"quotes\" freely", "missing_topics": []} trailing`

	result, err := parseResult(payload, 4)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}
	if !strings.Contains(result.Difference.Summary, "{braces}") {
		t.Errorf("String content mangled: %q", result.Difference.Summary)
	}
}

func TestParseResultNoPayload(t *testing.T) {
	_, err := parseResult("I cannot evaluate this response, sorry.", 4)
	if !errors.Is(err, ErrNoPayload) {
		t.Errorf("Expected ErrNoPayload, got %v", err)
	}

	_, err = parseResult("unbalanced { \"scores\": {", 4)
	if !errors.Is(err, ErrNoPayload) {
		t.Errorf("Expected ErrNoPayload for unbalanced braces, got %v", err)
	}
}

func TestParseResultClampsScores(t *testing.T) {
	payload := `{
		"readability": "medium",
		"scores": {"accuracy": 0, "depth": 9, "clarity": -2, "relevance": 2, "structure": 2},
		"final_score": 17
	}`

	result, err := parseResult(payload, 4)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}
	if result.ParameterScores["accuracy"] != 1 {
		t.Errorf("Zero not clamped to 1: %v", result.ParameterScores["accuracy"])
	}
	if result.ParameterScores["depth"] != 4 {
		t.Errorf("Overshoot not clamped to bound: %v", result.ParameterScores["depth"])
	}
	if result.ParameterScores["clarity"] != 1 {
		t.Errorf("Negative not clamped to 1: %v", result.ParameterScores["clarity"])
	}
	// Out-of-bound final score falls back to the mean of clamped scores.
	if result.FinalScore != 2 {
		t.Errorf("Expected mean fallback 2, got %v", result.FinalScore)
	}
}

func TestParseResultNumericStrings(t *testing.T) {
	payload := `{
		"readability": "technical",
		"scores": {"accuracy": "3", "depth": "2.5", "clarity": 3, "structure": "4", "relevance": 1},
		"final_score": "2.7"
	}`

	result, err := parseResult(payload, 4)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}
	if result.ParameterScores["depth"] != 2.5 {
		t.Errorf("Numeric string not coerced: %v", result.ParameterScores["depth"])
	}
	if result.FinalScore != 2.7 {
		t.Errorf("Numeric string final score not coerced: %v", result.FinalScore)
	}
}

func TestParseResultRejectsNonFiniteScores(t *testing.T) {
	// A non-finite criterion score rejects the payload outright.
	payload := `{
		"readability": "medium",
		"scores": {"accuracy": "NaN", "depth": 2, "clarity": 2, "structure": 2, "relevance": 2},
		"final_score": 2
	}`
	if _, err := parseResult(payload, 4); err == nil {
		t.Error("Expected error for NaN criterion score")
	}

	// A non-finite final score falls back to the mean of the criteria.
	payload = `{
		"readability": "medium",
		"scores": {"accuracy": 2, "depth": 2, "clarity": 2, "structure": 2, "relevance": 2},
		"final_score": "Inf"
	}`
	result, err := parseResult(payload, 4)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}
	if result.FinalScore != 2 {
		t.Errorf("Expected mean fallback 2, got %v", result.FinalScore)
	}

	// Every value in the result must survive JSON serialization.
	if _, err := json.Marshal(result); err != nil {
		t.Errorf("Result not serializable: %v", err)
	}

	payload = `{
		"readability": "medium",
		"scores": {"accuracy": 2, "depth": 2, "clarity": 2, "structure": 2, "relevance": "-Inf"},
		"final_score": 2
	}`
	if _, err := parseResult(payload, 4); err == nil {
		t.Error("Expected error for -Inf criterion score")
	}
}

func TestParseResultMissingCriterion(t *testing.T) {
	payload := `{
		"readability": "easy",
		"scores": {"accuracy": 3, "depth": 3, "clarity": 3, "structure": 3},
		"final_score": 3
	}`

	if _, err := parseResult(payload, 4); err == nil {
		t.Error("Expected error for missing criterion")
	}
}

func TestParseResultExtraneousCriterionDropped(t *testing.T) {
	payload := `{
		"readability": "easy",
		"scores": {"accuracy": 3, "depth": 3, "clarity": 3, "structure": 3, "relevance": 3, "humor": 4},
		"final_score": 3
	}`

	result, err := parseResult(payload, 4)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}
	if _, ok := result.ParameterScores["humor"]; ok {
		t.Error("Extraneous criterion kept")
	}
	if len(result.ParameterScores) != len(Criteria) {
		t.Errorf("Expected %d scores, got %d", len(Criteria), len(result.ParameterScores))
	}
}

func TestParseResultMissingFinalScore(t *testing.T) {
	payload := `{
		"readability": "easy",
		"scores": {"accuracy": 2, "depth": 4, "clarity": 3, "structure": 2, "relevance": 4}
	}`

	result, err := parseResult(payload, 4)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}
	if result.FinalScore != 3 {
		t.Errorf("Expected mean fallback 3, got %v", result.FinalScore)
	}
}

func TestParseReadabilityDefaults(t *testing.T) {
	cases := map[string]Readability{
		"easy":         ReadabilityEasy,
		" Difficult ":  ReadabilityDifficult,
		"TECHNICAL":    ReadabilityTechnical,
		"medium":       ReadabilityMedium,
		"":             ReadabilityMedium,
		"approachable": ReadabilityMedium,
	}
	for in, want := range cases {
		if got := parseReadability(in); got != want {
			t.Errorf("parseReadability(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseHighlightsPrecedence(t *testing.T) {
	payload := `{
		"similar_sentences": ["Both mention goroutines.", "Contested sentence."],
		"different_sentences": ["Contested sentence.", "Only one covers channels."]
	}`

	h, err := parseHighlights(payload, true)
	if err != nil {
		t.Fatalf("parseHighlights failed: %v", err)
	}
	if len(h.SimilarSentences) != 1 || h.SimilarSentences[0] != "Both mention goroutines." {
		t.Errorf("Different-wins precedence broken: %v", h.SimilarSentences)
	}
	if len(h.DifferentSentences) != 2 {
		t.Errorf("Different list altered: %v", h.DifferentSentences)
	}

	h, err = parseHighlights(payload, false)
	if err != nil {
		t.Fatalf("parseHighlights failed: %v", err)
	}
	if len(h.DifferentSentences) != 1 || h.DifferentSentences[0] != "Only one covers channels." {
		t.Errorf("Similar-wins precedence broken: %v", h.DifferentSentences)
	}
}

func TestParseHighlightsMissingLists(t *testing.T) {
	h, err := parseHighlights(`{"similar_sentences": ["a"]}`, true)
	if err != nil {
		t.Fatalf("parseHighlights failed: %v", err)
	}
	if h.DifferentSentences == nil {
		t.Error("Expected empty slice, got nil")
	}
}
