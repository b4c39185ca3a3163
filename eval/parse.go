package eval

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrNoPayload is returned when neither the strict nor the fallback
// parse finds a structured payload in the judge's reply
var ErrNoPayload = errors.New("no structured payload found in evaluation response")

// minScore is the lower clamp bound for all scores
const minScore = 1.0

// rawResult mirrors the JSON payload the judge is asked for. Scores are
// kept raw so numeric strings can be coerced instead of rejected.
type rawResult struct {
	Readability       string                     `json:"readability"`
	Scores            map[string]json.RawMessage `json:"scores"`
	FinalScore        json.RawMessage            `json:"final_score"`
	DifferenceSummary string                     `json:"difference_summary"`
	MissingTopics     []string                   `json:"missing_topics"`
}

type rawHighlights struct {
	SimilarSentences   []string `json:"similar_sentences"`
	DifferentSentences []string `json:"different_sentences"`
}

// extractPayload finds the JSON object in a judge reply. Stage one
// parses the whole trimmed text strictly; stage two falls back to the
// first balanced brace-delimited fragment, tolerating whatever prose or
// code fences the model wrapped around it.
func extractPayload(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	fragment, ok := firstBalancedObject(trimmed)
	if !ok || !json.Valid([]byte(fragment)) {
		return "", ErrNoPayload
	}
	return fragment, nil
}

// firstBalancedObject scans for the first {...} fragment with balanced
// braces, ignoring braces inside JSON string literals
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}

	return "", false
}

// parseResult parses and validates a judge reply into a Result. Missing
// criteria reject the payload; extraneous criteria are dropped;
// out-of-bound scores are clamped rather than rejected.
func parseResult(text string, bound float64) (*Result, error) {
	payload, err := extractPayload(text)
	if err != nil {
		return nil, err
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse evaluation payload: %w", err)
	}

	scores := make(map[string]float64, len(Criteria))
	for _, criterion := range Criteria {
		rawScore, ok := raw.Scores[criterion]
		if !ok {
			return nil, fmt.Errorf("evaluation payload missing score %q", criterion)
		}
		v, err := coerceScore(rawScore)
		if err != nil {
			return nil, fmt.Errorf("invalid score for %q: %w", criterion, err)
		}
		scores[criterion] = round1(clamp(v, bound))
	}

	final, err := coerceScore(raw.FinalScore)
	if err != nil || final < minScore || final > bound {
		// Absent or unusable final score falls back to the mean.
		final = meanScore(scores)
	}

	result := &Result{
		Readability:     parseReadability(raw.Readability),
		ParameterScores: scores,
		FinalScore:      round1(clamp(final, bound)),
	}

	if raw.DifferenceSummary != "" || raw.MissingTopics != nil {
		topics := raw.MissingTopics
		if topics == nil {
			topics = []string{}
		}
		result.Difference = &DifferenceAnalysis{
			Summary:       raw.DifferenceSummary,
			MissingTopics: topics,
		}
	}

	return result, nil
}

// parseHighlights parses a highlight-classification reply. A fragment
// reported in both lists keeps only one, per the precedence flag.
func parseHighlights(text string, differentWins bool) (*Highlights, error) {
	payload, err := extractPayload(text)
	if err != nil {
		return nil, err
	}

	var raw rawHighlights
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse highlight payload: %w", err)
	}

	h := &Highlights{
		SimilarSentences:   raw.SimilarSentences,
		DifferentSentences: raw.DifferentSentences,
	}
	if h.SimilarSentences == nil {
		h.SimilarSentences = []string{}
	}
	if h.DifferentSentences == nil {
		h.DifferentSentences = []string{}
	}

	if differentWins {
		h.SimilarSentences = subtract(h.SimilarSentences, h.DifferentSentences)
	} else {
		h.DifferentSentences = subtract(h.DifferentSentences, h.SimilarSentences)
	}

	return h, nil
}

func subtract(from, exclude []string) []string {
	set := make(map[string]bool, len(exclude))
	for _, s := range exclude {
		set[s] = true
	}
	out := make([]string, 0, len(from))
	for _, s := range from {
		if !set[s] {
			out = append(out, s)
		}
	}
	return out
}

func parseReadability(s string) Readability {
	switch Readability(strings.ToLower(strings.TrimSpace(s))) {
	case ReadabilityEasy:
		return ReadabilityEasy
	case ReadabilityDifficult:
		return ReadabilityDifficult
	case ReadabilityTechnical:
		return ReadabilityTechnical
	default:
		return ReadabilityMedium
	}
}

// coerceScore accepts JSON numbers and finite numeric strings. NaN and
// infinities are rejected here because clamp cannot bound them and they
// are not representable in the JSON the API serves.
func coerceScore(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 {
		return 0, errors.New("score is absent")
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return finiteScore(n)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("score %q is not numeric", s)
		}
		return finiteScore(n)
	}

	return 0, fmt.Errorf("score %s is not numeric", string(raw))
}

func finiteScore(n float64) (float64, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("score %v is not finite", n)
	}
	return n, nil
}

func clamp(v, bound float64) float64 {
	if v < minScore {
		return minScore
	}
	if v > bound {
		return bound
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func meanScore(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return minScore
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	return sum / float64(len(scores))
}
