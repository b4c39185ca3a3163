package eval

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// buildJudgePrompt builds the comparative scoring prompt for one model's
// response. Sibling responses are included so scores are relative, not
// absolute; with no siblings the judge scores the response on its own.
// The scale text follows the configured bound so the judge is asked for
// the same range the parser clamps to.
func buildJudgePrompt(question, model, target string, siblings map[string]string, bound float64) string {
	upper := strconv.FormatFloat(bound, 'f', -1, 64)
	scale := "1-" + upper

	var b strings.Builder

	b.WriteString("You are an impartial evaluator of AI assistant responses.\n\n")
	b.WriteString("The user asked:\n")
	b.WriteString(question)
	b.WriteString("\n\nEvaluate the following response from model \"")
	b.WriteString(model)
	b.WriteString("\":\n---\n")
	b.WriteString(target)
	b.WriteString("\n---\n")

	if len(siblings) > 0 {
		b.WriteString("\nFor comparison, sibling models answered the same question:\n")
		for _, name := range sortedKeys(siblings) {
			fmt.Fprintf(&b, "\n[%s]\n%s\n", name, siblings[name])
		}
	}

	b.WriteString("\nRespond with ONLY a JSON object, no other text:\n")
	fmt.Fprintf(&b, `{
  "readability": "easy" | "medium" | "difficult" | "technical",
  "scores": {"accuracy": %[1]s, "depth": %[1]s, "clarity": %[1]s, "structure": %[1]s, "relevance": %[1]s},
  "final_score": %[1]s,
  "difference_summary": "one sentence on how this response differs from the siblings",
  "missing_topics": ["topics siblings covered that this response did not"]
}`, scale)
	fmt.Fprintf(&b, "\nScores run from 1 (poor) to %s (excellent). ", upper)
	b.WriteString("With no sibling responses, use an empty missing_topics list.\n")

	return b.String()
}

// buildHighlightPrompt asks the judge to classify the target's sentences
// as shared with or unique against the sibling set
func buildHighlightPrompt(question, model, target string, siblings map[string]string) string {
	var b strings.Builder

	b.WriteString("You compare AI assistant responses sentence by sentence.\n\n")
	b.WriteString("The user asked:\n")
	b.WriteString(question)
	b.WriteString("\n\nTarget response from model \"")
	b.WriteString(model)
	b.WriteString("\":\n---\n")
	b.WriteString(target)
	b.WriteString("\n---\n")

	for _, name := range sortedKeys(siblings) {
		fmt.Fprintf(&b, "\nSibling response [%s]:\n%s\n", name, siblings[name])
	}

	b.WriteString("\nCopy sentences verbatim from the TARGET response into two lists: ")
	b.WriteString("sentences whose meaning also appears in at least one sibling, and sentences unique to the target. ")
	b.WriteString("Respond with ONLY a JSON object, no other text:\n")
	b.WriteString(`{"similar_sentences": ["..."], "different_sentences": ["..."]}`)
	b.WriteString("\n")

	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
