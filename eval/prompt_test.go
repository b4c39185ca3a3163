package eval

import (
	"strings"
	"testing"
)

func TestJudgePromptScaleFollowsBound(t *testing.T) {
	prompt := buildJudgePrompt("q", "llama3", "answer", nil, 10)
	if !strings.Contains(prompt, "1-10") {
		t.Error("Prompt does not carry the configured scale")
	}
	if strings.Contains(prompt, "1-4") {
		t.Error("Prompt still carries the default scale")
	}
	if !strings.Contains(prompt, "10 (excellent)") {
		t.Error("Scale explanation does not match the bound")
	}

	prompt = buildJudgePrompt("q", "llama3", "answer", nil, 4)
	if !strings.Contains(prompt, "1-4") {
		t.Error("Default bound not rendered as 1-4")
	}
}

func TestJudgePromptSiblingOrderStable(t *testing.T) {
	siblings := map[string]string{
		"zeta":  "zeta answer",
		"alpha": "alpha answer",
	}
	prompt := buildJudgePrompt("q", "llama3", "answer", siblings, 4)

	alphaIdx := strings.Index(prompt, "[alpha]")
	zetaIdx := strings.Index(prompt, "[zeta]")
	if alphaIdx < 0 || zetaIdx < 0 {
		t.Fatal("Siblings missing from prompt")
	}
	if alphaIdx > zetaIdx {
		t.Error("Siblings not in sorted order")
	}
}
