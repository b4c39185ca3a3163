package eval

// Readability classifies how approachable a response is
type Readability string

const (
	ReadabilityEasy      Readability = "easy"
	ReadabilityMedium    Readability = "medium"
	ReadabilityDifficult Readability = "difficult"
	ReadabilityTechnical Readability = "technical"
)

// Criteria is the fixed set of scored parameters. Every result carries
// exactly these, no more, no fewer.
var Criteria = []string{"accuracy", "depth", "clarity", "structure", "relevance"}

// DifferenceAnalysis summarizes how a response differs from its siblings
type DifferenceAnalysis struct {
	Summary       string   `json:"summary"`
	MissingTopics []string `json:"missing_topics"`
}

// Result is one model's evaluation for the current turn
type Result struct {
	Readability     Readability         `json:"readability"`
	ParameterScores map[string]float64  `json:"parameter_scores"`
	FinalScore      float64             `json:"final_score"`
	Difference      *DifferenceAnalysis `json:"difference,omitempty"`
}

// Highlights classifies a response's sentences against its siblings
type Highlights struct {
	SimilarSentences   []string `json:"similar_sentences"`
	DifferentSentences []string `json:"different_sentences"`
}

// Status is the reconciler state exposed to the view layer
type Status struct {
	Results    map[string]*Result     `json:"results"`
	Errors     map[string]string      `json:"errors"`
	InFlight   []string               `json:"in_flight"`
	Highlights map[string]*Highlights `json:"highlights,omitempty"`
}
