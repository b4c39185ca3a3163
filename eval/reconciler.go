package eval

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/amlervishal/ollamalens/core"
	"github.com/amlervishal/ollamalens/llm"
	"github.com/amlervishal/ollamalens/utils"
)

var (
	// ErrNotEvaluable is returned when a model is asked for evaluation
	// before its response reached a usable terminal state
	ErrNotEvaluable = errors.New("model response is not ready for evaluation")
)

// Judge is the narrow backend surface the reconciler calls. Any
// llm.Provider satisfies it.
type Judge interface {
	Chat(ctx context.Context, model string, messages []llm.Message) (string, error)
}

// Config tunes the reconciler
type Config struct {
	// Model is the judge model identifier on the judge backend
	Model string

	// Bound is the upper score bound (1..Bound scale)
	Bound float64

	// EvaluateOnError admits responses that finished with an error but
	// non-empty partial content into automatic evaluation
	EvaluateOnError bool

	// DifferentWins resolves highlight classification conflicts in
	// favor of the "different" list
	DifferentWins bool
}

// Reconciler ensures each qualifying model response receives exactly one
// evaluation per (prompt, content) pair, however many times the
// completion gate fires. It owns the evaluation and highlight caches,
// which live for the process lifetime.
type Reconciler struct {
	judge  Judge
	cfg    Config
	logger *utils.Logger

	mu         sync.Mutex
	prompt     string
	requested  map[string]bool // idempotency marks, reset per prompt
	inflight   map[string]bool
	results    map[string]*Result
	errors     map[string]string
	highlights map[string]*Highlights
	hlInflight map[string]bool

	// process-lifetime caches keyed by content fingerprint
	cache   map[string]*Result
	hlCache map[string]*Highlights

	wg sync.WaitGroup
}

// NewReconciler creates a reconciler around a judge backend
func NewReconciler(judge Judge, cfg Config, logger *utils.Logger) *Reconciler {
	if cfg.Bound == 0 {
		cfg.Bound = 4
	}
	return &Reconciler{
		judge:      judge,
		cfg:        cfg,
		logger:     logger,
		requested:  make(map[string]bool),
		inflight:   make(map[string]bool),
		results:    make(map[string]*Result),
		errors:     make(map[string]string),
		highlights: make(map[string]*Highlights),
		hlInflight: make(map[string]bool),
		cache:      make(map[string]*Result),
		hlCache:    make(map[string]*Highlights),
	}
}

// ResetPrompt clears per-prompt state when the active prompt changes.
// The fingerprint caches survive; they are keyed by content.
func (r *Reconciler) ResetPrompt(prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prompt == r.prompt {
		return
	}
	r.prompt = prompt
	r.requested = make(map[string]bool)
	r.inflight = make(map[string]bool)
	r.results = make(map[string]*Result)
	r.errors = make(map[string]string)
	r.highlights = make(map[string]*Highlights)
	r.hlInflight = make(map[string]bool)
}

// ResetModel clears one model's marks and result so a regenerated
// response is evaluated afresh on the next gate fire
func (r *Reconciler) ResetModel(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.requested, model)
	delete(r.results, model)
	delete(r.errors, model)
	delete(r.highlights, model)
}

// OnTurnComplete is the gate consumer: it computes the minimal set of
// models needing evaluation and dispatches one judge call per model,
// at most once per (prompt, model) until a failure clears the mark.
// Firing it repeatedly with unchanged state is harmless.
func (r *Reconciler) OnTurnComplete(ctx context.Context, question string, snapshot map[string]core.ModelResponse, selected []string) {
	r.mu.Lock()
	r.prompt = question

	var candidates []string
	for _, model := range selected {
		entry, ok := snapshot[model]
		if !ok || !entry.Done || !entry.HasContent() {
			continue
		}
		if entry.Err != "" && !r.cfg.EvaluateOnError {
			continue
		}
		if r.requested[model] || r.inflight[model] || r.results[model] != nil {
			continue
		}
		r.requested[model] = true
		r.inflight[model] = true
		candidates = append(candidates, model)
	}
	r.mu.Unlock()

	for _, model := range candidates {
		model := model
		r.wg.Add(1)
		utils.SafeGo(r.logger, "evaluate "+model, func() {
			defer r.wg.Done()
			r.evaluate(ctx, question, model, snapshot)
		})
	}
}

// EvaluateAll manually triggers the shared gate machinery for every
// selected model
func (r *Reconciler) EvaluateAll(ctx context.Context, question string, snapshot map[string]core.ModelResponse, selected []string) {
	r.OnTurnComplete(ctx, question, snapshot, selected)
}

// EvaluateOne runs a manual evaluation for a single model, bypassing
// both the idempotency set and the cache: it always issues a fresh
// request. The model must have a terminal response with content.
func (r *Reconciler) EvaluateOne(ctx context.Context, question, model string, snapshot map[string]core.ModelResponse) (*Result, error) {
	entry, ok := snapshot[model]
	if !ok || !entry.Done || !entry.HasContent() {
		return nil, fmt.Errorf("%w: %s", ErrNotEvaluable, model)
	}

	r.mu.Lock()
	r.prompt = question
	r.requested[model] = true
	r.inflight[model] = true
	r.mu.Unlock()

	result, err := r.callJudge(ctx, question, model, entry.Content, siblingContents(snapshot, model))
	fp := r.fingerprint(model, entry.Content)

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, model)
	if err != nil {
		delete(r.requested, model)
		r.errors[model] = err.Error()
		return nil, err
	}
	delete(r.errors, model)
	r.results[model] = result
	r.cache[fp] = result
	return result, nil
}

// evaluate runs one automatic evaluation, serving from the cache when
// the content fingerprint is unchanged
func (r *Reconciler) evaluate(ctx context.Context, question, model string, snapshot map[string]core.ModelResponse) {
	entry := snapshot[model]
	fp := r.fingerprint(model, entry.Content)

	r.mu.Lock()
	if cached, ok := r.cache[fp]; ok {
		r.results[model] = cached
		delete(r.inflight, model)
		delete(r.errors, model)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	result, err := r.callJudge(ctx, question, model, entry.Content, siblingContents(snapshot, model))

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, model)
	if err != nil {
		// Clearing the idempotency mark keeps a later gate fire or a
		// user retry possible.
		delete(r.requested, model)
		r.errors[model] = err.Error()
		r.logger.Warn("Evaluation failed for %s: %v", model, err)
		return
	}
	delete(r.errors, model)
	r.results[model] = result
	r.cache[fp] = result
}

// callJudge issues one scoring request and parses the reply
func (r *Reconciler) callJudge(ctx context.Context, question, model, content string, siblings map[string]string) (*Result, error) {
	prompt := buildJudgePrompt(question, model, content, siblings, r.cfg.Bound)

	reply, err := r.judge.Chat(ctx, r.cfg.Model, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("judge call failed: %w", err)
	}

	result, err := parseResult(reply, r.cfg.Bound)
	if err != nil {
		return nil, err
	}

	// A lone response still yields a well-formed comparison section.
	if len(siblings) == 0 {
		if result.Difference == nil {
			result.Difference = &DifferenceAnalysis{MissingTopics: []string{}}
		} else {
			result.Difference.MissingTopics = []string{}
		}
	}

	return result, nil
}

// AnalyzeHighlights classifies one model's sentences against the
// siblings available at request time. Results are cached by content
// fingerprint; late-arriving siblings are not retroactively
// incorporated unless the caller re-triggers.
func (r *Reconciler) AnalyzeHighlights(ctx context.Context, question, model string, snapshot map[string]core.ModelResponse) (*Highlights, error) {
	entry, ok := snapshot[model]
	if !ok || !entry.Done || !entry.HasContent() {
		return nil, fmt.Errorf("%w: %s", ErrNotEvaluable, model)
	}

	siblings := siblingContents(snapshot, model)
	fp := r.highlightFingerprint(model, entry.Content, siblings)

	r.mu.Lock()
	if cached, ok := r.hlCache[fp]; ok {
		r.highlights[model] = cached
		r.mu.Unlock()
		return cached, nil
	}
	if r.hlInflight[model] {
		r.mu.Unlock()
		return nil, fmt.Errorf("highlight analysis already in flight for %s", model)
	}
	r.hlInflight[model] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.hlInflight, model)
		r.mu.Unlock()
	}()

	prompt := buildHighlightPrompt(question, model, entry.Content, siblings)
	reply, err := r.judge.Chat(ctx, r.cfg.Model, []llm.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("highlight call failed: %w", err)
	}

	h, err := parseHighlights(reply, r.cfg.DifferentWins)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.highlights[model] = h
	r.hlCache[fp] = h
	r.mu.Unlock()

	return h, nil
}

// Status returns a copy of the per-model result, error, and in-flight
// maps for the view layer
func (r *Reconciler) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		Results:    make(map[string]*Result, len(r.results)),
		Errors:     make(map[string]string, len(r.errors)),
		Highlights: make(map[string]*Highlights, len(r.highlights)),
	}
	for k, v := range r.results {
		s.Results[k] = v
	}
	for k, v := range r.errors {
		s.Errors[k] = v
	}
	for k, v := range r.highlights {
		s.Highlights[k] = v
	}
	for k := range r.inflight {
		s.InFlight = append(s.InFlight, k)
	}
	return s
}

// Wait blocks until all dispatched automatic evaluations settle
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

// fingerprint derives a cheap cache key from the prompt, model, and a
// content prefix, so unchanged content skips recomputation without
// storing the content twice
func (r *Reconciler) fingerprint(model, content string) string {
	r.mu.Lock()
	prompt := r.prompt
	r.mu.Unlock()
	return fingerprintParts(prompt, model, content)
}

func (r *Reconciler) highlightFingerprint(model, content string, siblings map[string]string) string {
	h := fnv.New64a()
	for _, name := range sortedKeys(siblings) {
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(siblings[name]))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("hl|%s|%x", r.fingerprint(model, content), h.Sum64())
}

func fingerprintParts(prompt, model, content string) string {
	h := fnv.New64a()
	h.Write([]byte(prompt))
	prefix := content
	if len(prefix) > 64 {
		prefix = prefix[:64]
	}
	return fmt.Sprintf("%x|%s|%d|%s", h.Sum64(), model, len(content), prefix)
}

// siblingContents collects the other models' terminal responses
func siblingContents(snapshot map[string]core.ModelResponse, model string) map[string]string {
	siblings := make(map[string]string)
	for name, entry := range snapshot {
		if name == model || !entry.Done || !entry.HasContent() {
			continue
		}
		siblings[name] = entry.Content
	}
	return siblings
}
