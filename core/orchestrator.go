package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/amlervishal/ollamalens/db"
	"github.com/amlervishal/ollamalens/llm"
	"github.com/amlervishal/ollamalens/utils"
)

var (
	// ErrEmptyPrompt is returned when a prompt has neither text nor attachments
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrNoModels is returned when no models are selected
	ErrNoModels = errors.New("no models selected")

	// ErrUnknownModel is returned when regenerating a model with no prior
	// result in the current turn
	ErrUnknownModel = errors.New("model has no result in the current turn")

	// ErrRegenerateInFlight is returned when a regeneration for the same
	// model is already running
	ErrRegenerateInFlight = errors.New("regeneration already in flight for this model")

	// ErrPromptInFlight is returned when a prompt fan-out is already
	// running; concurrent prompts would corrupt the shared turn state
	ErrPromptInFlight = errors.New("a prompt is already in flight")

	// ErrNoActiveTurn is returned when regenerating before any prompt was sent
	ErrNoActiveTurn = errors.New("no active turn")
)

const (
	// waitPollInterval is how often the bounded all-done wait re-checks
	waitPollInterval = 50 * time.Millisecond

	// waitCeiling bounds the all-done wait before proceeding anyway
	waitCeiling = 5 * time.Second
)

// Store is the persistence surface the orchestrator needs. *db.DB satisfies it.
type Store interface {
	CreateConversation(title, category string) (*db.Conversation, error)
	GetConversation(id int64) (*db.Conversation, error)
	UpdateConversation(id int64, title, category string) error
	CreateMessage(conversationID, turn int64, role, content, provider, model, attachments string) (*db.Message, error)
	ListMessages(conversationID int64) ([]*db.Message, error)
	DeleteMessage(id int64) error
	NextTurn(conversationID int64) (int64, error)
}

// Gateway resolves a qualified model identifier to a backend provider.
// *llm.Registry satisfies it.
type Gateway interface {
	Resolve(qualified string) (llm.Provider, string, error)
}

// Evaluator consumes turn-completion events. The evaluation reconciler
// satisfies it; a nil evaluator disables the second pass.
type Evaluator interface {
	// ResetPrompt clears per-prompt evaluation state when the active prompt changes
	ResetPrompt(prompt string)

	// ResetModel clears one model's evaluation state ahead of a regeneration
	ResetModel(model string)

	// OnTurnComplete is invoked with a consistent snapshot once the turn's
	// fan-out has reached terminal state (or the bounded wait gave up)
	OnTurnComplete(ctx context.Context, question string, snapshot map[string]ModelResponse, selected []string)
}

// ChunkObserver receives tracker updates as they happen, so a transport
// can stream them out. May be nil.
type ChunkObserver func(ModelResponse)

// SendRequest carries one user prompt and its fan-out targets
type SendRequest struct {
	Prompt      string
	Attachments []llm.Attachment
	Models      []string // qualified identifiers, order significant
}

// TurnResult summarizes a completed fan-out
type TurnResult struct {
	ConversationID int64                    `json:"conversation_id"`
	Turn           int64                    `json:"turn"`
	Responses      map[string]ModelResponse `json:"responses"`
	WaitTimedOut   bool                     `json:"wait_timed_out,omitempty"`
}

// Orchestrator executes one user prompt against the selected models,
// folds streamed output into the tracker, persists finalized messages,
// and triggers the evaluation pass. It owns the tracker for writes.
type Orchestrator struct {
	gateway   Gateway
	store     Store
	tracker   *Tracker
	logger    *utils.Logger
	evaluator Evaluator

	mu             sync.Mutex
	conversationID int64
	turn           int64
	prompt         string
	selected       []string
	messageIDs     map[string]int64 // persisted assistant message per model, current turn
	cancels        map[string]context.CancelFunc
	generations    map[string]int
	regenBusy      map[string]bool
	sendBusy       bool
	maxHistory     int
	titleDone      bool
}

// NewOrchestrator creates an orchestrator around the given collaborators
func NewOrchestrator(gateway Gateway, store Store, logger *utils.Logger) *Orchestrator {
	return &Orchestrator{
		gateway:     gateway,
		store:       store,
		tracker:     NewTracker(),
		logger:      logger,
		messageIDs:  make(map[string]int64),
		cancels:     make(map[string]context.CancelFunc),
		generations: make(map[string]int),
		regenBusy:   make(map[string]bool),
	}
}

// SetEvaluator wires the evaluation reconciler in as the gate consumer
func (o *Orchestrator) SetEvaluator(e Evaluator) {
	o.evaluator = e
}

// SetMaxHistory caps how many history messages a model sees per request.
// Zero means unlimited.
func (o *Orchestrator) SetMaxHistory(n int) {
	o.mu.Lock()
	o.maxHistory = n
	o.mu.Unlock()
}

// Tracker exposes the tracker for read-only snapshot consumers
func (o *Orchestrator) Tracker() *Tracker {
	return o.tracker
}

// ConversationID returns the active conversation, 0 when none exists yet
func (o *Orchestrator) ConversationID() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conversationID
}

// Selected returns the model list of the current turn
func (o *Orchestrator) Selected() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.selected...)
}

// Prompt returns the active turn's user prompt
func (o *Orchestrator) Prompt() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prompt
}

// OpenConversation switches the orchestrator onto an existing
// conversation, cancelling any in-flight work first so late results
// cannot land in the wrong turn.
func (o *Orchestrator) OpenConversation(id int64) error {
	if _, err := o.store.GetConversation(id); err != nil {
		return err
	}

	o.Reset()

	o.mu.Lock()
	o.conversationID = id
	o.titleDone = true // existing conversation keeps its title
	o.mu.Unlock()
	return nil
}

// Reset cancels all in-flight generations and clears turn state
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	for _, cancel := range o.cancels {
		cancel()
	}
	o.cancels = make(map[string]context.CancelFunc)
	o.generations = make(map[string]int)
	o.regenBusy = make(map[string]bool)
	o.messageIDs = make(map[string]int64)
	o.conversationID = 0
	o.turn = 0
	o.prompt = ""
	o.selected = nil
	o.titleDone = false
	o.mu.Unlock()

	o.tracker.Clear()
}

// SendPrompt runs one user prompt against the selected models, strictly
// sequentially in the given order. One model's failure never aborts its
// siblings. The user message is persisted before any model is invoked.
func (o *Orchestrator) SendPrompt(ctx context.Context, req SendRequest, observe ChunkObserver) (*TurnResult, error) {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Attachments) == 0 {
		return nil, ErrEmptyPrompt
	}
	if len(req.Models) == 0 {
		return nil, ErrNoModels
	}

	// One fan-out at a time: a second concurrent prompt would overwrite
	// the turn state the first one's streams still write into.
	o.mu.Lock()
	if o.sendBusy {
		o.mu.Unlock()
		return nil, ErrPromptInFlight
	}
	o.sendBusy = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.sendBusy = false
		o.mu.Unlock()
	}()

	attachmentsJSON := ""
	if len(req.Attachments) > 0 {
		data, err := json.Marshal(req.Attachments)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attachments: %w", err)
		}
		attachmentsJSON = string(data)
	}

	o.mu.Lock()
	if o.conversationID == 0 {
		conv, err := o.store.CreateConversation("New Chat", "")
		if err != nil {
			o.mu.Unlock()
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		o.conversationID = conv.ID
	}
	convID := o.conversationID

	turn, err := o.store.NextTurn(convID)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.turn = turn
	o.prompt = req.Prompt
	o.selected = append([]string(nil), req.Models...)
	o.messageIDs = make(map[string]int64)
	o.mu.Unlock()

	// Persist the prompt before touching any model, so a crash mid-turn
	// does not lose it.
	if _, err := o.store.CreateMessage(convID, turn, "user", req.Prompt, "", "", attachmentsJSON); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	o.tracker.Clear()
	if o.evaluator != nil {
		o.evaluator.ResetPrompt(req.Prompt)
	}

	for _, model := range req.Models {
		history := o.buildHistory(convID, turn, model, req.Attachments)
		o.runModel(ctx, model, history, observe)
	}

	timedOut := o.waitAllDone(ctx, req.Models)
	if timedOut {
		o.logger.Warn("Timed out waiting for all models to finish; proceeding with partial state")
	}

	snapshot := o.tracker.Snapshot()
	if o.evaluator != nil {
		o.evaluator.OnTurnComplete(ctx, req.Prompt, snapshot, req.Models)
	}

	o.maybeGenerateTitle(req.Models)

	return &TurnResult{
		ConversationID: convID,
		Turn:           turn,
		Responses:      snapshot,
		WaitTimedOut:   timedOut,
	}, nil
}

// Regenerate replays the current turn's prompt against a single model.
// The stale persisted message is removed and the tracker slot cleared
// before the new generation starts; sibling models are untouched.
func (o *Orchestrator) Regenerate(ctx context.Context, model string, observe ChunkObserver) (*TurnResult, error) {
	o.mu.Lock()
	if o.turn == 0 {
		o.mu.Unlock()
		return nil, ErrNoActiveTurn
	}
	if !contains(o.selected, model) {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	if o.regenBusy[model] {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRegenerateInFlight, model)
	}
	o.regenBusy[model] = true

	convID := o.conversationID
	turn := o.turn
	prompt := o.prompt
	selected := append([]string(nil), o.selected...)
	staleID, hadMessage := o.messageIDs[model]
	delete(o.messageIDs, model)

	// Supersede any in-flight generation for this model before its slot
	// is reused.
	if cancel, ok := o.cancels[model]; ok {
		cancel()
		delete(o.cancels, model)
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		delete(o.regenBusy, model)
		o.mu.Unlock()
	}()

	if hadMessage {
		if err := o.store.DeleteMessage(staleID); err != nil {
			o.logger.Error("Failed to delete stale message for %s: %v", model, err)
		}
	}

	o.tracker.Remove(model)
	if o.evaluator != nil {
		o.evaluator.ResetModel(model)
	}

	history := o.buildHistory(convID, turn, model, nil)
	o.runModel(ctx, model, history, observe)

	snapshot := o.tracker.Snapshot()
	if o.evaluator != nil && AllTerminal(snapshot, selected) {
		o.evaluator.OnTurnComplete(ctx, prompt, snapshot, selected)
	}

	return &TurnResult{
		ConversationID: convID,
		Turn:           turn,
		Responses:      snapshot,
	}, nil
}

// buildHistory assembles the message history a model sees: every prior
// user message plus that model's own assistant replies. Sibling models'
// answers stay out of each other's context.
func (o *Orchestrator) buildHistory(convID, currentTurn int64, model string, attachments []llm.Attachment) []llm.Message {
	messages, err := o.store.ListMessages(convID)
	if err != nil {
		o.logger.Error("Failed to load history: %v", err)
		return nil
	}

	var history []llm.Message
	for _, msg := range messages {
		switch {
		case msg.Role == "user":
			m := llm.Message{Role: "user", Content: msg.Content}
			if msg.Turn == currentTurn && len(attachments) > 0 {
				m.Attachments = attachments
			} else if msg.Attachments != "" {
				var atts []llm.Attachment
				if err := json.Unmarshal([]byte(msg.Attachments), &atts); err != nil {
					o.logger.Warn("Failed to parse attachments for message %d: %v", msg.ID, err)
				} else {
					m.Attachments = atts
				}
			}
			history = append(history, m)
		case msg.Role == "assistant" && msg.Model == model && msg.Turn != currentTurn:
			history = append(history, llm.Message{Role: "assistant", Content: msg.Content})
		}
	}

	o.mu.Lock()
	max := o.maxHistory
	o.mu.Unlock()
	if max > 0 && len(history) > max {
		// Keep the tail so the current prompt is always included.
		history = history[len(history)-max:]
	}

	return history
}

// runModel streams one model's generation into the tracker and persists
// the finalized message. Errors terminate only this model's slot.
func (o *Orchestrator) runModel(ctx context.Context, model string, history []llm.Message, observe ChunkObserver) {
	provider, backendModel, err := o.gateway.Resolve(model)
	if err != nil {
		o.finalize(model, "", err.Error(), observe)
		return
	}

	o.mu.Lock()
	gen := o.generations[model] + 1
	o.generations[model] = gen
	streamCtx, cancel := context.WithCancel(ctx)
	o.cancels[model] = cancel
	o.mu.Unlock()
	defer cancel()

	o.tracker.Upsert(model, "", false, "")
	o.notify(model, observe)

	stream, err := o.openStreamWithRetry(streamCtx, provider, backendModel, history)
	if err != nil {
		if o.currentGeneration(model) == gen {
			o.finalize(model, "", err.Error(), observe)
		}
		return
	}

	var full strings.Builder
	for chunk := range stream {
		// A newer generation owns this slot now; drop late chunks.
		if o.currentGeneration(model) != gen {
			return
		}

		if chunk.Error != nil {
			o.logger.Error("Stream error for %s: %v", model, chunk.Error)
			o.finalize(model, full.String(), chunk.Error.Error(), observe)
			return
		}

		if chunk.Content != "" {
			full.WriteString(chunk.Content)
			o.tracker.Upsert(model, full.String(), false, "")
			o.notify(model, observe)
		}

		if chunk.Done {
			o.persistAndFinalize(model, provider.Name(), full.String(), observe)
			return
		}
	}

	// Stream closed without a done marker; treat as a broken stream.
	if o.currentGeneration(model) == gen {
		o.finalize(model, full.String(), "stream ended unexpectedly", observe)
	}
}

// openStreamWithRetry retries stream creation once on transient network errors
func (o *Orchestrator) openStreamWithRetry(ctx context.Context, provider llm.Provider, model string, history []llm.Message) (<-chan llm.StreamResponse, error) {
	stream, err := provider.StreamChat(ctx, model, history)
	if err == nil {
		return stream, nil
	}

	if !utils.IsRetryableError(err) {
		return nil, err
	}

	o.logger.Warn("Stream open failed for %s, retrying once: %v", model, err)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Second):
	}

	stream, err = provider.StreamChat(ctx, model, history)
	if err != nil {
		return nil, fmt.Errorf("failed after retry: %w", err)
	}
	return stream, nil
}

// persistAndFinalize writes the finished message to the store and marks
// the tracker entry terminal
func (o *Orchestrator) persistAndFinalize(model, providerName, content string, observe ChunkObserver) {
	o.mu.Lock()
	convID := o.conversationID
	turn := o.turn
	o.mu.Unlock()

	msg, err := o.store.CreateMessage(convID, turn, "assistant", content, providerName, model, "")
	if err != nil {
		o.logger.Error("Failed to persist message for %s: %v", model, err)
		o.finalize(model, content, "", observe)
		return
	}

	o.mu.Lock()
	o.messageIDs[model] = msg.ID
	o.mu.Unlock()

	o.finalize(model, content, "", observe)
}

func (o *Orchestrator) finalize(model, content, errMsg string, observe ChunkObserver) {
	o.tracker.Upsert(model, content, true, errMsg)
	o.notify(model, observe)
}

func (o *Orchestrator) notify(model string, observe ChunkObserver) {
	if observe == nil {
		return
	}
	if entry, ok := o.tracker.Snapshot()[model]; ok {
		observe(entry)
	}
}

func (o *Orchestrator) currentGeneration(model string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generations[model]
}

// waitAllDone polls the tracker until every selected model is terminal
// or the ceiling passes. It exists to absorb state-propagation lag in
// consumers, not as a substantive synchronization point, so it degrades
// to "proceed anyway". Returns true when it timed out.
func (o *Orchestrator) waitAllDone(ctx context.Context, selected []string) bool {
	deadline := time.Now().Add(waitCeiling)
	for {
		if AllTerminal(o.tracker.Snapshot(), selected) {
			return false
		}
		if time.Now().After(deadline) {
			return true
		}
		select {
		case <-ctx.Done():
			return true
		case <-time.After(waitPollInterval):
		}
	}
}

// maybeGenerateTitle replaces the placeholder conversation title after
// the first completed turn, using the first selected model.
func (o *Orchestrator) maybeGenerateTitle(models []string) {
	o.mu.Lock()
	if o.titleDone || o.conversationID == 0 {
		o.mu.Unlock()
		return
	}
	o.titleDone = true
	convID := o.conversationID
	prompt := o.prompt
	o.mu.Unlock()

	provider, backendModel, err := o.gateway.Resolve(models[0])
	if err != nil {
		return
	}

	utils.SafeGo(o.logger, "generate conversation title", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		title, err := provider.GenerateTitle(ctx, backendModel, []llm.Message{{Role: "user", Content: prompt}})
		if err != nil {
			o.logger.Warn("Title generation failed: %v", err)
			return
		}
		if err := o.store.UpdateConversation(convID, title, ""); err != nil {
			o.logger.Warn("Failed to save conversation title: %v", err)
		}
	})
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
