package companion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ──────────────────────────────────────────────
// Turn Orchestrator: one utterance in, one atomic turn commit out
// ──────────────────────────────────────────────
//
// Per turn, in strict order: classify → select persona (commit switch) →
// evaluate unlocks against post-switch aggregates → score affinity. All
// mutation is computed into a session snapshot and swapped in as a single
// commit; a cancelled or failed turn leaves no partial state behind.
//
// Turns for the same session are serialized by a per-session mutex; turns
// for different sessions run fully in parallel. Evaluator failures are
// absorbed into per-component no-op defaults plus a TurnResult warning;
// one failing subsystem never aborts the whole turn.

const (
	maxUtteranceRunes      = 2000
	defaultResultCacheSize = 256
)

// Classifier produces the turn's emotion reading.
type Classifier interface {
	Classify(utterance string, context ...string) EmotionResult
}

// Selector decides the turn's automatic persona switch.
type Selector interface {
	Select(sess *Session, emotion EmotionResult, utterance string, now time.Time) SwitchDecision
}

// Unlocker evaluates the not-yet-unlocked fragment subset.
type Unlocker interface {
	Evaluate(sess *Session, ctx *EvalContext) []UnlockRecord
}

// Scorer classifies moral valence and applies the affinity delta.
type Scorer interface {
	Score(state *AffinityState, utterance string, emotion EmotionResult, now time.Time) (AffinityDelta, ChoiceRecord)
}

// TurnRequest is the input of one dialogue turn. RequestID is an optional
// idempotency key: duplicate submissions with the same id are collapsed
// instead of applied twice.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	Utterance string `json:"utterance"`
	RequestID string `json:"request_id,omitempty"`
}

// Warning records one absorbed evaluator failure.
type Warning struct {
	Component string `json:"component"`
	Message   string `json:"message"`
}

// TurnResult is the immutable output of one committed turn.
type TurnResult struct {
	TurnID        string         `json:"turn_id"`
	SessionID     string         `json:"session_id"`
	TurnCount     int            `json:"turn_count"`
	Emotion       EmotionResult  `json:"emotion"`
	Persona       PersonaID      `json:"persona"`
	Switched      bool           `json:"switched"`
	SwitchReason  string         `json:"switch_reason,omitempty"`
	NewlyUnlocked []string       `json:"newly_unlocked,omitempty"`
	Unlocks       []UnlockRecord `json:"unlocks,omitempty"`
	AffinityDelta AffinityDelta  `json:"affinity_delta"`
	Affinity      AffinityState  `json:"affinity"`
	Warnings      []Warning      `json:"warnings,omitempty"`
	ProcessedAt   time.Time      `json:"processed_at"`
}

// OrchestratorConfig carries optional overrides. Zero values select the
// built-in evaluators, system clock, nop logger, and no metrics.
type OrchestratorConfig struct {
	Clock           Clock
	Logger          *zap.Logger
	Metrics         *Metrics
	ResultCacheSize int

	// Evaluator overrides, mainly for tests.
	Classifier Classifier
	Selector   Selector
	Unlocker   Unlocker
	Scorer     Scorer
}

// OrchestratorStats are cheap runtime counters.
type OrchestratorStats struct {
	Turns            uint64 `json:"turns"`
	AbsorbedFailures uint64 `json:"absorbed_failures"`
	CommitFailures   uint64 `json:"commit_failures"`
}

// Orchestrator sequences the four evaluators into atomic turn commits.
type Orchestrator struct {
	personas  *PersonaCatalog
	fragments *FragmentCatalog
	store     SessionStore

	classifier Classifier
	selector   Selector
	unlocker   Unlocker
	scorer     Scorer
	hinter     *MemoryUnlockEvaluator

	clock   Clock
	logger  *zap.Logger
	metrics *Metrics

	locks  sync.Map // session id → *sync.Mutex
	flight singleflight.Group
	recent *lru.Cache[string, *TurnResult]

	turns            atomic.Uint64
	absorbedFailures atomic.Uint64
	commitFailures   atomic.Uint64
}

// NewOrchestrator wires the evaluators over the given catalogs and store.
func NewOrchestrator(personas *PersonaCatalog, fragments *FragmentCatalog, st SessionStore, config ...OrchestratorConfig) *Orchestrator {
	cfg := OrchestratorConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ResultCacheSize <= 0 {
		cfg.ResultCacheSize = defaultResultCacheSize
	}

	hinter := NewMemoryUnlockEvaluator(fragments)
	o := &Orchestrator{
		personas:   personas,
		fragments:  fragments,
		store:      st,
		classifier: cfg.Classifier,
		selector:   cfg.Selector,
		unlocker:   cfg.Unlocker,
		scorer:     cfg.Scorer,
		hinter:     hinter,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
	if o.classifier == nil {
		o.classifier = NewEmotionClassifier()
	}
	if o.selector == nil {
		o.selector = NewPersonaSelector(personas)
	}
	if o.unlocker == nil {
		o.unlocker = hinter
	}
	if o.scorer == nil {
		o.scorer = NewAffinityScorer()
	}
	o.recent, _ = lru.New[string, *TurnResult](cfg.ResultCacheSize)
	return o
}

// ProcessTurn is the single turn entry point. A new session is created on
// first contact. Validation errors surface synchronously; evaluator
// failures are absorbed as warnings; a commit failure discards the whole
// turn and leaves the prior session state untouched.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	if req.RequestID == "" {
		return o.processSerialized(ctx, req)
	}

	// Idempotency: a retried request replays the committed result, a
	// concurrent duplicate shares the in-flight computation.
	key := req.SessionID + "|" + req.RequestID
	if cached, ok := o.recent.Get(key); ok {
		return cached, nil
	}
	v, err, _ := o.flight.Do(key, func() (interface{}, error) {
		if cached, ok := o.recent.Get(key); ok {
			return cached, nil
		}
		result, err := o.processSerialized(ctx, req)
		if err != nil {
			return nil, err
		}
		o.recent.Add(key, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TurnResult), nil
}

func validateRequest(req *TurnRequest) error {
	if req.SessionID == "" {
		return validationErr("session_id", "must not be empty")
	}
	if strings.TrimSpace(req.Utterance) == "" {
		return validationErr("utterance", "must not be empty")
	}
	if utf8.RuneCountInString(req.Utterance) > maxUtteranceRunes {
		return validationErr("utterance", fmt.Sprintf("longer than %d runes", maxUtteranceRunes))
	}
	return nil
}

func (o *Orchestrator) processSerialized(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	mu := o.sessionLock(req.SessionID)
	mu.Lock()
	defer mu.Unlock()
	return o.processTurnLocked(ctx, req)
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	v, _ := o.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (o *Orchestrator) processTurnLocked(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := o.clock.Now()

	sess, err := o.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", req.SessionID, err)
	}
	if sess == nil {
		sess = NewSession(req.SessionID, o.personas.DefaultID(), start)
	}

	// All mutation below targets the snapshot only.
	snap := sess.Clone()
	snap.TurnCount++
	snap.Touch(start)
	var warnings []Warning

	// 1. Emotion classification.
	emotion := o.safeClassify(req.Utterance, &warnings)
	snap.recordEmotion(emotion, start)

	// 2. Persona selection; the switch lands on the snapshot.
	decision := o.safeSelect(snap, emotion, req.Utterance, start, &warnings)
	if decision.Switched {
		decision = applySwitch(snap, decision.To, decision.Reason, start)
	}

	// 3. Fragment unlocking, against post-switch aggregates.
	evalCtx := NewEvalContext(snap.TurnCount, snap.SwitchCount(), emotion, req.Utterance, start)
	unlocks := o.safeUnlock(snap, evalCtx, &warnings)
	newlyUnlocked := applyUnlocks(snap, unlocks)

	// 4. Affinity scoring, computed on a copy so a failure stays no-op.
	affinity := snap.Affinity
	delta, choice, scored := o.safeScore(&affinity, req.Utterance, emotion, start, &warnings)
	if scored {
		snap.Affinity = affinity
		snap.Choices = append(snap.Choices, choice)
	}

	// Cancelled before commit: nothing was published.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Atomic commit: the snapshot replaces the session in one step.
	if err := o.store.Put(ctx, snap); err != nil {
		o.commitFailures.Inc()
		if o.metrics != nil {
			o.metrics.CommitFailures.Inc()
		}
		return nil, &CommitError{SessionID: req.SessionID, Err: err}
	}
	o.appendHistory(ctx, snap, decision, unlocks, choice, scored)

	result := &TurnResult{
		TurnID:        uuid.NewString(),
		SessionID:     snap.ID,
		TurnCount:     snap.TurnCount,
		Emotion:       emotion,
		Persona:       snap.ActivePersona,
		Switched:      decision.Switched,
		SwitchReason:  decision.Reason,
		NewlyUnlocked: newlyUnlocked,
		Unlocks:       unlocks,
		AffinityDelta: delta,
		Affinity:      snap.Affinity,
		Warnings:      warnings,
		ProcessedAt:   start,
	}

	o.turns.Inc()
	if o.metrics != nil {
		o.metrics.TurnsTotal.Inc()
		o.metrics.TurnDuration.Observe(o.clock.Now().Sub(start).Seconds())
		if decision.Switched {
			o.metrics.SwitchesTotal.Inc()
		}
		o.metrics.UnlocksTotal.Add(float64(len(newlyUnlocked)))
	}
	o.logger.Debug("turn committed",
		zap.String("session", snap.ID),
		zap.Int("turn", snap.TurnCount),
		zap.String("emotion", string(emotion.Type)),
		zap.Bool("switched", decision.Switched),
		zap.Int("unlocked", len(newlyUnlocked)),
		zap.Int("warnings", len(warnings)))

	return result, nil
}

// appendHistory writes the turn's immutable records to the append-only
// logs. Best effort: the turn is already committed, failures only log.
func (o *Orchestrator) appendHistory(ctx context.Context, sess *Session, decision SwitchDecision, unlocks []UnlockRecord, choice ChoiceRecord, scored bool) {
	appendJSON := func(kind string, v interface{}) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		if err := o.store.AppendHistory(ctx, sess.ID, kind, string(data)); err != nil {
			o.logger.Warn("history append failed",
				zap.String("session", sess.ID), zap.String("kind", kind), zap.Error(err))
		}
	}
	if decision.Switched && len(sess.SwitchHistory) > 0 {
		appendJSON(HistorySwitches, sess.SwitchHistory[len(sess.SwitchHistory)-1])
	}
	for _, rec := range unlocks {
		appendJSON(HistoryUnlocks, rec)
	}
	if scored {
		appendJSON(HistoryChoices, choice)
	}
}

// ──────────────────────────────────────────────
// Absorbing evaluator failures
// ──────────────────────────────────────────────

func (o *Orchestrator) absorb(component string, r interface{}, warnings *[]Warning) {
	o.absorbedFailures.Inc()
	if o.metrics != nil {
		o.metrics.EvaluatorFailures.Inc()
	}
	msg := fmt.Sprintf("%v", r)
	*warnings = append(*warnings, Warning{Component: component, Message: msg})
	o.logger.Warn("evaluator failure absorbed",
		zap.String("component", component), zap.String("message", msg))
}

func (o *Orchestrator) safeClassify(utterance string, warnings *[]Warning) (result EmotionResult) {
	result = EmotionResult{Type: EmotionNeutral, Intensity: neutralIntensity, Confidence: neutralConfidence}
	defer func() {
		if r := recover(); r != nil {
			o.absorb("emotion_classifier", r, warnings)
			result = EmotionResult{Type: EmotionNeutral, Intensity: neutralIntensity, Confidence: neutralConfidence}
		}
	}()
	result = o.classifier.Classify(utterance)
	return result
}

func (o *Orchestrator) safeSelect(sess *Session, emotion EmotionResult, utterance string, now time.Time, warnings *[]Warning) (decision SwitchDecision) {
	decision = SwitchDecision{From: sess.ActivePersona, To: sess.ActivePersona}
	defer func() {
		if r := recover(); r != nil {
			o.absorb("persona_selector", r, warnings)
			decision = SwitchDecision{From: sess.ActivePersona, To: sess.ActivePersona}
		}
	}()
	decision = o.selector.Select(sess, emotion, utterance, now)
	return decision
}

func (o *Orchestrator) safeUnlock(sess *Session, ctx *EvalContext, warnings *[]Warning) (records []UnlockRecord) {
	defer func() {
		if r := recover(); r != nil {
			o.absorb("memory_unlock", r, warnings)
			records = nil
		}
	}()
	records = o.unlocker.Evaluate(sess, ctx)
	return records
}

func (o *Orchestrator) safeScore(state *AffinityState, utterance string, emotion EmotionResult, now time.Time, warnings *[]Warning) (delta AffinityDelta, choice ChoiceRecord, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.absorb("affinity_scorer", r, warnings)
			delta, choice, ok = AffinityDelta{Type: ChoiceNeutral}, ChoiceRecord{}, false
		}
	}()
	delta, choice = o.scorer.Score(state, utterance, emotion, now)
	return delta, choice, true
}

// ──────────────────────────────────────────────
// Read-only and manual operations
// ──────────────────────────────────────────────

// ManualSwitch forces the session onto the target persona, bypassing the
// cooldown and resetting its timer. Requesting the already-active persona
// is a no-op. The switch is committed atomically like a turn.
func (o *Orchestrator) ManualSwitch(ctx context.Context, sessionID string, target PersonaID) (SwitchDecision, error) {
	if sessionID == "" {
		return SwitchDecision{}, validationErr("session_id", "must not be empty")
	}
	if _, ok := o.personas.Get(target); !ok {
		return SwitchDecision{}, fmt.Errorf("%w: %s", ErrUnknownPersona, target)
	}

	mu := o.sessionLock(sessionID)
	mu.Lock()
	defer mu.Unlock()

	now := o.clock.Now()
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return SwitchDecision{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess == nil {
		sess = NewSession(sessionID, o.personas.DefaultID(), now)
	}
	if sess.ActivePersona == target {
		return SwitchDecision{From: target, To: target}, nil
	}

	snap := sess.Clone()
	snap.Touch(now)
	decision := applySwitch(snap, target, "manual switch", now)
	if err := ctx.Err(); err != nil {
		return SwitchDecision{}, err
	}
	if err := o.store.Put(ctx, snap); err != nil {
		o.commitFailures.Inc()
		if o.metrics != nil {
			o.metrics.CommitFailures.Inc()
		}
		return SwitchDecision{}, &CommitError{SessionID: sessionID, Err: err}
	}
	o.appendHistory(ctx, snap, decision, nil, ChoiceRecord{}, false)
	if o.metrics != nil {
		o.metrics.SwitchesTotal.Inc()
	}
	return decision, nil
}

// UnlockHint returns the unmet leaf-condition descriptions that still block
// the fragment for this session. Read-only; an unknown session is treated
// as first contact.
func (o *Orchestrator) UnlockHint(ctx context.Context, sessionID, fragmentID string) ([]string, error) {
	now := o.clock.Now()
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess == nil {
		sess = NewSession(sessionID, o.personas.DefaultID(), now)
	}
	evalCtx := NewEvalContext(sess.TurnCount, sess.SwitchCount(), sess.LastEmotion(), "", now)
	return o.hinter.Hint(fragmentID, sess, evalCtx)
}

// SessionSummary returns the session's aggregate counters. Read-only.
func (o *Orchestrator) SessionSummary(ctx context.Context, sessionID string) (SessionSummary, error) {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess == nil {
		return SessionSummary{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess.Summary(), nil
}

// UnlockedFragmentTexts returns the narrative texts of every fragment the
// session has unlocked, in unlock order. This is the payload handed to
// the response-generation provider alongside the TurnResult.
func (o *Orchestrator) UnlockedFragmentTexts(ctx context.Context, sessionID string) ([]string, error) {
	sess, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, nil
	}
	return o.hinter.FragmentTexts(sess.UnlockedIDs()), nil
}

// Stats returns cheap runtime counters.
func (o *Orchestrator) Stats() OrchestratorStats {
	return OrchestratorStats{
		Turns:            o.turns.Load(),
		AbsorbedFailures: o.absorbedFailures.Load(),
		CommitFailures:   o.commitFailures.Load(),
	}
}
