package companion

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ──────────────────────────────────────────────
// Affinity Scorer: two-axis moral valence tracking
// ──────────────────────────────────────────────
//
// Every turn is classified as angel-leaning, demon-leaning, or neutral.
// The two axes self-correct: a large imbalance earns the trailing axis a
// small bonus, while near-balanced oscillation is gently discouraged.

// ChoiceType is the moral valence of one turn.
type ChoiceType string

const (
	ChoiceAngel   ChoiceType = "angel"
	ChoiceDemon   ChoiceType = "demon"
	ChoiceNeutral ChoiceType = "neutral"
)

const (
	affinityMin = 0
	affinityMax = 100

	baseDelta              = 5
	imbalanceThreshold     = 40 // |demon-angel| above this earns the trailing axis a bonus
	balanceBonus           = 2
	nearBalancedThreshold  = 10 // |demon-angel| below this dampens the applied delta
	oscillationPenalty     = 1
	choiceSnippetMaxRunes  = 60
	emotionValenceBias     = 0.3
	emotionValenceMinLevel = 0.2 // emotion bias only applies above this intensity
)

// AffinityState is the two-axis score plus derived values and counters.
// All axis values are clamped to [0,100] after every update.
type AffinityState struct {
	Angel        int        `json:"angel"`
	Demon        int        `json:"demon"`
	Purity       int        `json:"purity"`     // derived: leans with angel
	Corruption   int        `json:"corruption"` // derived: leans with demon
	AngelCount   int        `json:"angel_count"`
	DemonCount   int        `json:"demon_count"`
	NeutralCount int        `json:"neutral_count"`
	LastChoice   ChoiceType `json:"last_choice,omitempty"`
}

// NewAffinityState returns the balanced starting state.
func NewAffinityState() AffinityState {
	s := AffinityState{Angel: 50, Demon: 50}
	s.refreshDerived()
	return s
}

func (s *AffinityState) refreshDerived() {
	s.Angel = clampAxis(s.Angel)
	s.Demon = clampAxis(s.Demon)
	s.Purity = clampAxis(50 + (s.Angel-s.Demon)/2)
	s.Corruption = clampAxis(100 - s.Purity)
}

func clampAxis(v int) int {
	if v < affinityMin {
		return affinityMin
	}
	if v > affinityMax {
		return affinityMax
	}
	return v
}

// ChoiceRecord is one immutable per-turn valence record.
type ChoiceRecord struct {
	Type           ChoiceType `json:"type"`
	ContentSnippet string     `json:"content_snippet"`
	DeltaAngel     int        `json:"delta_angel"`
	DeltaDemon     int        `json:"delta_demon"`
	At             time.Time  `json:"at"`
}

// AffinityDelta is the applied change, reported in TurnResult.
type AffinityDelta struct {
	Type  ChoiceType `json:"type"`
	Angel int        `json:"angel"`
	Demon int        `json:"demon"`
}

// AffinityScorer classifies moral valence from weighted lexicons plus an
// emotion bias and applies the resulting delta.
type AffinityScorer struct {
	angelLexicon []weightedKeyword
	demonLexicon []weightedKeyword
}

// NewAffinityScorer creates a scorer with the built-in bilingual lexicons.
func NewAffinityScorer() *AffinityScorer {
	return &AffinityScorer{
		angelLexicon: []weightedKeyword{
			{keyword: "谢谢", weight: 0.4}, {keyword: "帮你", weight: 0.4},
			{keyword: "没关系", weight: 0.3}, {keyword: "辛苦了", weight: 0.4},
			{keyword: "保护", weight: 0.4}, {keyword: "原谅", weight: 0.5},
			{keyword: "对不起", weight: 0.4}, {keyword: "陪你", weight: 0.3},
			{keyword: "thank", weight: 0.4}, {keyword: "sorry", weight: 0.4},
			{keyword: "forgive", weight: 0.5}, {keyword: "protect", weight: 0.4},
			{keyword: "help you", weight: 0.4}, {keyword: "kind", weight: 0.3},
		},
		demonLexicon: []weightedKeyword{
			{keyword: "骗", weight: 0.5}, {keyword: "报复", weight: 0.5},
			{keyword: "活该", weight: 0.5}, {keyword: "无聊", weight: 0.2},
			{keyword: "闭嘴", weight: 0.5}, {keyword: "随便你", weight: 0.3},
			{keyword: "恨", weight: 0.5}, {keyword: "威胁", weight: 0.5},
			{keyword: "lie to", weight: 0.5}, {keyword: "revenge", weight: 0.5},
			{keyword: "shut up", weight: 0.5}, {keyword: "deserve it", weight: 0.5},
			{keyword: "hate", weight: 0.5}, {keyword: "threat", weight: 0.5},
		},
	}
}

// Classify returns the moral valence of the utterance given the turn's
// emotion. Pure: no state is read or written.
func (a *AffinityScorer) Classify(utterance string, emotion EmotionResult) ChoiceType {
	lower := strings.ToLower(utterance)
	angel := lexiconScore(a.angelLexicon, lower)
	demon := lexiconScore(a.demonLexicon, lower)

	if emotion.Intensity >= emotionValenceMinLevel {
		switch emotion.Type {
		case EmotionAnger, EmotionAnxiety:
			demon += emotionValenceBias
		case EmotionAffection, EmotionJoy:
			angel += emotionValenceBias
		}
	}

	switch {
	case angel > demon && angel > 0:
		return ChoiceAngel
	case demon > angel && demon > 0:
		return ChoiceDemon
	default:
		return ChoiceNeutral
	}
}

func lexiconScore(lexicon []weightedKeyword, lower string) float64 {
	score := 0.0
	for _, kw := range lexicon {
		if strings.Contains(lower, strings.ToLower(kw.keyword)) {
			score += kw.weight
		}
	}
	return score
}

// Score classifies the turn and applies the delta to the state in place,
// returning the applied delta and the immutable choice record.
func (a *AffinityScorer) Score(state *AffinityState, utterance string, emotion EmotionResult, now time.Time) (AffinityDelta, ChoiceRecord) {
	choice := a.Classify(utterance, emotion)
	delta := a.deltaFor(choice, *state)

	state.Angel += delta.Angel
	state.Demon += delta.Demon
	state.refreshDerived()
	state.LastChoice = choice
	switch choice {
	case ChoiceAngel:
		state.AngelCount++
	case ChoiceDemon:
		state.DemonCount++
	default:
		state.NeutralCount++
	}

	record := ChoiceRecord{
		Type:           choice,
		ContentSnippet: snippet(utterance, choiceSnippetMaxRunes),
		DeltaAngel:     delta.Angel,
		DeltaDemon:     delta.Demon,
		At:             now,
	}
	return delta, record
}

// deltaFor computes the base delta plus the balance correction.
func (a *AffinityScorer) deltaFor(choice ChoiceType, state AffinityState) AffinityDelta {
	delta := AffinityDelta{Type: choice}
	if choice == ChoiceNeutral {
		return delta
	}

	magnitude := baseDelta
	imbalance := state.Demon - state.Angel
	if imbalance < 0 {
		imbalance = -imbalance
	}
	// Near-balanced axes: dampen the swing to discourage oscillation.
	if imbalance < nearBalancedThreshold {
		magnitude -= oscillationPenalty
	}

	switch choice {
	case ChoiceAngel:
		delta.Angel = magnitude
	case ChoiceDemon:
		delta.Demon = magnitude
	}

	// High imbalance: nudge the trailing axis back toward the middle.
	if imbalance > imbalanceThreshold {
		if state.Angel < state.Demon {
			delta.Angel += balanceBonus
		} else {
			delta.Demon += balanceBonus
		}
	}
	return delta
}

func snippet(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxRunes]) + "…"
}
