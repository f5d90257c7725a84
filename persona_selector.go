package companion

import (
	"strings"
	"time"
)

// ──────────────────────────────────────────────
// Persona Selector: message-driven switching with cooldown
// ──────────────────────────────────────────────

// PersonaID identifies a declared response persona.
type PersonaID string

// Trigger predicate weights. The emotion predicate alone can clear the
// activation threshold; keywords and time windows refine the score.
const (
	activationThreshold  = 0.6
	emotionTriggerWeight = 0.6
	keywordTriggerWeight = 0.25
	timeTriggerWeight    = 0.15
)

// PersonaTriggers are the static trigger predicates of one persona.
// Zero-valued predicates are treated as absent.
type PersonaTriggers struct {
	EmotionType      EmotionType `json:"emotion_type,omitempty" yaml:"emotion_type"`
	EmotionThreshold float64     `json:"emotion_threshold,omitempty" yaml:"emotion_threshold"`
	Keywords         []string    `json:"keywords,omitempty" yaml:"keywords"`
	TimeWindow       string      `json:"time_window,omitempty" yaml:"time_window"` // "HH:MM-HH:MM", may wrap midnight
}

// PersonaProfile is one entry of the static persona catalog.
type PersonaProfile struct {
	ID       PersonaID       `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Priority int             `json:"priority" yaml:"priority"` // higher wins ties
	Cooldown time.Duration   `json:"cooldown" yaml:"cooldown"` // min gap between automatic switches
	Triggers PersonaTriggers `json:"triggers" yaml:"triggers"`
}

// SwitchDecision is the selector's output. Switched=false covers both
// "no candidate qualified" and "winner already active".
type SwitchDecision struct {
	Switched bool      `json:"switched"`
	From     PersonaID `json:"from,omitempty"`
	To       PersonaID `json:"to,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Score    float64   `json:"score,omitempty"`
}

// PersonaSelector scores every non-active persona against the turn and
// decides whether an automatic switch is warranted. It never mutates the
// session; the orchestrator applies the decision inside the turn commit.
type PersonaSelector struct {
	catalog *PersonaCatalog
}

// NewPersonaSelector creates a selector over the given catalog.
func NewPersonaSelector(catalog *PersonaCatalog) *PersonaSelector {
	return &PersonaSelector{catalog: catalog}
}

// Select computes the automatic switch decision for one turn against the
// pre-turn session state.
func (s *PersonaSelector) Select(sess *Session, emotion EmotionResult, utterance string, now time.Time) SwitchDecision {
	none := SwitchDecision{From: sess.ActivePersona, To: sess.ActivePersona}

	var winner *PersonaProfile
	var winnerScore float64
	var winnerReason string
	for i := range s.catalog.ordered {
		p := &s.catalog.ordered[i]
		if p.ID == sess.ActivePersona {
			// Requesting the already-active persona is always "no switch".
			continue
		}
		score, reason := matchScore(p, emotion, utterance, now)
		if score < activationThreshold {
			continue
		}
		if winner == nil || score > winnerScore ||
			(score == winnerScore && p.Priority > winner.Priority) {
			winner, winnerScore, winnerReason = p, score, reason
		}
	}
	if winner == nil {
		return none
	}

	// Cooldown: automatic switches must wait out the declared window.
	if !sess.LastSwitchAt.IsZero() && now.Sub(sess.LastSwitchAt) < winner.Cooldown {
		return none
	}

	return SwitchDecision{
		Switched: true,
		From:     sess.ActivePersona,
		To:       winner.ID,
		Reason:   winnerReason,
		Score:    winnerScore,
	}
}

// matchScore is the weighted sum of satisfied trigger predicates, together
// with a human-readable reason naming what fired.
func matchScore(p *PersonaProfile, emotion EmotionResult, utterance string, now time.Time) (float64, string) {
	score := 0.0
	var reasons []string

	t := p.Triggers
	if t.EmotionType != "" && emotion.Type == t.EmotionType && emotion.Intensity >= t.EmotionThreshold {
		score += emotionTriggerWeight
		reasons = append(reasons, string(t.EmotionType)+" trigger")
	}

	if len(t.Keywords) > 0 {
		lower := strings.ToLower(utterance)
		matched := 0
		for _, kw := range t.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				matched++
			}
		}
		if matched > 0 {
			ratio := float64(matched) / float64(len(t.Keywords))
			score += keywordTriggerWeight * ratio
			reasons = append(reasons, "keyword match")
		}
	}

	if t.TimeWindow != "" {
		window := TimeWindow{Range: t.TimeWindow}
		if window.Eval(&EvalContext{Now: now}) {
			score += timeTriggerWeight
			reasons = append(reasons, "time window")
		}
	}

	return score, strings.Join(reasons, " + ")
}

// applySwitch mutates the session snapshot with a committed switch and its
// immutable history record. Called only inside the orchestrator's commit.
func applySwitch(sess *Session, to PersonaID, reason string, now time.Time) SwitchDecision {
	decision := SwitchDecision{
		Switched: true,
		From:     sess.ActivePersona,
		To:       to,
		Reason:   reason,
	}
	sess.SwitchHistory = append(sess.SwitchHistory, SwitchRecord{
		From:   sess.ActivePersona,
		To:     to,
		Reason: reason,
		At:     now,
	})
	sess.ActivePersona = to
	sess.LastSwitchAt = now
	return decision
}
