package companion

import (
	"time"
)

// ──────────────────────────────────────────────
// Session: the per-user aggregate, single unit of mutable state
// ──────────────────────────────────────────────
//
// A Session is created on first contact and mutated only inside the
// orchestrator's atomic turn commit. There is no process-wide state: every
// evaluator receives the session (or a snapshot of it) explicitly.

// maxEmotionLog caps the append-only emotion log to a sliding window.
const maxEmotionLog = 50

// EmotionRecord is one append-only emotion log entry.
type EmotionRecord struct {
	Type      EmotionType `json:"type"`
	Intensity float64     `json:"intensity"`
	At        time.Time   `json:"at"`
}

// SwitchRecord is one immutable persona-switch history entry.
type SwitchRecord struct {
	From   PersonaID `json:"from"`
	To     PersonaID `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// UnlockRecord is the immutable per-session unlock record of one fragment.
// Once written it never changes: unlocking is monotonic.
type UnlockRecord struct {
	FragmentID     string    `json:"fragment_id"`
	At             time.Time `json:"at"`
	TriggerSummary []string  `json:"trigger_summary,omitempty"`
}

// Session holds all per-user mutable state.
type Session struct {
	ID            string                  `json:"id"`
	ActivePersona PersonaID               `json:"active_persona"`
	TurnCount     int                     `json:"turn_count"`
	LastSwitchAt  time.Time               `json:"last_switch_at"`
	CreatedAt     time.Time               `json:"created_at"`
	LastActiveAt  time.Time               `json:"last_active_at"`
	EmotionLog    []EmotionRecord         `json:"emotion_log,omitempty"`
	SwitchHistory []SwitchRecord          `json:"switch_history,omitempty"`
	Affinity      AffinityState           `json:"affinity"`
	Choices       []ChoiceRecord          `json:"choices,omitempty"`
	Unlocked      map[string]UnlockRecord `json:"unlocked,omitempty"`
}

// NewSession creates a first-contact session with the given default persona.
func NewSession(id string, defaultPersona PersonaID, now time.Time) *Session {
	return &Session{
		ID:            id,
		ActivePersona: defaultPersona,
		CreatedAt:     now,
		LastActiveAt:  now,
		Affinity:      NewAffinityState(),
		Unlocked:      make(map[string]UnlockRecord),
	}
}

// Clone returns a deep copy. The orchestrator computes each turn into a
// clone and swaps it in as a single commit, so a failed or cancelled turn
// leaves no partial mutation behind.
func (s *Session) Clone() *Session {
	c := *s
	c.EmotionLog = append([]EmotionRecord(nil), s.EmotionLog...)
	c.SwitchHistory = append([]SwitchRecord(nil), s.SwitchHistory...)
	c.Choices = append([]ChoiceRecord(nil), s.Choices...)
	c.Unlocked = make(map[string]UnlockRecord, len(s.Unlocked))
	for id, rec := range s.Unlocked {
		rec.TriggerSummary = append([]string(nil), rec.TriggerSummary...)
		c.Unlocked[id] = rec
	}
	return &c
}

// Touch refreshes the activity timestamp. An external reaper can use
// LastActiveAt as its retention cutoff.
func (s *Session) Touch(now time.Time) { s.LastActiveAt = now }

// SwitchCount returns the cumulative persona-switch count.
func (s *Session) SwitchCount() int { return len(s.SwitchHistory) }

// IsUnlocked reports whether the fragment has been unlocked in this session.
func (s *Session) IsUnlocked(fragmentID string) bool {
	_, ok := s.Unlocked[fragmentID]
	return ok
}

// UnlockedIDs returns the unlocked fragment ids in unlock-time order.
func (s *Session) UnlockedIDs() []string {
	ids := make([]string, 0, len(s.Unlocked))
	for id := range s.Unlocked {
		ids = append(ids, id)
	}
	sortByUnlockTime(ids, s.Unlocked)
	return ids
}

func sortByUnlockTime(ids []string, records map[string]UnlockRecord) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0; j-- {
			a, b := records[ids[j-1]], records[ids[j]]
			if a.At.After(b.At) || (a.At.Equal(b.At) && ids[j-1] > ids[j]) {
				ids[j-1], ids[j] = ids[j], ids[j-1]
			} else {
				break
			}
		}
	}
}

// recordEmotion appends to the capped emotion log.
func (s *Session) recordEmotion(result EmotionResult, now time.Time) {
	s.EmotionLog = append(s.EmotionLog, EmotionRecord{
		Type:      result.Type,
		Intensity: result.Intensity,
		At:        now,
	})
	if len(s.EmotionLog) > maxEmotionLog {
		s.EmotionLog = s.EmotionLog[len(s.EmotionLog)-maxEmotionLog:]
	}
}

// LastEmotion returns the most recent emotion log entry, or a neutral
// reading for a fresh session.
func (s *Session) LastEmotion() EmotionResult {
	if len(s.EmotionLog) == 0 {
		return EmotionResult{Type: EmotionNeutral, Intensity: neutralIntensity, Confidence: neutralConfidence}
	}
	last := s.EmotionLog[len(s.EmotionLog)-1]
	return EmotionResult{Type: last.Type, Intensity: last.Intensity}
}

// SessionSummary holds read-only aggregate counters for stats endpoints.
type SessionSummary struct {
	SessionID       string        `json:"session_id"`
	ActivePersona   PersonaID     `json:"active_persona"`
	TurnCount       int           `json:"turn_count"`
	SwitchCount     int           `json:"switch_count"`
	UnlockedCount   int           `json:"unlocked_count"`
	DominantEmotion EmotionType   `json:"dominant_emotion"`
	Affinity        AffinityState `json:"affinity"`
	CreatedAt       time.Time     `json:"created_at"`
	LastActiveAt    time.Time     `json:"last_active_at"`
}

// Summary computes the session's aggregate counters.
func (s *Session) Summary() SessionSummary {
	counts := make(map[EmotionType]int, 8)
	for _, rec := range s.EmotionLog {
		counts[rec.Type]++
	}
	dominant := EmotionNeutral
	best := 0
	for _, emo := range categoryPriority {
		if counts[emo] > best {
			best = counts[emo]
			dominant = emo
		}
	}
	return SessionSummary{
		SessionID:       s.ID,
		ActivePersona:   s.ActivePersona,
		TurnCount:       s.TurnCount,
		SwitchCount:     s.SwitchCount(),
		UnlockedCount:   len(s.Unlocked),
		DominantEmotion: dominant,
		Affinity:        s.Affinity,
		CreatedAt:       s.CreatedAt,
		LastActiveAt:    s.LastActiveAt,
	}
}
