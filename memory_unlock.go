package companion

// ──────────────────────────────────────────────
// Memory Unlock Evaluator: condition-gated narrative fragments
// ──────────────────────────────────────────────
//
// Fragments are evaluated in a fixed deterministic order (rarity ascending,
// then fragment id), already-unlocked fragments are excluded before
// evaluation, and every fragment whose tree holds unlocks in the same turn
// (unlimited unlocks per turn).

// Rarity orders fragments for deterministic evaluation; Common evaluates
// first.
type Rarity int

const (
	RarityCommon Rarity = iota
	RarityRare
	RarityEpic
	RarityLegendary
)

var rarityNames = map[Rarity]string{
	RarityCommon:    "common",
	RarityRare:      "rare",
	RarityEpic:      "epic",
	RarityLegendary: "legendary",
}

func (r Rarity) String() string {
	if name, ok := rarityNames[r]; ok {
		return name
	}
	return "common"
}

// ParseRarity maps a catalog string to a Rarity, defaulting to common.
func ParseRarity(s string) Rarity {
	for r, name := range rarityNames {
		if name == s {
			return r
		}
	}
	return RarityCommon
}

// MemoryFragment is one static catalog entry. The per-session unlock record
// is the only mutable part of a fragment's lifecycle, and once written it is
// immutable.
type MemoryFragment struct {
	ID        string
	Title     string
	Text      string // narrative content handed to the response generator
	Rarity    Rarity
	Category  string
	Condition UnlockCondition
}

// MemoryUnlockEvaluator evaluates the not-yet-unlocked catalog subset
// against the turn's context.
type MemoryUnlockEvaluator struct {
	catalog *FragmentCatalog
}

// NewMemoryUnlockEvaluator creates an evaluator over the given catalog.
func NewMemoryUnlockEvaluator(catalog *FragmentCatalog) *MemoryUnlockEvaluator {
	return &MemoryUnlockEvaluator{catalog: catalog}
}

// Evaluate returns the unlock records for every fragment that newly
// qualifies this turn. It never mutates the session; the orchestrator
// applies the records inside the turn commit.
func (e *MemoryUnlockEvaluator) Evaluate(sess *Session, ctx *EvalContext) []UnlockRecord {
	var records []UnlockRecord
	for i := range e.catalog.ordered {
		frag := &e.catalog.ordered[i]
		if sess.IsUnlocked(frag.ID) {
			continue
		}
		if frag.Condition == nil || !frag.Condition.Eval(ctx) {
			continue
		}
		records = append(records, UnlockRecord{
			FragmentID:     frag.ID,
			At:             ctx.Now,
			TriggerSummary: SatisfiedLeaves(frag.Condition, ctx),
		})
	}
	return records
}

// applyUnlocks mutates the session snapshot with the turn's unlock records.
// Existing records are never overwritten: unlocking is monotonic.
func applyUnlocks(sess *Session, records []UnlockRecord) []string {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if sess.IsUnlocked(rec.FragmentID) {
			continue
		}
		if sess.Unlocked == nil {
			sess.Unlocked = make(map[string]UnlockRecord)
		}
		sess.Unlocked[rec.FragmentID] = rec
		ids = append(ids, rec.FragmentID)
	}
	return ids
}

// Hint returns the unmet leaf-condition descriptions that still block the
// fragment for this session. An already-unlocked fragment has no unmet
// conditions.
func (e *MemoryUnlockEvaluator) Hint(fragmentID string, sess *Session, ctx *EvalContext) ([]string, error) {
	frag, ok := e.catalog.Get(fragmentID)
	if !ok {
		return nil, ErrUnknownFragment
	}
	if sess.IsUnlocked(fragmentID) {
		return nil, nil
	}
	return UnmetLeaves(frag.Condition, ctx), nil
}

// FragmentTexts returns the narrative texts of the given fragment ids, in
// order, skipping unknown ids. Used to hand unlocked content to the
// response-generation provider.
func (e *MemoryUnlockEvaluator) FragmentTexts(ids []string) []string {
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		if frag, ok := e.catalog.Get(id); ok {
			texts = append(texts, frag.Text)
		}
	}
	return texts
}
