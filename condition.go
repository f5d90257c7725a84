package companion

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ──────────────────────────────────────────────
// Unlock Condition: closed recursive boolean tree
// ──────────────────────────────────────────────
//
// The condition language is a closed sum type: five leaf variants plus
// And/Or composites, evaluated by structural recursion. A bare list of
// conditions in catalog files is treated as And.

// EvalContext carries the session aggregates and turn inputs a condition
// tree is evaluated against.
type EvalContext struct {
	TurnCount      int
	SwitchCount    int
	Emotion        EmotionResult
	Utterance      string
	Now            time.Time
	lowerUtterance string
}

// NewEvalContext builds an EvalContext, pre-lowering the utterance once.
func NewEvalContext(turnCount, switchCount int, emotion EmotionResult, utterance string, now time.Time) *EvalContext {
	return &EvalContext{
		TurnCount:      turnCount,
		SwitchCount:    switchCount,
		Emotion:        emotion,
		Utterance:      utterance,
		Now:            now,
		lowerUtterance: strings.ToLower(utterance),
	}
}

func (c *EvalContext) lowered() string {
	if c.lowerUtterance == "" && c.Utterance != "" {
		c.lowerUtterance = strings.ToLower(c.Utterance)
	}
	return c.lowerUtterance
}

// UnlockCondition is a node in a condition tree. The variant set is closed:
// implementations live in this file only.
type UnlockCondition interface {
	// Eval reports whether the condition holds in the given context.
	Eval(ctx *EvalContext) bool
	// Describe returns a short human-readable form, used in trigger
	// summaries and unlock hints.
	Describe() string

	isCondition()
}

// ConversationCount holds once the session has seen at least N turns.
type ConversationCount struct {
	N int
}

func (c ConversationCount) Eval(ctx *EvalContext) bool { return ctx.TurnCount >= c.N }
func (c ConversationCount) Describe() string {
	return fmt.Sprintf("conversation count >= %d", c.N)
}
func (ConversationCount) isCondition() {}

// EmotionMatch holds when the turn's emotion has the given type at or above
// the intensity threshold.
type EmotionMatch struct {
	Type      EmotionType
	Threshold float64
}

func (c EmotionMatch) Eval(ctx *EvalContext) bool {
	return ctx.Emotion.Type == c.Type && ctx.Emotion.Intensity >= c.Threshold
}
func (c EmotionMatch) Describe() string {
	return fmt.Sprintf("emotion %s with intensity >= %.2f", c.Type, c.Threshold)
}
func (EmotionMatch) isCondition() {}

// KeywordAny holds when the utterance contains at least one of the listed
// keywords, case-insensitively.
type KeywordAny struct {
	Keywords []string
}

func (c KeywordAny) Eval(ctx *EvalContext) bool {
	lower := ctx.lowered()
	for _, kw := range c.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
func (c KeywordAny) Describe() string {
	return fmt.Sprintf("utterance mentions one of [%s]", strings.Join(c.Keywords, ", "))
}
func (KeywordAny) isCondition() {}

// TimeWindow holds when the wall-clock time falls inside "HH:MM-HH:MM".
// Ranges may wrap midnight, e.g. "22:00-06:00".
type TimeWindow struct {
	Range string
}

func (c TimeWindow) Eval(ctx *EvalContext) bool {
	start, end, ok := parseClockRange(c.Range)
	if !ok {
		return false
	}
	minutes := ctx.Now.Hour()*60 + ctx.Now.Minute()
	if start <= end {
		return minutes >= start && minutes < end
	}
	// Wraps midnight.
	return minutes >= start || minutes < end
}
func (c TimeWindow) Describe() string {
	return fmt.Sprintf("local time within %s", c.Range)
}
func (TimeWindow) isCondition() {}

// PersonaSwitchCount holds once the session has accumulated at least N
// persona switches.
type PersonaSwitchCount struct {
	N int
}

func (c PersonaSwitchCount) Eval(ctx *EvalContext) bool { return ctx.SwitchCount >= c.N }
func (c PersonaSwitchCount) Describe() string {
	return fmt.Sprintf("persona switches >= %d", c.N)
}
func (PersonaSwitchCount) isCondition() {}

// And holds when every child holds. An empty And holds vacuously.
type And struct {
	Children []UnlockCondition
}

func (c And) Eval(ctx *EvalContext) bool {
	for _, child := range c.Children {
		if !child.Eval(ctx) {
			return false
		}
	}
	return true
}
func (c And) Describe() string { return describeComposite("all of", c.Children) }
func (And) isCondition()       {}

// Or holds when at least one child holds. An empty Or never holds.
type Or struct {
	Children []UnlockCondition
}

func (c Or) Eval(ctx *EvalContext) bool {
	for _, child := range c.Children {
		if child.Eval(ctx) {
			return true
		}
	}
	return false
}
func (c Or) Describe() string { return describeComposite("any of", c.Children) }
func (Or) isCondition()       {}

func describeComposite(label string, children []UnlockCondition) string {
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = child.Describe()
	}
	return fmt.Sprintf("%s (%s)", label, strings.Join(parts, "; "))
}

// SatisfiedLeaves returns the descriptions of the leaf conditions that fired
// in this context, in tree order. For a tree that evaluated true this is the
// trigger summary.
func SatisfiedLeaves(cond UnlockCondition, ctx *EvalContext) []string {
	var out []string
	switch c := cond.(type) {
	case And:
		for _, child := range c.Children {
			out = append(out, SatisfiedLeaves(child, ctx)...)
		}
	case Or:
		for _, child := range c.Children {
			out = append(out, SatisfiedLeaves(child, ctx)...)
		}
	default:
		if cond.Eval(ctx) {
			out = append(out, cond.Describe())
		}
	}
	return out
}

// UnmetLeaves returns the descriptions of the leaf conditions that still
// block the tree from holding. A satisfied Or subtree contributes nothing
// even if some of its branches are unmet.
func UnmetLeaves(cond UnlockCondition, ctx *EvalContext) []string {
	var out []string
	switch c := cond.(type) {
	case And:
		for _, child := range c.Children {
			out = append(out, UnmetLeaves(child, ctx)...)
		}
	case Or:
		if c.Eval(ctx) {
			return nil
		}
		for _, child := range c.Children {
			out = append(out, UnmetLeaves(child, ctx)...)
		}
	default:
		if !cond.Eval(ctx) {
			out = append(out, cond.Describe())
		}
	}
	return out
}

// parseClockRange parses "HH:MM-HH:MM" into minutes since midnight.
func parseClockRange(r string) (start, end int, ok bool) {
	parts := strings.Split(r, "-")
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, okS := parseClock(parts[0])
	end, okE := parseClock(parts[1])
	return start, end, okS && okE
}

func parseClock(t string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(t), ":")
	if len(parts) != 2 {
		return 0, false
	}
	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
