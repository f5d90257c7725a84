package companion

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// ──────────────────────────────────────────────
// Emotion Classifier: lightweight rule-based scoring
// ──────────────────────────────────────────────

// EmotionType is a categorical emotion tag.
type EmotionType string

const (
	EmotionNeutral   EmotionType = "neutral"
	EmotionJoy       EmotionType = "joy"
	EmotionSadness   EmotionType = "sadness"
	EmotionAnger     EmotionType = "anger"
	EmotionAnxiety   EmotionType = "anxiety"
	EmotionAffection EmotionType = "affection"
)

// categoryPriority is the fixed tie-break order: earlier wins on equal score.
var categoryPriority = []EmotionType{
	EmotionSadness, EmotionAnger, EmotionAnxiety, EmotionAffection, EmotionJoy,
}

// EmotionResult is the per-turn classification output. It is produced fresh
// each turn and never persisted except as an append-only log entry.
type EmotionResult struct {
	Type            EmotionType `json:"type"`
	Intensity       float64     `json:"intensity"`  // 0.0-1.0
	Confidence      float64     `json:"confidence"` // 0.0-1.0
	MatchedKeywords []string    `json:"matched_keywords,omitempty"`
}

type weightedKeyword struct {
	keyword string
	weight  float64
}

type emotionLexicon struct {
	baseWeight float64
	keywords   []weightedKeyword
}

const (
	neutralIntensity   = 0.1
	neutralConfidence  = 0.9
	repeatHitDecay     = 0.5 // each repeated hit of the same keyword counts half the previous one
	contextWeight      = 0.5 // trailing-context hits count at half weight
	shortInputRunes    = 6
	confidencePerRival = 0.1
)

// EmotionClassifier scores utterances against bilingual (Chinese + English)
// weighted keyword dictionaries. It is a pure function of its input and
// dictionary version: no session state, no I/O.
type EmotionClassifier struct {
	lexicons map[EmotionType]emotionLexicon
}

// NewEmotionClassifier creates a classifier with the built-in dictionaries.
func NewEmotionClassifier() *EmotionClassifier {
	return &EmotionClassifier{lexicons: defaultEmotionLexicons()}
}

func defaultEmotionLexicons() map[EmotionType]emotionLexicon {
	return map[EmotionType]emotionLexicon{
		EmotionAnger: {
			baseWeight: 1.0,
			keywords: []weightedKeyword{
				// Chinese strong words carry weight 0.5
				{keyword: "什么破", weight: 0.5}, {keyword: "垃圾", weight: 0.5},
				{keyword: "搞什么", weight: 0.5}, {keyword: "有病", weight: 0.5},
				{keyword: "废物", weight: 0.5}, {keyword: "烦死了", weight: 0.5},
				{keyword: "讨厌", weight: 0.4}, {keyword: "滚", weight: 0.5},
				// English
				{keyword: "bullshit", weight: 0.5}, {keyword: "wtf", weight: 0.5},
				{keyword: "hate", weight: 0.4}, {keyword: "terrible", weight: 0.4},
				{keyword: "useless", weight: 0.4}, {keyword: "angry", weight: 0.4},
			},
		},
		EmotionAnxiety: {
			baseWeight: 1.0,
			keywords: []weightedKeyword{
				{keyword: "快点", weight: 0.4}, {keyword: "赶紧", weight: 0.4},
				{keyword: "好慌", weight: 0.4}, {keyword: "紧张", weight: 0.4},
				{keyword: "害怕", weight: 0.4}, {keyword: "担心", weight: 0.4},
				{keyword: "睡不着", weight: 0.4},
				{keyword: "asap", weight: 0.4}, {keyword: "nervous", weight: 0.4},
				{keyword: "worried", weight: 0.4}, {keyword: "scared", weight: 0.4},
				{keyword: "anxious", weight: 0.4},
			},
		},
		EmotionSadness: {
			baseWeight: 1.0,
			keywords: []weightedKeyword{
				{keyword: "唉", weight: 0.4}, {keyword: "算了", weight: 0.4},
				{keyword: "难过", weight: 0.5}, {keyword: "失望", weight: 0.4},
				{keyword: "伤心", weight: 0.5}, {keyword: "哭", weight: 0.4},
				{keyword: "孤独", weight: 0.4}, {keyword: "无所谓了", weight: 0.4},
				{keyword: "sigh", weight: 0.4}, {keyword: "forget it", weight: 0.4},
				{keyword: "lonely", weight: 0.4}, {keyword: "sad", weight: 0.5},
				{keyword: "disappointed", weight: 0.4}, {keyword: "miss", weight: 0.3},
			},
		},
		EmotionAffection: {
			baseWeight: 1.0,
			keywords: []weightedKeyword{
				{keyword: "喜欢你", weight: 0.5}, {keyword: "爱你", weight: 0.5},
				{keyword: "抱抱", weight: 0.4}, {keyword: "想你", weight: 0.4},
				{keyword: "温柔", weight: 0.3}, {keyword: "陪着我", weight: 0.4},
				{keyword: "love you", weight: 0.5}, {keyword: "miss you", weight: 0.4},
				{keyword: "hug", weight: 0.4}, {keyword: "sweet", weight: 0.3},
			},
		},
		EmotionJoy: {
			// Lower weight, needs multiple hits to trigger (anti-false-positive for sarcasm)
			baseWeight: 0.9,
			keywords: []weightedKeyword{
				{keyword: "太好了", weight: 0.3}, {keyword: "哈哈", weight: 0.3},
				{keyword: "棒", weight: 0.3}, {keyword: "开心", weight: 0.4},
				{keyword: "好耶", weight: 0.3}, {keyword: "期待", weight: 0.3},
				{keyword: "nice", weight: 0.3}, {keyword: "awesome", weight: 0.3},
				{keyword: "great", weight: 0.3}, {keyword: "happy", weight: 0.4},
				{keyword: "love it", weight: 0.3},
			},
		},
	}
}

// Classify scores the utterance and returns the dominant emotion. The
// optional context strings (most recent prior utterances) contribute at
// reduced weight. Identical inputs always produce identical results.
func (c *EmotionClassifier) Classify(utterance string, context ...string) EmotionResult {
	lower := strings.ToLower(utterance)
	runes := utf8.RuneCountInString(utterance)
	lengthFactor := inputLengthFactor(runes)

	scores := make(map[EmotionType]float64, len(c.lexicons))
	matched := make(map[EmotionType][]string, len(c.lexicons))

	for emo, lex := range c.lexicons {
		score := 0.0
		for _, kw := range lex.keywords {
			k := strings.ToLower(kw.keyword)
			if hits := strings.Count(lower, k); hits > 0 {
				score += kw.weight * diminishingFactor(hits)
				matched[emo] = append(matched[emo], kw.keyword)
			}
			for _, prior := range context {
				if strings.Contains(strings.ToLower(prior), k) {
					score += kw.weight * contextWeight
					break
				}
			}
		}
		scores[emo] = score * lex.baseWeight * lengthFactor
	}

	// Dominant category, ties broken by the fixed priority order.
	top := EmotionNeutral
	topScore := 0.0
	for _, emo := range categoryPriority {
		if scores[emo] > topScore {
			topScore = scores[emo]
			top = emo
		}
	}

	if topScore <= 0 {
		return EmotionResult{
			Type:       EmotionNeutral,
			Intensity:  neutralIntensity,
			Confidence: neutralConfidence,
		}
	}

	// Each competing non-zero category lowers confidence.
	rivals := 0
	for emo, s := range scores {
		if emo != top && s > 0 {
			rivals++
		}
	}
	confidence := clamp01(topScore)
	confidence -= confidencePerRival * float64(rivals)
	if runes < shortInputRunes {
		confidence -= 0.15
	}
	confidence = clamp01(confidence)

	keywords := matched[top]
	sort.Strings(keywords)

	return EmotionResult{
		Type:            top,
		Intensity:       clamp01(topScore),
		Confidence:      confidence,
		MatchedKeywords: keywords,
	}
}

// diminishingFactor returns Σ decay^i for i in [0, hits): repeated hits of
// the same keyword add less and less.
func diminishingFactor(hits int) float64 {
	factor := 0.0
	contribution := 1.0
	for i := 0; i < hits; i++ {
		factor += contribution
		contribution *= repeatHitDecay
	}
	return factor
}

// inputLengthFactor penalizes very short inputs: a single word should not
// produce a full-intensity reading.
func inputLengthFactor(runes int) float64 {
	switch {
	case runes >= 12:
		return 1.0
	case runes >= shortInputRunes:
		return 0.85
	case runes >= 3:
		return 0.7
	default:
		return 0.5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
