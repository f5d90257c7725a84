package companion

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// fakeClock is a settable Clock for deterministic cooldown and time-window
// tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// testDay returns a fixed daytime instant (14:00 local) so time-window
// triggers stay inert unless a test opts in.
func testDay() time.Time {
	return time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
}

func testPersonaCatalog() *PersonaCatalog {
	return NewPersonaCatalog([]PersonaProfile{
		{
			ID:       "companion",
			Name:     "日常陪伴",
			Priority: 1,
			Cooldown: 5 * time.Minute,
			Triggers: PersonaTriggers{
				Keywords: []string{"回来吧", "老样子"},
			},
		},
		{
			ID:       "nurturing",
			Name:     "温柔安慰",
			Priority: 10,
			Cooldown: 5 * time.Minute,
			Triggers: PersonaTriggers{
				EmotionType:      EmotionSadness,
				EmotionThreshold: 0.2,
				Keywords:         []string{"难过", "伤心", "哭"},
			},
		},
		{
			ID:       "playful",
			Name:     "活泼逗趣",
			Priority: 5,
			Cooldown: 5 * time.Minute,
			Triggers: PersonaTriggers{
				EmotionType:      EmotionJoy,
				EmotionThreshold: 0.2,
				Keywords:         []string{"哈哈", "开心"},
			},
		},
		{
			ID:       "midnight",
			Name:     "深夜低语",
			Priority: 3,
			Cooldown: 5 * time.Minute,
			Triggers: PersonaTriggers{
				EmotionType:      EmotionSadness,
				EmotionThreshold: 0.2,
				TimeWindow:       "22:00-06:00",
			},
		},
	}, "companion", zap.NewNop())
}

func testFragmentCatalog() *FragmentCatalog {
	return NewFragmentCatalog([]MemoryFragment{
		{
			ID:        "frag_count5",
			Title:     "初次的约定",
			Text:      "那天你答应过我，会一直聊下去。",
			Rarity:    RarityCommon,
			Category:  "daily",
			Condition: ConversationCount{N: 5},
		},
		{
			ID:       "frag_sad_star",
			Title:    "星空下的安慰",
			Rarity:   RarityRare,
			Category: "night",
			Condition: And{Children: []UnlockCondition{
				EmotionMatch{Type: EmotionSadness, Threshold: 0.2},
				KeywordAny{Keywords: []string{"星星", "star"}},
			}},
		},
		{
			ID:        "frag_switch2",
			Title:     "善变的心",
			Rarity:    RarityEpic,
			Category:  "persona",
			Condition: PersonaSwitchCount{N: 2},
		},
	}, zap.NewNop())
}
