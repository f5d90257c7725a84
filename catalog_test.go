package companion

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPersonaCatalog(t *testing.T) {
	path := writeTempFile(t, "personas.yaml", `
default: companion
personas:
  - id: companion
    name: 日常陪伴
    priority: 1
    cooldown: 5m
    triggers:
      keywords: [聊天]
  - id: nurturing
    name: 温柔安慰
    priority: 10
    cooldown: 10m
    triggers:
      emotion_type: sadness
      emotion_threshold: 0.2
      keywords: [难过, 伤心]
  - id: midnight
    name: 深夜低语
    priority: 3
    cooldown: 30m
    triggers:
      emotion_type: sadness
      emotion_threshold: 0.3
      time_window: "22:00-06:00"
`)

	catalog, err := LoadPersonaCatalog(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, catalog.Len())
	assert.Equal(t, PersonaID("companion"), catalog.DefaultID())

	nurturing, ok := catalog.Get("nurturing")
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, nurturing.Cooldown)
	assert.Equal(t, EmotionSadness, nurturing.Triggers.EmotionType)
	assert.Equal(t, []string{"难过", "伤心"}, nurturing.Triggers.Keywords)

	midnight, ok := catalog.Get("midnight")
	require.True(t, ok)
	assert.Equal(t, "22:00-06:00", midnight.Triggers.TimeWindow)
}

func TestLoadPersonaCatalog_SkipsMalformedEntries(t *testing.T) {
	path := writeTempFile(t, "personas.yaml", `
default: good
personas:
  - id: good
    cooldown: 1m
    triggers:
      keywords: [hi]
  - id: bad_cooldown
    cooldown: not-a-duration
    triggers:
      keywords: [hi]
  - id: no_triggers
    cooldown: 1m
  - id: bad_window
    cooldown: 1m
    triggers:
      time_window: "99:99-10:00"
`)

	catalog, err := LoadPersonaCatalog(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
	_, ok := catalog.Get("good")
	assert.True(t, ok)
}

func TestLoadPersonaCatalog_MissingFile(t *testing.T) {
	_, err := LoadPersonaCatalog(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadFragmentCatalog(t *testing.T) {
	path := writeTempFile(t, "fragments.yaml", `
fragments:
  - id: first_promise
    title: 初次的约定
    text: 那天你答应过我……
    rarity: common
    category: daily
    conditions:
      - type: conversation_count
        count: 5
  - id: starlit_night
    title: 星空下的安慰
    text: 星星会替我记住今晚。
    rarity: rare
    category: night
    conditions:
      - type: emotion_match
        emotion: sadness
        threshold: 0.3
      - type: keyword_any
        keywords: [星星, star]
  - id: midnight_whisper
    title: 深夜的低语
    rarity: epic
    category: night
    conditions:
      - type: or
        children:
          - type: time_window
            range: "22:00-06:00"
          - type: persona_switch_count
            count: 3
`)

	catalog, err := LoadFragmentCatalog(path, nil)
	require.NoError(t, err)
	require.Equal(t, 3, catalog.Len())

	// A bare list of two conditions compiles to And.
	star, ok := catalog.Get("starlit_night")
	require.True(t, ok)
	and, isAnd := star.Condition.(And)
	require.True(t, isAnd)
	assert.Len(t, and.Children, 2)

	// A single condition stands alone.
	first, ok := catalog.Get("first_promise")
	require.True(t, ok)
	assert.Equal(t, ConversationCount{N: 5}, first.Condition)

	// Nested composite.
	whisper, ok := catalog.Get("midnight_whisper")
	require.True(t, ok)
	or, isOr := whisper.Condition.(Or)
	require.True(t, isOr)
	assert.Len(t, or.Children, 2)
	assert.Equal(t, RarityEpic, whisper.Rarity)
}

func TestLoadFragmentCatalog_SkipsMalformedEntries(t *testing.T) {
	path := writeTempFile(t, "fragments.yaml", `
fragments:
  - id: ok
    rarity: common
    conditions:
      - type: conversation_count
        count: 1
  - id: bad_type
    conditions:
      - type: no_such_condition
  - id: empty_conditions
    conditions: []
  - id: bad_threshold
    conditions:
      - type: emotion_match
        emotion: sadness
        threshold: 1.5
`)

	catalog, err := LoadFragmentCatalog(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, catalog.Len())
	_, ok := catalog.Get("ok")
	assert.True(t, ok)
}

func TestNewFragmentCatalog_DeterministicOrder(t *testing.T) {
	catalog := NewFragmentCatalog([]MemoryFragment{
		{ID: "z_common", Rarity: RarityCommon, Condition: ConversationCount{N: 1}},
		{ID: "a_rare", Rarity: RarityRare, Condition: ConversationCount{N: 1}},
		{ID: "a_common", Rarity: RarityCommon, Condition: ConversationCount{N: 1}},
	}, nil)

	ids := make([]string, 0, len(catalog.ordered))
	for _, f := range catalog.ordered {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"a_common", "z_common", "a_rare"}, ids)
}

func TestNewPersonaCatalog_DefaultFallsBackToHighestPriority(t *testing.T) {
	catalog := NewPersonaCatalog([]PersonaProfile{
		{ID: "a", Priority: 1, Triggers: PersonaTriggers{Keywords: []string{"x"}}},
		{ID: "b", Priority: 9, Triggers: PersonaTriggers{Keywords: []string{"y"}}},
	}, "missing", nil)
	assert.Equal(t, PersonaID("b"), catalog.DefaultID())
}

func TestParseRarity(t *testing.T) {
	assert.Equal(t, RarityLegendary, ParseRarity("legendary"))
	assert.Equal(t, RarityCommon, ParseRarity("unknown"))
	assert.Equal(t, "epic", RarityEpic.String())
}
