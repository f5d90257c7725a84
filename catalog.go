package companion

import (
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ──────────────────────────────────────────────
// Catalogs: static persona and fragment definitions
// ──────────────────────────────────────────────
//
// Catalogs are loaded once at startup and read-only afterwards. A malformed
// entry is excluded and logged (ConfigError); it never aborts the load.

// PersonaCatalog is the read-only set of declared personas.
type PersonaCatalog struct {
	ordered   []PersonaProfile
	byID      map[PersonaID]PersonaProfile
	defaultID PersonaID
}

// NewPersonaCatalog builds a catalog from profiles. Invalid profiles are
// skipped and reported. The first valid profile becomes the default unless
// defaultID names another one.
func NewPersonaCatalog(profiles []PersonaProfile, defaultID PersonaID, logger *zap.Logger) *PersonaCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &PersonaCatalog{byID: make(map[PersonaID]PersonaProfile)}
	for _, p := range profiles {
		if err := validatePersona(&p); err != nil {
			logger.Warn("skipping persona profile", zap.String("id", string(p.ID)), zap.Error(err))
			continue
		}
		if _, dup := c.byID[p.ID]; dup {
			logger.Warn("skipping duplicate persona profile", zap.String("id", string(p.ID)))
			continue
		}
		c.byID[p.ID] = p
		c.ordered = append(c.ordered, p)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		if c.ordered[i].Priority != c.ordered[j].Priority {
			return c.ordered[i].Priority > c.ordered[j].Priority
		}
		return c.ordered[i].ID < c.ordered[j].ID
	})
	if _, ok := c.byID[defaultID]; ok {
		c.defaultID = defaultID
	} else if len(c.ordered) > 0 {
		c.defaultID = c.ordered[0].ID
	}
	return c
}

func validatePersona(p *PersonaProfile) error {
	if p.ID == "" {
		return &ConfigError{Kind: "persona", ID: "", Reason: "empty id"}
	}
	if p.Cooldown < 0 {
		return &ConfigError{Kind: "persona", ID: string(p.ID), Reason: "negative cooldown"}
	}
	t := p.Triggers
	if t.EmotionType == "" && len(t.Keywords) == 0 && t.TimeWindow == "" {
		return &ConfigError{Kind: "persona", ID: string(p.ID), Reason: "no trigger predicates"}
	}
	if t.EmotionThreshold < 0 || t.EmotionThreshold > 1 {
		return &ConfigError{Kind: "persona", ID: string(p.ID), Reason: "emotion threshold out of [0,1]"}
	}
	if t.TimeWindow != "" {
		if _, _, ok := parseClockRange(t.TimeWindow); !ok {
			return &ConfigError{Kind: "persona", ID: string(p.ID), Reason: "malformed time window " + t.TimeWindow}
		}
	}
	return nil
}

// Get returns the profile for an id.
func (c *PersonaCatalog) Get(id PersonaID) (PersonaProfile, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// DefaultID returns the persona assigned to first-contact sessions.
func (c *PersonaCatalog) DefaultID() PersonaID { return c.defaultID }

// Len returns the number of valid profiles.
func (c *PersonaCatalog) Len() int { return len(c.ordered) }

// FragmentCatalog is the read-only set of unlockable fragments, held in the
// deterministic evaluation order: rarity ascending, then id.
type FragmentCatalog struct {
	ordered []MemoryFragment
	byID    map[string]MemoryFragment
}

// NewFragmentCatalog builds a catalog from fragments. Invalid fragments are
// skipped and reported.
func NewFragmentCatalog(fragments []MemoryFragment, logger *zap.Logger) *FragmentCatalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &FragmentCatalog{byID: make(map[string]MemoryFragment)}
	for _, f := range fragments {
		if err := validateFragment(&f); err != nil {
			logger.Warn("skipping memory fragment", zap.String("id", f.ID), zap.Error(err))
			continue
		}
		if _, dup := c.byID[f.ID]; dup {
			logger.Warn("skipping duplicate memory fragment", zap.String("id", f.ID))
			continue
		}
		c.byID[f.ID] = f
		c.ordered = append(c.ordered, f)
	}
	sort.SliceStable(c.ordered, func(i, j int) bool {
		if c.ordered[i].Rarity != c.ordered[j].Rarity {
			return c.ordered[i].Rarity < c.ordered[j].Rarity
		}
		return c.ordered[i].ID < c.ordered[j].ID
	})
	return c
}

func validateFragment(f *MemoryFragment) error {
	if f.ID == "" {
		return &ConfigError{Kind: "fragment", ID: "", Reason: "empty id"}
	}
	if f.Condition == nil {
		return &ConfigError{Kind: "fragment", ID: f.ID, Reason: "missing unlock condition"}
	}
	return nil
}

// Get returns the fragment for an id.
func (c *FragmentCatalog) Get(id string) (MemoryFragment, bool) {
	f, ok := c.byID[id]
	return f, ok
}

// Len returns the number of valid fragments.
func (c *FragmentCatalog) Len() int { return len(c.ordered) }

// ──────────────────────────────────────────────
// YAML loading
// ──────────────────────────────────────────────

type personaFileYAML struct {
	Default  string        `yaml:"default"`
	Personas []personaYAML `yaml:"personas"`
}

type personaYAML struct {
	ID       string          `yaml:"id"`
	Name     string          `yaml:"name"`
	Priority int             `yaml:"priority"`
	Cooldown string          `yaml:"cooldown"` // Go duration string, e.g. "5m"
	Triggers PersonaTriggers `yaml:"triggers"`
}

// LoadPersonaCatalog reads a persona catalog from a YAML file.
func LoadPersonaCatalog(path string, logger *zap.Logger) (*PersonaCatalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona catalog: %w", err)
	}
	var file personaFileYAML
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse persona catalog: %w", err)
	}
	profiles := make([]PersonaProfile, 0, len(file.Personas))
	for _, p := range file.Personas {
		profile := PersonaProfile{
			ID:       PersonaID(p.ID),
			Name:     p.Name,
			Priority: p.Priority,
			Triggers: p.Triggers,
		}
		if p.Cooldown != "" {
			d, err := time.ParseDuration(p.Cooldown)
			if err != nil {
				logger.Warn("skipping persona profile", zap.String("id", p.ID),
					zap.Error(&ConfigError{Kind: "persona", ID: p.ID, Reason: "malformed cooldown " + p.Cooldown}))
				continue
			}
			profile.Cooldown = d
		}
		profiles = append(profiles, profile)
	}
	return NewPersonaCatalog(profiles, PersonaID(file.Default), logger), nil
}

type fragmentFileYAML struct {
	Fragments []fragmentYAML `yaml:"fragments"`
}

type fragmentYAML struct {
	ID         string          `yaml:"id"`
	Title      string          `yaml:"title"`
	Text       string          `yaml:"text"`
	Rarity     string          `yaml:"rarity"`
	Category   string          `yaml:"category"`
	Conditions []conditionNode `yaml:"conditions"` // bare list is treated as And
}

// conditionNode is the YAML shape of one condition tree node.
type conditionNode struct {
	Type      string          `yaml:"type"`
	Count     int             `yaml:"count"`     // conversation_count, persona_switch_count
	Emotion   string          `yaml:"emotion"`   // emotion_match
	Threshold float64         `yaml:"threshold"` // emotion_match
	Keywords  []string        `yaml:"keywords"`  // keyword_any
	Range     string          `yaml:"range"`     // time_window
	Children  []conditionNode `yaml:"children"`  // and, or
}

func (n conditionNode) compile() (UnlockCondition, error) {
	switch n.Type {
	case "conversation_count":
		if n.Count <= 0 {
			return nil, fmt.Errorf("conversation_count needs count > 0")
		}
		return ConversationCount{N: n.Count}, nil
	case "persona_switch_count":
		if n.Count <= 0 {
			return nil, fmt.Errorf("persona_switch_count needs count > 0")
		}
		return PersonaSwitchCount{N: n.Count}, nil
	case "emotion_match":
		if n.Emotion == "" {
			return nil, fmt.Errorf("emotion_match needs emotion")
		}
		if n.Threshold < 0 || n.Threshold > 1 {
			return nil, fmt.Errorf("emotion_match threshold out of [0,1]")
		}
		return EmotionMatch{Type: EmotionType(n.Emotion), Threshold: n.Threshold}, nil
	case "keyword_any":
		if len(n.Keywords) == 0 {
			return nil, fmt.Errorf("keyword_any needs keywords")
		}
		return KeywordAny{Keywords: n.Keywords}, nil
	case "time_window":
		if _, _, ok := parseClockRange(n.Range); !ok {
			return nil, fmt.Errorf("time_window has malformed range %q", n.Range)
		}
		return TimeWindow{Range: n.Range}, nil
	case "and", "or":
		children, err := compileNodes(n.Children)
		if err != nil {
			return nil, err
		}
		if len(children) == 0 {
			return nil, fmt.Errorf("%s needs children", n.Type)
		}
		if n.Type == "and" {
			return And{Children: children}, nil
		}
		return Or{Children: children}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", n.Type)
	}
}

func compileNodes(nodes []conditionNode) ([]UnlockCondition, error) {
	out := make([]UnlockCondition, 0, len(nodes))
	for _, n := range nodes {
		c, err := n.compile()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// compileConditionList turns a catalog condition list into one tree: a
// single node stands alone, multiple nodes combine as And.
func compileConditionList(nodes []conditionNode) (UnlockCondition, error) {
	children, err := compileNodes(nodes)
	if err != nil {
		return nil, err
	}
	switch len(children) {
	case 0:
		return nil, fmt.Errorf("empty condition list")
	case 1:
		return children[0], nil
	default:
		return And{Children: children}, nil
	}
}

// LoadFragmentCatalog reads a fragment catalog from a YAML file.
func LoadFragmentCatalog(path string, logger *zap.Logger) (*FragmentCatalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fragment catalog: %w", err)
	}
	var file fragmentFileYAML
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fragment catalog: %w", err)
	}
	fragments := make([]MemoryFragment, 0, len(file.Fragments))
	for _, f := range file.Fragments {
		cond, err := compileConditionList(f.Conditions)
		if err != nil {
			logger.Warn("skipping memory fragment", zap.String("id", f.ID),
				zap.Error(&ConfigError{Kind: "fragment", ID: f.ID, Reason: err.Error()}))
			continue
		}
		fragments = append(fragments, MemoryFragment{
			ID:        f.ID,
			Title:     f.Title,
			Text:      f.Text,
			Rarity:    ParseRarity(f.Rarity),
			Category:  f.Category,
			Condition: cond,
		})
	}
	return NewFragmentCatalog(fragments, logger), nil
}
