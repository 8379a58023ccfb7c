package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DropRoll is one independently-rolled loot entry.
type DropRoll struct {
	TokenID int64   `yaml:"token_id"`
	MinQty  int     `yaml:"min_qty"`
	MaxQty  int     `yaml:"max_qty"`
	Chance  float64 `yaml:"chance"` // 0.0–1.0
}

// LootTable defines what a mob yields on death.
type LootTable struct {
	CopperMin     int64      `yaml:"copper_min"`
	CopperMax     int64      `yaml:"copper_max"`
	AutoDrops     []DropRoll `yaml:"auto_drops"`
	SkinningDrops []DropRoll `yaml:"skinning_drops"`
}

// MobTemplate holds static data for a mob type.
type MobTemplate struct {
	MobID    int64     `yaml:"mob_id"`
	Name     string    `yaml:"name"`
	Boss     bool      `yaml:"boss"`
	Level    int       `yaml:"level"`
	MaxHP    int       `yaml:"max_hp"`
	Stats    StatBlock `yaml:"stats"`
	XPReward int64     `yaml:"xp_reward"`
	Loot     LootTable `yaml:"loot"`
}

type mobListFile struct {
	Mobs []MobTemplate `yaml:"mobs"`
}

// MobTable holds all mob templates indexed by mob ID.
type MobTable struct {
	mobs map[int64]*MobTemplate
}

// Get returns the template for a mob ID, or nil.
func (t *MobTable) Get(mobID int64) *MobTemplate { return t.mobs[mobID] }

// Count returns the number of mob templates.
func (t *MobTable) Count() int { return len(t.mobs) }

// NewMobTable builds a table from templates (tests use this directly).
func NewMobTable(mobs []MobTemplate) *MobTable {
	t := &MobTable{mobs: make(map[int64]*MobTemplate, len(mobs))}
	for i := range mobs {
		m := mobs[i]
		t.mobs[m.MobID] = &m
	}
	return t
}

// LoadMobTable loads mob templates from a YAML file.
func LoadMobTable(path string) (*MobTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mob list: %w", err)
	}
	var f mobListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse mob list: %w", err)
	}
	return NewMobTable(f.Mobs), nil
}
