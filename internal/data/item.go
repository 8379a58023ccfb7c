package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StatBlock mirrors the combat stat layout for YAML catalogs.
type StatBlock struct {
	Str int `yaml:"str"`
	Agi int `yaml:"agi"`
	Int int `yaml:"int"`
	Def int `yaml:"def"`
	HP  int `yaml:"hp"`
}

// ConsumeEffect describes what a consumable does on use.
type ConsumeEffect struct {
	Heal          int     `yaml:"heal"`
	Essence       int     `yaml:"essence"`
	XPMult        float64 `yaml:"xp_mult"`
	DurationTicks int     `yaml:"duration_ticks"`
}

// ItemTemplate holds static data for one item token type.
type ItemTemplate struct {
	TokenID       int64          `yaml:"token_id"`
	Name          string         `yaml:"name"`
	Kind          string         `yaml:"kind"` // weapon, armor, tool, consumable, material
	Slot          string         `yaml:"slot"` // equipment slot for weapon/armor/tool
	Damage        int            `yaml:"damage"`
	Stats         StatBlock      `yaml:"stats"`
	MaxDurability int            `yaml:"max_durability"`
	CopperPrice   int64          `yaml:"copper_price"`
	ToolType      string         `yaml:"tool_type"` // pickaxe, sickle, vial, skinning_knife
	ToolTier      int            `yaml:"tool_tier"`
	Consume       *ConsumeEffect `yaml:"consume"`
}

type itemListFile struct {
	Items []ItemTemplate `yaml:"items"`
}

// ItemTable holds all item templates indexed by token ID.
type ItemTable struct {
	items map[int64]*ItemTemplate
}

// Get returns the template for a token ID, or nil.
func (t *ItemTable) Get(tokenID int64) *ItemTemplate {
	return t.items[tokenID]
}

// Count returns the number of item templates.
func (t *ItemTable) Count() int { return len(t.items) }

// NewItemTable builds a table from templates (tests use this directly).
func NewItemTable(items []ItemTemplate) *ItemTable {
	t := &ItemTable{items: make(map[int64]*ItemTemplate, len(items))}
	for i := range items {
		it := items[i]
		t.items[it.TokenID] = &it
	}
	return t
}

// LoadItemTable loads the item catalog from a YAML file.
func LoadItemTable(path string) (*ItemTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read item list: %w", err)
	}
	var f itemListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse item list: %w", err)
	}
	return NewItemTable(f.Items), nil
}
