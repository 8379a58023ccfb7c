package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DungeonSpawn defines a mob placement inside an instance.
type DungeonSpawn struct {
	MobID int64   `yaml:"mob_id"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Count int     `yaml:"count"`
}

// DungeonTemplate describes the instance populated when a gate of a given
// rank is opened.
type DungeonTemplate struct {
	Rank             string         `yaml:"rank"`
	Name             string         `yaml:"name"`
	MinLevel         int            `yaml:"min_level"`
	ClearBonusCopper int64          `yaml:"clear_bonus_copper"`
	Spawns           []DungeonSpawn `yaml:"spawns"`
}

type dungeonListFile struct {
	Dungeons []DungeonTemplate `yaml:"dungeons"`
}

// DungeonTable holds dungeon templates indexed by gate rank.
type DungeonTable struct {
	byRank map[string]*DungeonTemplate
}

// Get returns the template for a rank, or nil.
func (t *DungeonTable) Get(rank string) *DungeonTemplate { return t.byRank[rank] }

// Count returns the number of dungeon templates.
func (t *DungeonTable) Count() int { return len(t.byRank) }

// NewDungeonTable builds a table from templates (tests use this directly).
func NewDungeonTable(templates []DungeonTemplate) *DungeonTable {
	t := &DungeonTable{byRank: make(map[string]*DungeonTemplate, len(templates))}
	for i := range templates {
		d := templates[i]
		t.byRank[d.Rank] = &d
	}
	return t
}

// LoadDungeonTable loads dungeon templates from a YAML file.
func LoadDungeonTable(path string) (*DungeonTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dungeon list: %w", err)
	}
	var f dungeonListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse dungeon list: %w", err)
	}
	return NewDungeonTable(f.Dungeons), nil
}
