package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Technique holds static data for a castable technique.
type Technique struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	ClassID       string    `yaml:"class_id"` // empty = any class
	MinLevel      int       `yaml:"min_level"`
	EssenceCost   int       `yaml:"essence_cost"`
	CooldownTicks int64     `yaml:"cooldown_ticks"`
	Kind          string    `yaml:"kind"` // damage, heal, buff, hot, shield
	Power         int       `yaml:"power"`
	DurationTicks int       `yaml:"duration_ticks"`
	Mods          StatBlock `yaml:"mods"`
	ShieldHP      int       `yaml:"shield_hp"`
	HealPerTick   int       `yaml:"heal_per_tick"`
	LearnCost     int64     `yaml:"learn_cost"`
	NeedsTarget   bool      `yaml:"needs_target"`
}

type techniqueListFile struct {
	Techniques []Technique `yaml:"techniques"`
}

// TechniqueTable holds all techniques indexed by id.
type TechniqueTable struct {
	byID map[string]*Technique
}

// Get returns a technique by id, or nil.
func (t *TechniqueTable) Get(id string) *Technique { return t.byID[id] }

// Count returns the number of techniques.
func (t *TechniqueTable) Count() int { return len(t.byID) }

// NewTechniqueTable builds a table from entries (tests use this directly).
func NewTechniqueTable(entries []Technique) *TechniqueTable {
	t := &TechniqueTable{byID: make(map[string]*Technique, len(entries))}
	for i := range entries {
		e := entries[i]
		t.byID[e.ID] = &e
	}
	return t
}

// LoadTechniqueTable loads the technique catalog from a YAML file.
func LoadTechniqueTable(path string) (*TechniqueTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read technique list: %w", err)
	}
	var f techniqueListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse technique list: %w", err)
	}
	return NewTechniqueTable(f.Techniques), nil
}
