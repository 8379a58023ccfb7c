package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClassDef holds base stats and per-level growth for a character class.
type ClassDef struct {
	ClassID       string    `yaml:"class_id"`
	Name          string    `yaml:"name"`
	Base          StatBlock `yaml:"base"`
	Growth        StatBlock `yaml:"growth"` // added per level past 1
	UsesEssence   bool      `yaml:"uses_essence"`
	BaseEssence   int       `yaml:"base_essence"`
	EssenceGrowth int       `yaml:"essence_growth"`
}

// RaceDef holds the flat stat bonus for a race.
type RaceDef struct {
	RaceID string    `yaml:"race_id"`
	Name   string    `yaml:"name"`
	Bonus  StatBlock `yaml:"bonus"`
}

type classListFile struct {
	Classes []ClassDef `yaml:"classes"`
	Races   []RaceDef  `yaml:"races"`
}

// ClassTable holds class and race definitions.
type ClassTable struct {
	classes map[string]*ClassDef
	races   map[string]*RaceDef
}

// Class returns a class definition by id, or nil.
func (t *ClassTable) Class(id string) *ClassDef { return t.classes[id] }

// Race returns a race definition by id, or nil.
func (t *ClassTable) Race(id string) *RaceDef { return t.races[id] }

// Count returns the number of class definitions.
func (t *ClassTable) Count() int { return len(t.classes) }

// NewClassTable builds a table from definitions (tests use this directly).
func NewClassTable(classes []ClassDef, races []RaceDef) *ClassTable {
	t := &ClassTable{
		classes: make(map[string]*ClassDef, len(classes)),
		races:   make(map[string]*RaceDef, len(races)),
	}
	for i := range classes {
		c := classes[i]
		t.classes[c.ClassID] = &c
	}
	for i := range races {
		r := races[i]
		t.races[r.RaceID] = &r
	}
	return t
}

// LoadClassTable loads class/race definitions from a YAML file.
func LoadClassTable(path string) (*ClassTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read class list: %w", err)
	}
	var f classListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse class list: %w", err)
	}
	return NewClassTable(f.Classes, f.Races), nil
}
