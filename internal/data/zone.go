package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SpawnEntry defines where and how many mobs to spawn in a zone.
type SpawnEntry struct {
	MobID int64   `yaml:"mob_id"`
	X     float64 `yaml:"x"`
	Y     float64 `yaml:"y"`
	Count int     `yaml:"count"`
}

// NodeEntry defines a resource node placement.
type NodeEntry struct {
	Resource     string  `yaml:"resource"` // ore, flower, nectar
	X            float64 `yaml:"x"`
	Y            float64 `yaml:"y"`
	MaxCharges   int     `yaml:"max_charges"`
	RespawnTicks int64   `yaml:"respawn_ticks"`
	ToolTier     int     `yaml:"tool_tier"`
	YieldTokenID int64   `yaml:"yield_token_id"`
	RareTokenID  int64   `yaml:"rare_token_id"`
}

// PortalDef defines a portal placement and destination.
type PortalDef struct {
	PortalID string  `yaml:"portal_id"`
	X        float64 `yaml:"x"`
	Y        float64 `yaml:"y"`
	DestZone string  `yaml:"dest_zone"`
	DestX    float64 `yaml:"dest_x"`
	DestY    float64 `yaml:"dest_y"`
	LevelReq int     `yaml:"level_req"`
}

// QuestEntry defines a quest offered by an NPC.
type QuestEntry struct {
	QuestID      string `yaml:"quest_id"`
	Name         string `yaml:"name"`
	TargetMobID  int64  `yaml:"target_mob_id"`
	Goal         int    `yaml:"goal"`
	RewardCopper int64  `yaml:"reward_copper"`
}

// NpcDef defines an NPC placement with its capability set.
type NpcDef struct {
	Name        string       `yaml:"name"`
	Role        string       `yaml:"role"` // merchant, trainer, profession-trainer, quest-giver, lore
	X           float64      `yaml:"x"`
	Y           float64      `yaml:"y"`
	ShopTokens  []int64      `yaml:"shop_tokens"`
	Techniques  []string     `yaml:"techniques"`
	Professions []string     `yaml:"professions"`
	Quests      []QuestEntry `yaml:"quests"`
	Lore        string       `yaml:"lore"`
}

// StationDef defines a crafting station placement.
type StationDef struct {
	StationType string  `yaml:"station_type"` // forge, altar, campfire
	X           float64 `yaml:"x"`
	Y           float64 `yaml:"y"`
}

// ZoneDef is the static definition of a regular zone.
type ZoneDef struct {
	ZoneID     string  `yaml:"zone_id"`
	Name       string  `yaml:"name"`
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
	GraveyardX float64 `yaml:"graveyard_x"`
	GraveyardY float64 `yaml:"graveyard_y"`

	// Gate surge weighting. A zone with no weights never receives gates.
	GateRankWeights map[string]int `yaml:"gate_rank_weights"`

	Spawns   []SpawnEntry `yaml:"spawns"`
	Nodes    []NodeEntry  `yaml:"nodes"`
	Portals  []PortalDef  `yaml:"portals"`
	Npcs     []NpcDef     `yaml:"npcs"`
	Stations []StationDef `yaml:"stations"`
}

type zoneListFile struct {
	Zones []ZoneDef `yaml:"zones"`
}

// ZoneTable holds all zone definitions indexed by zone ID.
type ZoneTable struct {
	zones map[string]*ZoneDef
	order []string
}

// Get returns the definition for a zone ID, or nil (instances and unlisted
// zones have no definition).
func (t *ZoneTable) Get(zoneID string) *ZoneDef { return t.zones[zoneID] }

// Count returns the number of zone definitions.
func (t *ZoneTable) Count() int { return len(t.zones) }

// IDs returns zone ids in file order.
func (t *ZoneTable) IDs() []string { return t.order }

// GateEligible returns the zone ids that can receive dungeon gates.
func (t *ZoneTable) GateEligible() []string {
	var out []string
	for _, id := range t.order {
		if len(t.zones[id].GateRankWeights) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// NewZoneTable builds a table from definitions (tests use this directly).
func NewZoneTable(defs []ZoneDef) *ZoneTable {
	t := &ZoneTable{zones: make(map[string]*ZoneDef, len(defs))}
	for i := range defs {
		d := defs[i]
		t.zones[d.ZoneID] = &d
		t.order = append(t.order, d.ZoneID)
	}
	return t
}

// LoadZoneTable loads zone definitions from a YAML file.
func LoadZoneTable(path string) (*ZoneTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone list: %w", err)
	}
	var f zoneListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse zone list: %w", err)
	}
	return NewZoneTable(f.Zones), nil
}
