package world

import (
	"math"
	"time"
)

// Kind is the entity variant tag. Kind-specific state lives in the payload
// struct matching the kind; shared fields (id, position, vitals) are on
// Entity itself.
type Kind string

const (
	KindPlayer  Kind = "player"
	KindMob     Kind = "mob"
	KindBoss    Kind = "boss"
	KindNPC     Kind = "npc"
	KindStation Kind = "station"
	KindNode    Kind = "node"
	KindCorpse  Kind = "corpse"
	KindGate    Kind = "gate"
	KindPortal  Kind = "portal"
)

// IsCombatant reports whether the kind participates in combat.
func (k Kind) IsCombatant() bool {
	return k == KindPlayer || k == KindMob || k == KindBoss
}

// Stats is the base attribute block shared by combatants and gear.
type Stats struct {
	Str int `yaml:"str" json:"str"`
	Agi int `yaml:"agi" json:"agi"`
	Int int `yaml:"int" json:"int"`
	Def int `yaml:"def" json:"def"`
	HP  int `yaml:"hp" json:"hp"`
}

// Add returns the component-wise sum of two stat blocks.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Str: s.Str + o.Str,
		Agi: s.Agi + o.Agi,
		Int: s.Int + o.Int,
		Def: s.Def + o.Def,
		HP:  s.HP + o.HP,
	}
}

// Scale returns the stat block multiplied by n (per-level growth).
func (s Stats) Scale(n int) Stats {
	return Stats{Str: s.Str * n, Agi: s.Agi * n, Int: s.Int * n, Def: s.Def * n, HP: s.HP * n}
}

// OrderType identifies a pending intent on an entity.
type OrderType string

const (
	OrderMove   OrderType = "move"
	OrderAttack OrderType = "attack"
	OrderGather OrderType = "gather"
	OrderCast   OrderType = "cast"
)

// Order is the pending intent attached to an entity, consumed by the tick.
// At most one step of it executes per tick.
type Order struct {
	Type      OrderType `json:"type"`
	X         float64   `json:"x,omitempty"`
	Y         float64   `json:"y,omitempty"`
	TargetID  string    `json:"targetId,omitempty"`
	Technique string    `json:"technique,omitempty"`
}

// EffectKind distinguishes active effect behavior.
type EffectKind string

const (
	EffectBuff   EffectKind = "buff"
	EffectHoT    EffectKind = "hot"
	EffectShield EffectKind = "shield"
)

// Effect is an active buff/HoT/shield on a combatant. Stat-modifying effects
// require an effective-stat recompute when added or expired.
type Effect struct {
	Name           string     `json:"name"`
	Kind           EffectKind `json:"kind"`
	RemainingTicks int        `json:"remainingTicks"`
	Mods           Stats      `json:"mods,omitempty"`
	HotHealPerTick int        `json:"hotHealPerTick,omitempty"`
	ShieldHP       int        `json:"shieldHp,omitempty"`
	XPMult         float64    `json:"xpMult,omitempty"` // >1 while an XP tonic is active
}

// CombatData is present on players, mobs, and bosses.
type CombatData struct {
	Level     int    `json:"level"`
	XP        int64  `json:"xp"`
	RaceID    string `json:"raceId,omitempty"`
	ClassID   string `json:"classId,omitempty"`
	Base      Stats  `json:"base"`
	Effective Stats  `json:"effective"`
	XPReward  int64  `json:"xpReward,omitempty"`
	Kills     int    `json:"kills,omitempty"`

	// TaggedBy is set on first player damage and immutable for the life of
	// the mob instance. Only the tagger (and their party) may loot.
	TaggedBy string `json:"taggedBy,omitempty"`

	Effects []*Effect `json:"effects,omitempty"`

	// Mob template + spawn origin, used for corpse loot and respawn.
	MobID  int64   `json:"-"`
	SpawnX float64 `json:"-"`
	SpawnY float64 `json:"-"`
}

// Slot identifies an equipment slot on a player.
type Slot string

const (
	SlotWeapon    Slot = "weapon"
	SlotChest     Slot = "chest"
	SlotLegs      Slot = "legs"
	SlotBoots     Slot = "boots"
	SlotHelm      Slot = "helm"
	SlotShoulders Slot = "shoulders"
	SlotGloves    Slot = "gloves"
	SlotBelt      Slot = "belt"
	SlotRing      Slot = "ring"
	SlotAmulet    Slot = "amulet"
)

// AllSlots lists every equipment slot, for durability sweeps.
var AllSlots = []Slot{
	SlotWeapon, SlotChest, SlotLegs, SlotBoots, SlotHelm,
	SlotShoulders, SlotGloves, SlotBelt, SlotRing, SlotAmulet,
}

// ArmorSlots lists the slots hit by defender durability loss.
var ArmorSlots = []Slot{
	SlotChest, SlotLegs, SlotBoots, SlotHelm,
	SlotShoulders, SlotGloves, SlotBelt,
}

// EquippedItem is one equipped token. Broken items contribute no stats until
// repaired.
type EquippedItem struct {
	TokenID       int64  `json:"tokenId"`
	Durability    int    `json:"durability"`
	MaxDurability int    `json:"maxDurability"`
	Broken        bool   `json:"broken"`
	Rolled        *Stats `json:"rolledStats,omitempty"`
	Affix         *Stats `json:"bonusAffix,omitempty"`
}

// QuestProgress tracks one active quest on a player.
type QuestProgress struct {
	QuestID  string `json:"questId"`
	Progress int    `json:"progress"`
	Goal     int    `json:"goal"`
	Done     bool   `json:"done"`
}

// PlayerData is present only on player entities.
type PlayerData struct {
	Wallet      string                 `json:"wallet"`
	Equipment   map[Slot]*EquippedItem `json:"equipment"`
	Quests      []*QuestProgress       `json:"quests,omitempty"`
	Professions map[string]int64       `json:"professions,omitempty"` // profession name → xp

	// Stowed preserves durability for unequipped tokens so re-equipping
	// restores the item's prior state.
	Stowed map[int64]*EquippedItem `json:"-"`

	// Displaced maps a slot to the token the last equip pushed out of it.
	// Unequipping the slot puts that token back on.
	Displaced map[Slot]int64 `json:"-"`

	// Cooldowns maps technique id → tick at which it is ready again.
	Cooldowns map[string]int64 `json:"-"`
	Known     map[string]bool  `json:"known,omitempty"` // learned technique ids

	// Dirty marks unsaved progress for the batch persistence loop.
	Dirty bool `json:"-"`
}

// ResourceType classifies a gatherable node.
type ResourceType string

const (
	ResourceOre    ResourceType = "ore"
	ResourceFlower ResourceType = "flower"
	ResourceNectar ResourceType = "nectar"
)

// NodeData is present on resource node entities.
type NodeData struct {
	ResourceType     ResourceType `json:"resourceType"`
	Charges          int          `json:"charges"`
	MaxCharges       int          `json:"maxCharges"`
	DepletedAtTick   int64        `json:"depletedAtTick,omitempty"`
	RespawnTicks     int64        `json:"respawnTicks"`
	RequiredToolTier int          `json:"requiredToolTier"`
	YieldTokenID     int64        `json:"yieldTokenId"`
	RareTokenID      int64        `json:"rareTokenId,omitempty"`
}

// CorpseData is present on corpse entities left by dead mobs.
type CorpseData struct {
	MobName        string    `json:"mobName"`
	MobID          int64     `json:"-"`
	TaggedBy       string    `json:"-"` // exclusive skinner/looter
	Skinned        bool      `json:"skinned"`
	SkinnableUntil time.Time `json:"skinnableUntil"`
}

// GateRank orders dungeon gate difficulty E < D < C < B < A < S.
var GateRanks = []string{"E", "D", "C", "B", "A", "S"}

// GateData is present on dungeon gate entities.
type GateData struct {
	Rank      string    `json:"rank"`
	IsDanger  bool      `json:"isDanger"`
	ExpiresAt time.Time `json:"gateExpiresAt"`
	Opened    bool      `json:"gateOpened"`
}

// PortalData is present on portal entities.
type PortalData struct {
	PortalID   string  `json:"portalId"`
	DestZoneID string  `json:"destZoneId"`
	DestX      float64 `json:"destX"`
	DestY      float64 `json:"destY"`
	LevelReq   int     `json:"levelRequirement"`
}

// StationData is present on crafting station entities (forge, altar, campfire).
type StationData struct {
	StationType string `json:"stationType"`
}

// Capabilities is the set of roles an NPC offers. An NPC may hold several
// (merchant that also trains, etc.); absent pointers mean the role is not
// offered.
type Capabilities struct {
	Merchant   *MerchantCap   `json:"merchant,omitempty"`
	Trainer    *TrainerCap    `json:"trainer,omitempty"`
	Profession *ProfessionCap `json:"profession,omitempty"`
	QuestGiver *QuestGiverCap `json:"questGiver,omitempty"`
	Lore       string         `json:"lore,omitempty"`
}

type MerchantCap struct {
	TokenIDs []int64 `json:"tokenIds"`
}

type TrainerCap struct {
	Techniques []string `json:"techniques"`
}

type ProfessionCap struct {
	Professions []string `json:"professions"`
}

type QuestDef struct {
	QuestID      string `json:"questId"`
	Name         string `json:"name"`
	TargetMobID  int64  `json:"targetMobId"`
	Goal         int    `json:"goal"`
	RewardCopper int64  `json:"rewardCopper"`
}

type QuestGiverCap struct {
	Quests []QuestDef `json:"quests"`
}

// NpcData is present on NPC entities.
type NpcData struct {
	Role         string       `json:"role"` // merchant, trainer, quest-giver, lore, ...
	Capabilities Capabilities `json:"capabilities"`
}

// Entity is the unit the zone simulates. Exactly one payload pointer is set
// for kind-specific state; the rest are nil.
type Entity struct {
	ID   string  `json:"id"`
	Kind Kind    `json:"kind"`
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`

	HP         int `json:"hp,omitempty"`
	MaxHP      int `json:"maxHp,omitempty"`
	Essence    int `json:"essence,omitempty"`
	MaxEssence int `json:"maxEssence,omitempty"`

	Combat  *CombatData  `json:"combat,omitempty"`
	Player  *PlayerData  `json:"player,omitempty"`
	NPC     *NpcData     `json:"npc,omitempty"`
	Node    *NodeData    `json:"node,omitempty"`
	Corpse  *CorpseData  `json:"corpse,omitempty"`
	Gate    *GateData    `json:"gate,omitempty"`
	Portal  *PortalData  `json:"portal,omitempty"`
	Station *StationData `json:"station,omitempty"`

	Order *Order `json:"order,omitempty"`
}

// Alive reports whether a combatant is alive. Non-combatants are never
// "alive" in the combat sense.
func (e *Entity) Alive() bool {
	return e.Kind.IsCombatant() && e.HP > 0
}

// DistanceTo returns the Euclidean distance to another entity.
func (e *Entity) DistanceTo(o *Entity) float64 {
	return dist(e.X, e.Y, o.X, o.Y)
}

// FindEffect returns the active effect with the given name, or nil.
func (c *CombatData) FindEffect(name string) *Effect {
	for _, ef := range c.Effects {
		if ef.Name == name {
			return ef
		}
	}
	return nil
}

// ShieldEffect returns the first active shield effect, or nil.
func (c *CombatData) ShieldEffect() *Effect {
	for _, ef := range c.Effects {
		if ef.Kind == EffectShield && ef.ShieldHP > 0 {
			return ef
		}
	}
	return nil
}

// XPMultiplier returns the combined XP multiplier from active effects.
func (c *CombatData) XPMultiplier() float64 {
	m := 1.0
	for _, ef := range c.Effects {
		if ef.XPMult > 1 {
			m *= ef.XPMult
		}
	}
	return m
}

func dist(x1, y1, x2, y2 float64) float64 {
	dx := x2 - x1
	dy := y2 - y1
	return math.Sqrt(dx*dx + dy*dy)
}
