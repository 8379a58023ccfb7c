package world

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/runevale/server/internal/config"
	"github.com/runevale/server/internal/data"
)

var (
	ErrZoneNotFound   = errors.New("zone not found")
	ErrEntityNotFound = errors.New("entity not found")
	ErrNotPortal      = errors.New("target is not a portal")
	ErrTooFar         = errors.New("too far")
	ErrLevelTooLow    = errors.New("level too low")
)

// World is the set of live zones. Regular zones are created lazily on first
// reference and live for the process lifetime; instance zones come and go
// with their dungeon.
type World struct {
	cfg   *config.Config
	log   *zap.Logger
	defs  *data.ZoneTable
	mobs  *data.MobTable
	items *data.ItemTable

	mu    sync.RWMutex
	zones map[string]*Zone

	seq  atomic.Int64
	seed atomic.Int64
	now  func() time.Time

	// OnZoneCreated is invoked (outside the world lock) for every new zone;
	// the sim engine hooks it to start the zone's tick loop.
	OnZoneCreated func(*Zone)

	Parties *PartyManager
}

func New(cfg *config.Config, log *zap.Logger, defs *data.ZoneTable, mobs *data.MobTable, items *data.ItemTable, now func() time.Time) *World {
	if now == nil {
		now = time.Now
	}
	w := &World{
		cfg:     cfg,
		log:     log,
		defs:    defs,
		mobs:    mobs,
		items:   items,
		zones:   make(map[string]*Zone),
		now:     now,
		Parties: NewPartyManager(),
	}
	w.seed.Store(now().UnixNano())
	return w
}

// Defs exposes the static zone definitions (graveyards, gate weights).
func (w *World) Defs() *data.ZoneTable { return w.defs }

// Items exposes the item catalog.
func (w *World) Items() *data.ItemTable { return w.items }

// Mobs exposes the mob catalog.
func (w *World) Mobs() *data.MobTable { return w.mobs }

// Now returns the world clock (injectable for tests).
func (w *World) Now() time.Time { return w.now() }

// NextID returns a process-unique id with the given prefix.
func (w *World) NextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, w.seq.Add(1))
}

// Get returns a zone by id, or nil.
func (w *World) Get(zoneID string) *Zone {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.zones[zoneID]
}

// ZoneIDs returns the ids of all live zones.
func (w *World) ZoneIDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ids := make([]string, 0, len(w.zones))
	for id := range w.zones {
		ids = append(ids, id)
	}
	return ids
}

// FindEntity searches every live zone for the entity and returns a snapshot
// copy plus the zone id, or nil when it stands nowhere.
func (w *World) FindEntity(entityID string) (*Entity, string) {
	for _, id := range w.ZoneIDs() {
		z := w.Get(id)
		if z == nil {
			continue
		}
		var found *Entity
		z.Mutate(func(zz *Zone) {
			if e := zz.Get(entityID); e != nil {
				found = e.Clone()
			}
		})
		if found != nil {
			return found, id
		}
	}
	return nil, ""
}

// GetOrCreate returns the zone, creating and populating it from its static
// definition on first reference. Idempotent.
func (w *World) GetOrCreate(zoneID string) *Zone {
	w.mu.RLock()
	z := w.zones[zoneID]
	w.mu.RUnlock()
	if z != nil {
		return z
	}

	w.mu.Lock()
	if z = w.zones[zoneID]; z != nil {
		w.mu.Unlock()
		return z
	}
	z = w.buildZone(zoneID)
	w.zones[zoneID] = z
	w.mu.Unlock()

	if w.OnZoneCreated != nil {
		w.OnZoneCreated(z)
	}
	w.log.Info("zone created", zap.String("zone", zoneID))
	return z
}

// CreateInstance creates an instanced dungeon zone populated from a dungeon
// template. The zone id is the instance id.
func (w *World) CreateInstance(meta *InstanceMeta, tmpl *data.DungeonTemplate) *Zone {
	z := NewZone(meta.InstanceID, w.cfg.Gameplay.EventLogSize, w.cfg.Gameplay.InboxSize, w.seed.Add(1), w.now)
	z.IsInstance = true
	z.Instance = meta
	for _, sp := range tmpl.Spawns {
		for i := 0; i < max(sp.Count, 1); i++ {
			if m := w.NewMobEntity(sp.MobID, sp.X+float64(i*12), sp.Y); m != nil {
				z.Add(m)
			}
		}
	}

	w.mu.Lock()
	w.zones[meta.InstanceID] = z
	w.mu.Unlock()

	if w.OnZoneCreated != nil {
		w.OnZoneCreated(z)
	}
	w.log.Info("instance created",
		zap.String("instance", meta.InstanceID),
		zap.String("rank", meta.GateRank),
		zap.Int("party", len(meta.Members)))
	return z
}

// RemoveZone drops a zone from the world (instance cleanup). The zone's tick
// loop observes removal through its stop signal, handled by the sim engine.
func (w *World) RemoveZone(zoneID string) *Zone {
	w.mu.Lock()
	defer w.mu.Unlock()
	z := w.zones[zoneID]
	delete(w.zones, zoneID)
	return z
}

// buildZone constructs a zone from its definition. Called with w.mu held;
// the zone is not yet visible to any other goroutine.
func (w *World) buildZone(zoneID string) *Zone {
	z := NewZone(zoneID, w.cfg.Gameplay.EventLogSize, w.cfg.Gameplay.InboxSize, w.seed.Add(1), w.now)
	def := w.defs.Get(zoneID)
	if def == nil {
		return z
	}
	for _, sp := range def.Spawns {
		for i := 0; i < max(sp.Count, 1); i++ {
			if m := w.NewMobEntity(sp.MobID, sp.X+float64(i*16), sp.Y); m != nil {
				z.Add(m)
			}
		}
	}
	for _, n := range def.Nodes {
		z.Add(w.newNodeEntity(n))
	}
	for _, p := range def.Portals {
		z.Add(newPortalEntity(p))
	}
	for _, n := range def.Npcs {
		z.Add(w.newNpcEntity(n))
	}
	for _, st := range def.Stations {
		z.Add(&Entity{
			ID:      w.NextID("station"),
			Kind:    KindStation,
			Name:    st.StationType,
			X:       st.X,
			Y:       st.Y,
			Station: &StationData{StationType: st.StationType},
		})
	}
	return z
}

// NewMobEntity builds a mob entity from its template, or nil for an unknown
// template id.
func (w *World) NewMobEntity(mobID int64, x, y float64) *Entity {
	tmpl := w.mobs.Get(mobID)
	if tmpl == nil {
		w.log.Warn("unknown mob template", zap.Int64("mob_id", mobID))
		return nil
	}
	kind := KindMob
	if tmpl.Boss {
		kind = KindBoss
	}
	stats := FromBlock(tmpl.Stats)
	return &Entity{
		ID:    w.NextID("mob"),
		Kind:  kind,
		Name:  tmpl.Name,
		X:     x,
		Y:     y,
		HP:    tmpl.MaxHP,
		MaxHP: tmpl.MaxHP,
		Combat: &CombatData{
			Level:     tmpl.Level,
			Base:      stats,
			Effective: stats,
			XPReward:  tmpl.XPReward,
			MobID:     tmpl.MobID,
			SpawnX:    x,
			SpawnY:    y,
		},
	}
}

func (w *World) newNodeEntity(n data.NodeEntry) *Entity {
	return &Entity{
		ID:   w.NextID("node"),
		Kind: KindNode,
		Name: n.Resource + " node",
		X:    n.X,
		Y:    n.Y,
		Node: &NodeData{
			ResourceType:     ResourceType(n.Resource),
			Charges:          n.MaxCharges,
			MaxCharges:       n.MaxCharges,
			RespawnTicks:     n.RespawnTicks,
			RequiredToolTier: n.ToolTier,
			YieldTokenID:     n.YieldTokenID,
			RareTokenID:      n.RareTokenID,
		},
	}
}

func newPortalEntity(p data.PortalDef) *Entity {
	return &Entity{
		ID:   p.PortalID,
		Kind: KindPortal,
		Name: "portal to " + p.DestZone,
		X:    p.X,
		Y:    p.Y,
		Portal: &PortalData{
			PortalID:   p.PortalID,
			DestZoneID: p.DestZone,
			DestX:      p.DestX,
			DestY:      p.DestY,
			LevelReq:   p.LevelReq,
		},
	}
}

func (w *World) newNpcEntity(n data.NpcDef) *Entity {
	caps := Capabilities{Lore: n.Lore}
	if len(n.ShopTokens) > 0 {
		caps.Merchant = &MerchantCap{TokenIDs: n.ShopTokens}
	}
	if len(n.Techniques) > 0 {
		caps.Trainer = &TrainerCap{Techniques: n.Techniques}
	}
	if len(n.Professions) > 0 {
		caps.Profession = &ProfessionCap{Professions: n.Professions}
	}
	if len(n.Quests) > 0 {
		qs := make([]QuestDef, len(n.Quests))
		for i, q := range n.Quests {
			qs[i] = QuestDef{
				QuestID:      q.QuestID,
				Name:         q.Name,
				TargetMobID:  q.TargetMobID,
				Goal:         q.Goal,
				RewardCopper: q.RewardCopper,
			}
		}
		caps.QuestGiver = &QuestGiverCap{Quests: qs}
	}
	return &Entity{
		ID:   w.NextID("npc"),
		Kind: KindNPC,
		Name: n.Name,
		X:    n.X,
		Y:    n.Y,
		NPC:  &NpcData{Role: n.Role, Capabilities: caps},
	}
}

// Transition moves an entity through a portal. Both zones are locked in
// canonical order; observers never see the entity in both or neither.
func (w *World) Transition(srcZoneID, entityID, portalID string) error {
	src := w.Get(srcZoneID)
	if src == nil {
		return ErrZoneNotFound
	}

	// Resolve the destination outside the zone locks; GetOrCreate may build
	// and start a new zone.
	var destZoneID string
	var destX, destY float64
	var levelReq int
	snap := src.Snapshot()
	portal, ok := snap.Entities[portalID]
	if !ok || portal.Kind != KindPortal {
		return ErrNotPortal
	}
	destZoneID = portal.Portal.DestZoneID
	destX, destY = portal.Portal.DestX, portal.Portal.DestY
	levelReq = portal.Portal.LevelReq
	dst := w.GetOrCreate(destZoneID)

	var terr error
	unlock := lockOrdered(src, dst)
	defer unlock()

	ent := src.Get(entityID)
	p := src.Get(portalID)
	switch {
	case ent == nil:
		terr = ErrEntityNotFound
	case p == nil || p.Kind != KindPortal:
		terr = ErrNotPortal
	case ent.DistanceTo(p) > w.cfg.Gameplay.PortalRange:
		terr = ErrTooFar
	case ent.Combat != nil && ent.Combat.Level < levelReq:
		terr = ErrLevelTooLow
	}
	if terr != nil {
		return terr
	}

	src.Remove(entityID)
	ent.Order = nil
	ent.X, ent.Y = destX, destY
	dst.Add(ent)

	src.Emit(Event{
		Type:    EventTransition,
		Message: fmt.Sprintf("%s departed to %s", ent.Name, destZoneID),
		ActorID: entityID,
	})
	dst.Emit(Event{
		Type:    EventTransition,
		Message: fmt.Sprintf("%s arrived from %s", ent.Name, srcZoneID),
		ActorID: entityID,
	})
	return nil
}

// MoveEntity relocates an entity between two live zones at a fixed position
// (instance entry and eviction). Same atomicity as Transition.
func (w *World) MoveEntity(src, dst *Zone, entityID string, x, y float64) bool {
	moved := false
	unlock := lockOrdered(src, dst)
	defer unlock()
	if ent := src.Remove(entityID); ent != nil {
		ent.Order = nil
		ent.X, ent.Y = x, y
		dst.Add(ent)
		moved = true
	}
	return moved
}
