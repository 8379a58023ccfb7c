package world

import (
	"errors"
	"math/rand"
	"sync"
	"time"
)

// ErrInboxFull is returned by Enqueue when the zone's command inbox is at
// capacity. Callers surface it as backpressure.
var ErrInboxFull = errors.New("zone inbox full")

// InstanceMeta describes an instanced dungeon zone.
type InstanceMeta struct {
	InstanceID   string    `json:"instanceId"`
	PartyID      string    `json:"partyId,omitempty"`
	Members      []string  `json:"members"` // player entity ids
	SourceZoneID string    `json:"sourceZoneId"`
	GateRank     string    `json:"gateRank"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Cleared      bool      `json:"cleared"`
}

// RespawnEntry schedules a dead mob's replacement from its original spawn.
type RespawnEntry struct {
	MobID int64
	X, Y  float64
	Due   time.Time
}

// Zone owns its entities, tick counter, event log, and pending respawns.
// All mutation happens under mu: the tick goroutine holds it for the whole
// tick, external mutations go through Enqueue (drained at tick start) or
// Mutate (synchronous, e.g. portal transitions).
type Zone struct {
	ID         string
	IsInstance bool
	Instance   *InstanceMeta

	mu       sync.RWMutex
	tick     int64
	entities map[string]*Entity
	events   *EventRing
	pending  []Event
	respawns []RespawnEntry
	inbox    chan func(*Zone)

	// Rng drives combat variance and loot rolls. Accessed only under mu.
	Rng *rand.Rand

	now func() time.Time
}

func NewZone(id string, eventLogSize, inboxSize int, seed int64, now func() time.Time) *Zone {
	if now == nil {
		now = time.Now
	}
	if inboxSize <= 0 {
		inboxSize = 128
	}
	return &Zone{
		ID:       id,
		entities: make(map[string]*Entity),
		events:   NewEventRing(eventLogSize),
		inbox:    make(chan func(*Zone), inboxSize),
		Rng:      rand.New(rand.NewSource(seed)),
		now:      now,
	}
}

// Enqueue submits a mutation for the next tick. The tick either sees the
// mutation applied before orders run, or not at all this tick; never a torn
// write.
func (z *Zone) Enqueue(fn func(*Zone)) error {
	select {
	case z.inbox <- fn:
		return nil
	default:
		return ErrInboxFull
	}
}

// Step runs one tick: drain the inbox, run the tick body, flush events,
// advance the tick counter.
func (z *Zone) Step(body func(*Zone)) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.drainInbox()
	if body != nil {
		body(z)
	}
	z.flushPending()
	z.tick++
}

// Mutate runs fn synchronously under the zone lock, serialized against the
// tick. Used for transitions and gate opening, which reply to the caller
// in-line.
func (z *Zone) Mutate(fn func(*Zone)) {
	z.mu.Lock()
	defer z.mu.Unlock()
	fn(z)
	z.flushPending()
}

func (z *Zone) drainInbox() {
	for {
		select {
		case fn := <-z.inbox:
			fn(z)
		default:
			return
		}
	}
}

func (z *Zone) flushPending() {
	for _, ev := range z.pending {
		z.events.Append(ev)
	}
	z.pending = z.pending[:0]
}

// --- Under-lock helpers (call only from Step/Mutate/Enqueue bodies) ---

// Tick returns the current tick counter.
func (z *Zone) Tick() int64 { return z.tick }

// Now returns the zone's wall clock (injectable for tests).
func (z *Zone) Now() time.Time { return z.now() }

// Get returns an entity by id, or nil.
func (z *Zone) Get(id string) *Entity { return z.entities[id] }

// Add inserts an entity.
func (z *Zone) Add(e *Entity) { z.entities[e.ID] = e }

// Remove deletes an entity and returns it, or nil.
func (z *Zone) Remove(id string) *Entity {
	e := z.entities[id]
	delete(z.entities, id)
	return e
}

// Each iterates all entities. Mutating the map during iteration is not
// allowed; collect ids first when removing.
func (z *Zone) Each(fn func(*Entity)) {
	for _, e := range z.entities {
		fn(e)
	}
}

// Count returns the number of entities matching the predicate.
func (z *Zone) Count(pred func(*Entity) bool) int {
	n := 0
	for _, e := range z.entities {
		if pred(e) {
			n++
		}
	}
	return n
}

// Emit queues an event for the end-of-mutation flush.
func (z *Zone) Emit(ev Event) {
	ev.Tick = z.tick
	if ev.Timestamp.IsZero() {
		ev.Timestamp = z.now()
	}
	z.pending = append(z.pending, ev)
}

// AddRespawn schedules a mob respawn.
func (z *Zone) AddRespawn(entry RespawnEntry) {
	z.respawns = append(z.respawns, entry)
}

// TakeDueRespawns removes and returns all respawn entries due at t.
func (z *Zone) TakeDueRespawns(t time.Time) []RespawnEntry {
	var due []RespawnEntry
	kept := z.respawns[:0]
	for _, r := range z.respawns {
		if !r.Due.After(t) {
			due = append(due, r)
		} else {
			kept = append(kept, r)
		}
	}
	z.respawns = kept
	return due
}

// --- Read-side API (safe from any goroutine) ---

// Snapshot is a consistent read-only view of a zone between ticks.
type Snapshot struct {
	ZoneID     string             `json:"zoneId"`
	Tick       int64              `json:"tick"`
	IsInstance bool               `json:"isInstance,omitempty"`
	Entities   map[string]*Entity `json:"entities"`
}

// Snapshot deep-copies the zone's entities. No partial tick is ever
// observable.
func (z *Zone) Snapshot() Snapshot {
	z.mu.RLock()
	defer z.mu.RUnlock()
	snap := Snapshot{
		ZoneID:     z.ID,
		Tick:       z.tick,
		IsInstance: z.IsInstance,
		Entities:   make(map[string]*Entity, len(z.entities)),
	}
	for id, e := range z.entities {
		snap.Entities[id] = e.Clone()
	}
	return snap
}

// Events returns up to limit events newer than since, oldest first.
func (z *Zone) Events(since time.Time, limit int) []Event {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.events.Query(since, limit)
}

// CurrentTick returns the tick counter under the read lock.
func (z *Zone) CurrentTick() int64 {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.tick
}

// lockOrdered acquires both zone locks in canonical zone-id order so
// cross-zone transitions cannot deadlock.
func lockOrdered(a, b *Zone) func() {
	if a == b {
		a.mu.Lock()
		return func() { a.flushPending(); a.mu.Unlock() }
	}
	first, second := a, b
	if second.ID < first.ID {
		first, second = second, first
	}
	first.mu.Lock()
	second.mu.Lock()
	return func() {
		a.flushPending()
		b.flushPending()
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// Clone returns a deep copy of the entity for snapshots.
func (e *Entity) Clone() *Entity {
	cp := *e
	if e.Combat != nil {
		c := *e.Combat
		if len(e.Combat.Effects) > 0 {
			c.Effects = make([]*Effect, len(e.Combat.Effects))
			for i, ef := range e.Combat.Effects {
				dup := *ef
				c.Effects[i] = &dup
			}
		}
		cp.Combat = &c
	}
	if e.Player != nil {
		p := *e.Player
		p.Equipment = make(map[Slot]*EquippedItem, len(e.Player.Equipment))
		for s, it := range e.Player.Equipment {
			dup := *it
			p.Equipment[s] = &dup
		}
		if len(e.Player.Stowed) > 0 {
			p.Stowed = make(map[int64]*EquippedItem, len(e.Player.Stowed))
			for id, it := range e.Player.Stowed {
				dup := *it
				p.Stowed[id] = &dup
			}
		}
		if len(e.Player.Displaced) > 0 {
			p.Displaced = make(map[Slot]int64, len(e.Player.Displaced))
			for s, id := range e.Player.Displaced {
				p.Displaced[s] = id
			}
		}
		if len(e.Player.Known) > 0 {
			p.Known = make(map[string]bool, len(e.Player.Known))
			for id, v := range e.Player.Known {
				p.Known[id] = v
			}
		}
		if len(e.Player.Cooldowns) > 0 {
			p.Cooldowns = make(map[string]int64, len(e.Player.Cooldowns))
			for id, t := range e.Player.Cooldowns {
				p.Cooldowns[id] = t
			}
		}
		if len(e.Player.Quests) > 0 {
			p.Quests = make([]*QuestProgress, len(e.Player.Quests))
			for i, q := range e.Player.Quests {
				dup := *q
				p.Quests[i] = &dup
			}
		}
		cp.Player = &p
	}
	if e.NPC != nil {
		n := *e.NPC
		cp.NPC = &n
	}
	if e.Node != nil {
		n := *e.Node
		cp.Node = &n
	}
	if e.Corpse != nil {
		c := *e.Corpse
		cp.Corpse = &c
	}
	if e.Gate != nil {
		g := *e.Gate
		cp.Gate = &g
	}
	if e.Portal != nil {
		p := *e.Portal
		cp.Portal = &p
	}
	if e.Station != nil {
		s := *e.Station
		cp.Station = &s
	}
	if e.Order != nil {
		o := *e.Order
		cp.Order = &o
	}
	return &cp
}
