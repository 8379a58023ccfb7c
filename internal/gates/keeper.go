// Package gates runs the dungeon gate lifecycle: periodic surges that seed
// gates across the overworld, gate opening into instanced dungeons, and the
// cleanup of cleared or abandoned instances.
package gates

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runevale/server/internal/config"
	"github.com/runevale/server/internal/data"
	"github.com/runevale/server/internal/ledger"
	"github.com/runevale/server/internal/world"
)

var (
	ErrNotAGate        = errors.New("target is not a gate")
	ErrGateOpened      = errors.New("gate already opened")
	ErrGateExpired     = errors.New("gate has faded")
	ErrPartyTooLarge   = errors.New("party exceeds the gate limit")
	ErrMemberTooLow    = errors.New("a party member is below the dungeon's level")
	ErrMemberElsewhere = errors.New("a party member is not at the gate")
	ErrUnknownRank     = errors.New("no dungeon for that rank")
)

// instanceEntryX/Y is where parties land inside a fresh instance.
const (
	instanceEntryX = 120.0
	instanceEntryY = 120.0
)

// Keeper owns the gate lifecycle. One instance per shard; all state that is
// not zone-resident (surge clock, cleanup schedule) lives here.
type Keeper struct {
	cfg      config.GatesConfig
	gameplay config.GameplayConfig
	log      *zap.Logger
	w        *world.World
	dungeons *data.DungeonTable
	ser      *ledger.Serializer
	assets   ledger.AssetLedger
	now      func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	lastSurge time.Time
	cleanupAt map[string]time.Time // instance id → deletion time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewKeeper(cfg *config.Config, log *zap.Logger, w *world.World, dungeons *data.DungeonTable, ser *ledger.Serializer, assets ledger.AssetLedger, now func() time.Time, seed int64) *Keeper {
	if now == nil {
		now = time.Now
	}
	return &Keeper{
		cfg:       cfg.Gates,
		gameplay:  cfg.Gameplay,
		log:       log,
		w:         w,
		dungeons:  dungeons,
		ser:       ser,
		assets:    assets,
		now:       now,
		rng:       rand.New(rand.NewSource(seed)),
		cleanupAt: make(map[string]time.Time),
		stop:      make(chan struct{}),
	}
}

// Start launches the keeper loop.
func (k *Keeper) Start() {
	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		ticker := time.NewTicker(k.cfg.KeeperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				k.RunOnce(k.now())
			case <-k.stop:
				return
			}
		}
	}()
}

// Stop halts the keeper loop.
func (k *Keeper) Stop() {
	k.stopOnce.Do(func() { close(k.stop) })
	k.wg.Wait()
}

// RunOnce performs one keeper pass at the given time. Calling it twice with
// the same clock is idempotent: the surge is throttled by the surge
// interval, fades and cleanups only act on state that is still present.
func (k *Keeper) RunOnce(now time.Time) {
	k.mu.Lock()
	surgeDue := now.Sub(k.lastSurge) >= k.cfg.SurgeInterval
	if surgeDue {
		k.lastSurge = now
	}
	k.mu.Unlock()

	if surgeDue {
		k.surge(now)
	}
	k.fadeGates(now)
	k.sweepInstances(now)
}

// surge seeds a fresh wave of gates across gate-eligible zones.
func (k *Keeper) surge(now time.Time) {
	eligible := k.w.Defs().GateEligible()
	if len(eligible) == 0 {
		return
	}
	k.mu.Lock()
	count := k.cfg.MinGates
	if k.cfg.MaxGates > k.cfg.MinGates {
		count += k.rng.Intn(k.cfg.MaxGates - k.cfg.MinGates + 1)
	}
	type placement struct {
		zoneID string
		x, y   float64
		rank   string
		danger bool
	}
	var placements []placement
	for i := 0; i < count; i++ {
		zoneID := eligible[k.rng.Intn(len(eligible))]
		def := k.w.Defs().Get(zoneID)
		rank := k.weightedRank(def.GateRankWeights)
		danger := k.rng.Float64() < k.cfg.DangerChance
		if danger {
			rank = nextRank(rank)
		}
		placements = append(placements, placement{
			zoneID: zoneID,
			x:      60 + k.rng.Float64()*(def.Width-120),
			y:      60 + k.rng.Float64()*(def.Height-120),
			rank:   rank,
			danger: danger,
		})
	}
	k.mu.Unlock()

	for _, p := range placements {
		z := k.w.GetOrCreate(p.zoneID)
		gate := &world.Entity{
			ID:   k.w.NextID("gate"),
			Kind: world.KindGate,
			Name: fmt.Sprintf("rank %s gate", p.rank),
			X:    p.x,
			Y:    p.y,
			Gate: &world.GateData{
				Rank:      p.rank,
				IsDanger:  p.danger,
				ExpiresAt: now.Add(k.cfg.GateLifetime),
			},
		}
		z.Mutate(func(zz *world.Zone) {
			zz.Add(gate)
			zz.Emit(world.Event{
				Type:    world.EventSystem,
				Message: fmt.Sprintf("a rank %s gate surged into being", p.rank),
				ActorID: gate.ID,
			})
		})
	}
	k.log.Info("gate surge", zap.Int("gates", len(placements)))
}

// weightedRank picks a rank from the zone's weight table. Called with k.mu
// held (rng access).
func (k *Keeper) weightedRank(weights map[string]int) string {
	total := 0
	for _, rank := range world.GateRanks {
		total += weights[rank]
	}
	if total <= 0 {
		return "E"
	}
	pick := k.rng.Intn(total)
	for _, rank := range world.GateRanks {
		pick -= weights[rank]
		if pick < 0 {
			return rank
		}
	}
	return "E"
}

// nextRank upgrades a rank one step, capped at S.
func nextRank(rank string) string {
	for i, r := range world.GateRanks {
		if r == rank && i+1 < len(world.GateRanks) {
			return world.GateRanks[i+1]
		}
	}
	return rank
}

// fadeGates removes unopened gates past their lifetime.
func (k *Keeper) fadeGates(now time.Time) {
	for _, zoneID := range k.w.ZoneIDs() {
		z := k.w.Get(zoneID)
		if z == nil || z.IsInstance {
			continue
		}
		z.Mutate(func(zz *world.Zone) {
			var faded []*world.Entity
			zz.Each(func(ent *world.Entity) {
				if ent.Gate != nil && !ent.Gate.Opened && now.After(ent.Gate.ExpiresAt) {
					faded = append(faded, ent)
				}
			})
			for _, g := range faded {
				zz.Remove(g.ID)
				zz.Emit(world.Event{
					Type:    world.EventSystem,
					Message: fmt.Sprintf("the %s faded away", g.Name),
					ActorID: g.ID,
				})
			}
		})
	}
}

// OpenGate turns a gate into a live instance and moves the opener's party
// inside. The gate is consumed whether the party is one player or six.
func (k *Keeper) OpenGate(ctx context.Context, zoneID, actorID, wallet, gateID string) (string, error) {
	z := k.w.Get(zoneID)
	if z == nil {
		return "", world.ErrZoneNotFound
	}
	snap := z.Snapshot()
	actor, ok := snap.Entities[actorID]
	if !ok {
		return "", world.ErrEntityNotFound
	}
	if actor.Player == nil || actor.Player.Wallet != wallet {
		return "", errors.New("entity does not belong to this wallet")
	}
	gate, ok := snap.Entities[gateID]
	if !ok || gate.Gate == nil {
		return "", ErrNotAGate
	}
	if gate.Gate.Opened {
		return "", ErrGateOpened
	}
	now := k.now()
	if now.After(gate.Gate.ExpiresAt) {
		return "", ErrGateExpired
	}
	if actor.DistanceTo(gate) > k.gameplay.InteractRange {
		return "", world.ErrTooFar
	}

	tmpl := k.dungeons.Get(gate.Gate.Rank)
	if tmpl == nil {
		return "", ErrUnknownRank
	}

	members := k.w.Parties.MembersOf(actorID)
	if len(members) > k.cfg.MaxPartySize {
		return "", ErrPartyTooLarge
	}
	for _, id := range members {
		m, ok := snap.Entities[id]
		if !ok || m.Player == nil {
			return "", ErrMemberElsewhere
		}
		if m.Combat.Level < tmpl.MinLevel {
			return "", ErrMemberTooLow
		}
	}

	// Consume the gate first so a concurrent open of the same gate loses.
	consumed := false
	z.Mutate(func(zz *world.Zone) {
		live := zz.Get(gateID)
		if live == nil || live.Gate == nil || live.Gate.Opened {
			return
		}
		live.Gate.Opened = true
		zz.Remove(gateID)
		consumed = true
	})
	if !consumed {
		return "", ErrGateOpened
	}

	partyID := ""
	if p := k.w.Parties.PartyOf(actorID); p != nil {
		partyID = p.ID
	}
	meta := &world.InstanceMeta{
		InstanceID:   "inst-" + uuid.NewString(),
		PartyID:      partyID,
		Members:      members,
		SourceZoneID: zoneID,
		GateRank:     gate.Gate.Rank,
		ExpiresAt:    now.Add(k.cfg.InstanceTimeout),
	}
	inst := k.w.CreateInstance(meta, tmpl)

	for i, id := range members {
		k.w.MoveEntity(z, inst, id, instanceEntryX+float64(i*20), instanceEntryY)
	}
	inst.Mutate(func(zz *world.Zone) {
		zz.Emit(world.Event{
			Type:    world.EventSystem,
			Message: fmt.Sprintf("the party entered %s", tmpl.Name),
			ActorID: actorID,
		})
	})
	z.Mutate(func(zz *world.Zone) {
		zz.Emit(world.Event{
			Type:    world.EventTransition,
			Message: fmt.Sprintf("a party entered the rank %s gate", meta.GateRank),
			ActorID: actorID,
		})
	})
	k.log.Info("gate opened",
		zap.String("instance", meta.InstanceID),
		zap.String("rank", meta.GateRank),
		zap.Int("party", len(members)))
	return meta.InstanceID, nil
}

// sweepInstances detects cleared dungeons, times out abandoned ones, and
// deletes instances whose cleanup delay elapsed.
func (k *Keeper) sweepInstances(now time.Time) {
	for _, zoneID := range k.w.ZoneIDs() {
		z := k.w.Get(zoneID)
		if z == nil || !z.IsInstance {
			continue
		}
		meta := z.Instance

		k.mu.Lock()
		due, scheduled := k.cleanupAt[meta.InstanceID]
		k.mu.Unlock()

		switch {
		case scheduled:
			if !now.Before(due) {
				k.dissolveInstance(z, "the dungeon collapsed behind you")
			}
		case now.After(meta.ExpiresAt):
			k.dissolveInstance(z, "the dungeon expelled the party")
		default:
			k.checkCleared(z, now)
		}
	}
}

// checkCleared marks an instance cleared when no mobs remain, pays the clear
// bonus, and schedules deletion.
func (k *Keeper) checkCleared(z *world.Zone, now time.Time) {
	meta := z.Instance
	cleared := false
	var wallets []string
	z.Mutate(func(zz *world.Zone) {
		if meta.Cleared {
			return
		}
		remaining := zz.Count(func(ent *world.Entity) bool {
			return (ent.Kind == world.KindMob || ent.Kind == world.KindBoss) && ent.Alive()
		})
		if remaining > 0 {
			return
		}
		meta.Cleared = true
		cleared = true
		zz.Each(func(ent *world.Entity) {
			if ent.Player != nil {
				wallets = append(wallets, ent.Player.Wallet)
			}
		})
		zz.Emit(world.Event{
			Type:    world.EventSystem,
			Message: "the dungeon has been cleared",
		})
	})
	if !cleared {
		return
	}

	tmpl := k.dungeons.Get(meta.GateRank)
	if tmpl != nil && tmpl.ClearBonusCopper > 0 {
		for _, wallet := range wallets {
			wallet := wallet
			amount := tmpl.ClearBonusCopper
			err := k.ser.Submit("clear_bonus", func(ctx context.Context) error {
				return k.assets.MintGold(ctx, wallet, amount)
			}, nil)
			if err != nil {
				k.log.Warn("clear bonus not queued", zap.String("wallet", wallet), zap.Error(err))
			}
		}
	}

	k.mu.Lock()
	k.cleanupAt[meta.InstanceID] = now.Add(k.cfg.CleanupDelay)
	k.mu.Unlock()
	k.log.Info("instance cleared", zap.String("instance", meta.InstanceID))
}

// dissolveInstance evicts any players back to the source zone and removes
// the instance from the world, which also ends its tick loop.
func (k *Keeper) dissolveInstance(z *world.Zone, reason string) {
	meta := z.Instance
	src := k.w.GetOrCreate(meta.SourceZoneID)

	exitX, exitY := 200.0, 200.0
	if def := k.w.Defs().Get(meta.SourceZoneID); def != nil {
		exitX, exitY = def.GraveyardX, def.GraveyardY
	}

	var players []string
	snap := z.Snapshot()
	for id, ent := range snap.Entities {
		if ent.Kind == world.KindPlayer {
			players = append(players, id)
		}
	}
	for i, id := range players {
		k.w.MoveEntity(z, src, id, exitX+float64(i*18), exitY)
	}
	if len(players) > 0 {
		src.Mutate(func(zz *world.Zone) {
			zz.Emit(world.Event{Type: world.EventSystem, Message: reason})
		})
	}

	k.w.RemoveZone(z.ID)
	k.mu.Lock()
	delete(k.cleanupAt, meta.InstanceID)
	k.mu.Unlock()
	k.log.Info("instance removed", zap.String("instance", meta.InstanceID))
}
