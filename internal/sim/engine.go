// Package sim drives the per-zone simulation: one goroutine per zone
// advancing it at the configured cadence, plus the order pipeline that
// turns external commands into tick-local state changes.
package sim

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/runevale/server/internal/config"
	"github.com/runevale/server/internal/data"
	"github.com/runevale/server/internal/ledger"
	"github.com/runevale/server/internal/scripting"
	"github.com/runevale/server/internal/world"
)

// ProgressRecord is one player's persisted progress.
type ProgressRecord struct {
	Wallet  string
	CharID  string
	Name    string
	ClassID string
	RaceID  string
	Level   int
	XP      int64
	ZoneID  string
	X, Y    float64
}

// ProgressStore abstracts the optional durable progress store. A nil store
// disables persistence; live state rebuilds from spawn tables.
type ProgressStore interface {
	Save(ctx context.Context, rec ProgressRecord) error
	Load(ctx context.Context, wallet, charID string) (*ProgressRecord, error)
}

// Engine owns zone scheduling and the tick body. All gameplay subsystems
// (combat, loot, gathering, deaths) hang off it.
type Engine struct {
	cfg        *config.Config
	log        *zap.Logger
	w          *world.World
	script     *scripting.Engine
	techniques *data.TechniqueTable
	classes    *data.ClassTable

	ser    *ledger.Serializer
	assets ledger.AssetLedger
	gold   *ledger.GoldLedger

	progress ProgressStore // may be nil

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewEngine(
	cfg *config.Config,
	log *zap.Logger,
	w *world.World,
	script *scripting.Engine,
	techniques *data.TechniqueTable,
	classes *data.ClassTable,
	ser *ledger.Serializer,
	assets ledger.AssetLedger,
	gold *ledger.GoldLedger,
	progress ProgressStore,
) *Engine {
	e := &Engine{
		cfg:        cfg,
		log:        log,
		w:          w,
		script:     script,
		techniques: techniques,
		classes:    classes,
		ser:        ser,
		assets:     assets,
		gold:       gold,
		progress:   progress,
		stop:       make(chan struct{}),
	}
	w.OnZoneCreated = e.StartZone
	return e
}

// World returns the attached world.
func (e *Engine) World() *world.World { return e.w }

// StartZone launches the zone's tick loop. The loop exits when the engine
// stops or the zone is removed from the world (instance cleanup).
func (e *Engine) StartZone(z *world.Zone) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.Gameplay.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if e.w.Get(z.ID) != z {
					return
				}
				z.Step(e.tickBody)
			case <-e.stop:
				// Let the zone finish cleanly: one final inbox drain so
				// accepted commands are not silently dropped.
				z.Step(nil)
				return
			}
		}
	}()
}

// StartPersistence launches the batch save loop when a progress store is
// configured. Only dirty players are written.
func (e *Engine) StartPersistence(ctx context.Context) {
	if e.progress == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.Database.SaveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.saveDirtyPlayers(ctx)
			case <-e.stop:
				e.saveDirtyPlayers(ctx)
				return
			}
		}
	}()
}

// Shutdown stops all zone loops after their current tick.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

// tickBody runs one zone tick. Called by Zone.Step with the zone lock held;
// the order of phases is the tick contract.
func (e *Engine) tickBody(z *world.Zone) {
	e.expireEffects(z)
	e.respawnNodes(z)
	e.expireCorpses(z)
	e.executeOrders(z)
	e.mobAI(z)
	e.resolveDeaths(z)
	e.respawnMobs(z)
}

// expireEffects decrements effect timers, applies HoT healing, and drops
// expired effects. HoTs run before movement/combat so end-of-tick heals are
// consistent for dying players.
func (e *Engine) expireEffects(z *world.Zone) {
	z.Each(func(ent *world.Entity) {
		c := ent.Combat
		if c == nil || len(c.Effects) == 0 {
			return
		}
		recompute := false
		kept := c.Effects[:0]
		for _, ef := range c.Effects {
			if ef.Kind == world.EffectHoT && ent.HP > 0 {
				ent.HP += ef.HotHealPerTick
				if ent.HP > ent.MaxHP {
					ent.HP = ent.MaxHP
				}
			}
			ef.RemainingTicks--
			if ef.RemainingTicks <= 0 || (ef.Kind == world.EffectShield && ef.ShieldHP <= 0) {
				if ef.Mods != (world.Stats{}) {
					recompute = true
				}
				continue
			}
			kept = append(kept, ef)
		}
		c.Effects = kept
		if recompute {
			world.RecomputeDerived(ent, e.w.Items())
		}
	})
}

// respawnNodes restores depleted resource nodes whose cooldown elapsed.
func (e *Engine) respawnNodes(z *world.Zone) {
	z.Each(func(ent *world.Entity) {
		n := ent.Node
		if n == nil || n.Charges > 0 {
			return
		}
		if z.Tick()-n.DepletedAtTick >= n.RespawnTicks {
			n.Charges = n.MaxCharges
			n.DepletedAtTick = 0
		}
	})
}

// expireCorpses removes corpses past their skinnable window.
func (e *Engine) expireCorpses(z *world.Zone) {
	now := z.Now()
	var gone []string
	z.Each(func(ent *world.Entity) {
		if ent.Corpse != nil && now.After(ent.Corpse.SkinnableUntil) {
			gone = append(gone, ent.ID)
		}
	})
	for _, id := range gone {
		z.Remove(id)
	}
}

// mobAI issues attack orders for tagged mobs whose tagger is alive and in
// aggro range. Untagged mobs stand still.
func (e *Engine) mobAI(z *world.Zone) {
	z.Each(func(ent *world.Entity) {
		if ent.Kind != world.KindMob && ent.Kind != world.KindBoss {
			return
		}
		if !ent.Alive() || ent.Combat.TaggedBy == "" || ent.Order != nil {
			return
		}
		tagger := z.Get(ent.Combat.TaggedBy)
		if tagger == nil || !tagger.Alive() {
			return
		}
		if ent.DistanceTo(tagger) <= e.cfg.Gameplay.AggroRange {
			ent.Order = &world.Order{Type: world.OrderAttack, TargetID: tagger.ID}
		}
	})
}

// respawnMobs re-creates mobs whose respawn delay elapsed. Instances never
// respawn (clear detection counts live mobs).
func (e *Engine) respawnMobs(z *world.Zone) {
	if z.IsInstance {
		return
	}
	for _, r := range z.TakeDueRespawns(z.Now()) {
		if m := e.w.NewMobEntity(r.MobID, r.X, r.Y); m != nil {
			z.Add(m)
		}
	}
}

func (e *Engine) saveDirtyPlayers(ctx context.Context) {
	for _, zoneID := range e.w.ZoneIDs() {
		z := e.w.Get(zoneID)
		if z == nil {
			continue
		}
		// Read and clear Dirty under one lock so a change landing after the
		// read re-marks the player instead of being silently unmarked.
		var recs []ProgressRecord
		z.Mutate(func(zz *world.Zone) {
			zz.Each(func(ent *world.Entity) {
				if ent.Kind != world.KindPlayer || ent.Player == nil || !ent.Player.Dirty {
					return
				}
				ent.Player.Dirty = false
				recs = append(recs, ProgressRecord{
					Wallet:  ent.Player.Wallet,
					CharID:  ent.ID,
					Name:    ent.Name,
					ClassID: ent.Combat.ClassID,
					RaceID:  ent.Combat.RaceID,
					Level:   ent.Combat.Level,
					XP:      ent.Combat.XP,
					ZoneID:  zoneID,
					X:       ent.X,
					Y:       ent.Y,
				})
			})
		})
		for _, rec := range recs {
			if err := e.progress.Save(ctx, rec); err != nil {
				e.log.Warn("progress save failed", zap.String("char", rec.CharID), zap.Error(err))
				id := rec.CharID
				_ = z.Enqueue(func(zz *world.Zone) {
					if live := zz.Get(id); live != nil && live.Player != nil {
						live.Player.Dirty = true
					}
				})
			}
		}
	}
}
