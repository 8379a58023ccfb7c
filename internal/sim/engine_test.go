package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/runevale/server/internal/config"
	"github.com/runevale/server/internal/data"
	"github.com/runevale/server/internal/ledger"
	"github.com/runevale/server/internal/scripting"
	"github.com/runevale/server/internal/world"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testCatalogs() (*data.ItemTable, *data.MobTable, *data.ZoneTable, *data.TechniqueTable, *data.ClassTable) {
	items := data.NewItemTable([]data.ItemTemplate{
		{TokenID: 101, Name: "Sword", Kind: "weapon", Slot: "weapon", Damage: 6, MaxDurability: 80, CopperPrice: 120},
		{TokenID: 201, Name: "Jerkin", Kind: "armor", Slot: "chest", Stats: data.StatBlock{Def: 3}, MaxDurability: 100, CopperPrice: 240},
		{TokenID: 301, Name: "Pickaxe", Kind: "tool", Slot: "weapon", ToolType: "pickaxe", ToolTier: 1, MaxDurability: 60, CopperPrice: 90},
		{TokenID: 331, Name: "Knife", Kind: "tool", Slot: "weapon", ToolType: "skinning_knife", ToolTier: 1, MaxDurability: 80, CopperPrice: 130},
		{TokenID: 401, Name: "Tonic", Kind: "consumable", CopperPrice: 35, Consume: &data.ConsumeEffect{Heal: 40}},
		{TokenID: 403, Name: "Scholar's Tonic", Kind: "consumable", CopperPrice: 200, Consume: &data.ConsumeEffect{XPMult: 2.0, DurationTicks: 100}},
		{TokenID: 501, Name: "Ore", Kind: "material", CopperPrice: 8},
		{TokenID: 502, Name: "Rare Ore", Kind: "material", CopperPrice: 60},
		{TokenID: 531, Name: "Pelt", Kind: "material", CopperPrice: 14},
	})
	mobs := data.NewMobTable([]data.MobTemplate{
		{
			MobID: 1, Name: "Wolf", Level: 2, MaxHP: 40,
			Stats: data.StatBlock{Str: 5, Agi: 4, Def: 2}, XPReward: 60,
			Loot: data.LootTable{
				CopperMin: 10, CopperMax: 10,
				SkinningDrops: []data.DropRoll{{TokenID: 531, MinQty: 1, MaxQty: 1, Chance: 1.0}},
			},
		},
		{
			MobID: 2, Name: "Ogre", Level: 10, MaxHP: 500,
			Stats: data.StatBlock{Str: 60, Agi: 10, Def: 20}, XPReward: 400,
			Loot: data.LootTable{CopperMin: 50, CopperMax: 50},
		},
	})
	zones := data.NewZoneTable([]data.ZoneDef{
		{
			ZoneID: "vale", Name: "Vale", Width: 1000, Height: 1000,
			GraveyardX: 50, GraveyardY: 50,
			Npcs: []data.NpcDef{
				{
					Name: "Maren", Role: "merchant", X: 400, Y: 400,
					ShopTokens: []int64{101, 201, 401},
				},
				{
					Name: "Aldric", Role: "trainer", X: 420, Y: 400,
					Techniques: []string{"strike", "mend"},
				},
				{
					Name: "Willem", Role: "quest-giver", X: 440, Y: 400,
					Quests: []data.QuestEntry{{QuestID: "wolf-cull", Name: "Cull", TargetMobID: 1, Goal: 2, RewardCopper: 150}},
				},
			},
		},
	})
	techniques := data.NewTechniqueTable([]data.Technique{
		{ID: "strike", Name: "Strike", MinLevel: 1, CooldownTicks: 4, Kind: "damage", Power: 20, LearnCost: 80, NeedsTarget: true},
		{ID: "mend", Name: "Mend", MinLevel: 1, EssenceCost: 10, CooldownTicks: 4, Kind: "heal", Power: 20, LearnCost: 120},
		{ID: "stoneskin", Name: "Stone Skin", MinLevel: 1, CooldownTicks: 4, Kind: "buff", DurationTicks: 3, Mods: data.StatBlock{Def: 8}},
		{ID: "ward", Name: "Ward", MinLevel: 1, EssenceCost: 5, CooldownTicks: 4, Kind: "shield", DurationTicks: 10, ShieldHP: 60},
	})
	classes := data.NewClassTable(
		[]data.ClassDef{
			{ClassID: "warden", Name: "Warden", Base: data.StatBlock{Str: 8, Agi: 4, Def: 3, HP: 3}, Growth: data.StatBlock{Str: 2, HP: 1}},
			{ClassID: "arcanist", Name: "Arcanist", Base: data.StatBlock{Str: 3, Int: 9, HP: 2}, Growth: data.StatBlock{Int: 3},
				UsesEssence: true, BaseEssence: 50, EssenceGrowth: 8},
		},
		[]data.RaceDef{{RaceID: "human", Name: "Human", Bonus: data.StatBlock{Str: 1}}},
	)
	return items, mobs, zones, techniques, classes
}

type testRig struct {
	e      *Engine
	w      *world.World
	assets *ledger.MemLedger
	ser    *ledger.Serializer
	clock  *testClock
	cfg    *config.Config
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gameplay.StartZone = "vale"
	cfg.Gameplay.StartX, cfg.Gameplay.StartY = 100, 100
	cfg.Ledger.BackoffBase = time.Millisecond

	log := zap.NewNop()
	items, mobs, zones, techniques, classes := testCatalogs()
	script, err := scripting.NewEngine(log)
	require.NoError(t, err)
	t.Cleanup(script.Close)

	clock := newTestClock()
	assets := ledger.NewMemLedger()
	ser := ledger.NewSerializer(cfg.Ledger, log)
	ctx, cancel := context.WithCancel(context.Background())
	go ser.Run(ctx)

	w := world.New(cfg, log, zones, mobs, items, clock.Now)
	e := NewEngine(cfg, log, w, script, techniques, classes, ser, assets, ledger.NewGoldLedger(), nil)
	// Tests drive ticks by hand.
	w.OnZoneCreated = nil

	t.Cleanup(func() {
		ser.Close()
		ser.Flush()
		cancel()
	})
	return &testRig{e: e, w: w, assets: assets, ser: ser, clock: clock, cfg: cfg}
}

// tick runs one full zone tick.
func (r *testRig) tick(z *world.Zone) { z.Step(r.e.tickBody) }

// settle waits for queued ledger ops and delivers their zone callbacks.
func (r *testRig) settle(z *world.Zone) {
	r.ser.Flush()
	z.Step(nil)
}

func (r *testRig) spawn(t *testing.T, wallet, name string) (*world.Entity, *world.Zone) {
	t.Helper()
	ent, zoneID, err := r.e.SpawnPlayer(context.Background(), wallet, name, "warden", "human")
	require.NoError(t, err)
	return ent, r.w.Get(zoneID)
}

func (r *testRig) equip(z *world.Zone, playerID string, tokenID int64) {
	items := r.w.Items()
	z.Mutate(func(zz *world.Zone) {
		p := zz.Get(playerID)
		tmpl := items.Get(tokenID)
		p.Player.Equipment[world.Slot(tmpl.Slot)] = &world.EquippedItem{
			TokenID:       tokenID,
			Durability:    tmpl.MaxDurability,
			MaxDurability: tmpl.MaxDurability,
		}
		world.RecomputeDerived(p, items)
	})
}

func (r *testRig) addMob(z *world.Zone, mobID int64, x, y float64) string {
	m := r.w.NewMobEntity(mobID, x, y)
	z.Mutate(func(zz *world.Zone) { zz.Add(m) })
	return m.ID
}

func findKind(z *world.Zone, k world.Kind) *world.Entity {
	snap := z.Snapshot()
	for _, ent := range snap.Entities {
		if ent.Kind == k {
			return ent
		}
	}
	return nil
}

func TestKillYieldsCorpseLootAndXP(t *testing.T) {
	r := newTestRig(t)
	p, z := r.spawn(t, "0xabc", "Hera")
	r.equip(z, p.ID, 101)
	wolfID := r.addMob(z, 1, 110, 100)

	_, err := r.e.Dispatch(Command{ZoneID: z.ID, ActorID: p.ID, Wallet: "0xabc", Action: "attack", TargetID: wolfID})
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		r.tick(z)
		if z.Snapshot().Entities[wolfID] == nil {
			break
		}
	}
	snap := z.Snapshot()
	require.Nil(t, snap.Entities[wolfID], "wolf should be dead")

	corpse := findKind(z, world.KindCorpse)
	require.NotNil(t, corpse)
	assert.Equal(t, p.ID, corpse.Corpse.TaggedBy)
	assert.Equal(t, "Wolf", corpse.Corpse.MobName)

	// Copper mints through the serializer; the loot event lands after.
	r.settle(z)
	bal, err := r.assets.GoldBalance(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.EqualValues(t, 10, bal)

	var sawKill, sawLoot bool
	for _, ev := range z.Events(time.Time{}, 0) {
		switch ev.Type {
		case world.EventKill:
			sawKill = true
		case world.EventLoot:
			sawLoot = true
		}
	}
	assert.True(t, sawKill)
	assert.True(t, sawLoot)

	hero := z.Snapshot().Entities[p.ID]
	assert.EqualValues(t, 60, hero.Combat.XP)
	assert.Equal(t, 1, hero.Combat.Kills)
}

func TestMobRespawnsAtOrigin(t *testing.T) {
	r := newTestRig(t)
	p, z := r.spawn(t, "0xabc", "Hera")
	r.equip(z, p.ID, 101)
	wolfID := r.addMob(z, 1, 110, 100)

	// Kill instantly.
	z.Mutate(func(zz *world.Zone) {
		wolf := zz.Get(wolfID)
		wolf.HP = 0
		wolf.Combat.TaggedBy = p.ID
	})
	r.tick(z)
	require.Nil(t, z.Snapshot().Entities[wolfID])

	// Not yet due.
	r.tick(z)
	assert.Nil(t, findKind(z, world.KindMob))

	r.clock.Advance(r.cfg.Gameplay.MobRespawnDelay + time.Second)
	r.tick(z)
	reborn := findKind(z, world.KindMob)
	require.NotNil(t, reborn)
	assert.Equal(t, 110.0, reborn.X)
	assert.Equal(t, 40, reborn.HP)
}

func TestPlayerDeathPenalty(t *testing.T) {
	r := newTestRig(t)
	p, z := r.spawn(t, "0xabc", "Hera")
	r.equip(z, p.ID, 101)
	r.equip(z, p.ID, 201)
	ogreID := r.addMob(z, 2, 110, 100)

	z.Mutate(func(zz *world.Zone) {
		ogre := zz.Get(ogreID)
		ogre.Combat.TaggedBy = p.ID
	})

	for i := 0; i < 50; i++ {
		r.tick(z)
		snap := z.Snapshot()
		hero := snap.Entities[p.ID]
		if hero.X == 50 && hero.Y == 50 {
			break
		}
	}

	hero := z.Snapshot().Entities[p.ID]
	require.NotNil(t, hero, "players are never deleted")
	assert.Equal(t, 50.0, hero.X, "respawned at the graveyard")
	assert.Equal(t, int(float64(hero.MaxHP)*r.cfg.Gameplay.DeathHPFraction), hero.HP)
	for _, it := range hero.Player.Equipment {
		assert.Less(t, it.Durability, it.MaxDurability, "death wears equipment")
	}

	var sawDeath bool
	for _, ev := range z.Events(time.Time{}, 0) {
		if ev.Type == world.EventDeath {
			sawDeath = true
		}
	}
	assert.True(t, sawDeath)
}

func TestLevelUpRefillsAndBanksAtCap(t *testing.T) {
	r := newTestRig(t)
	r.cfg.Gameplay.MaxLevel = 3
	p, z := r.spawn(t, "0xabc", "Hera")

	z.Mutate(func(zz *world.Zone) {
		hero := zz.Get(p.ID)
		hero.HP = 1
		r.e.addXP(zz, hero, 150) // past level 2 (100)
		assert.Equal(t, 2, hero.Combat.Level)
		assert.Equal(t, hero.MaxHP, hero.HP, "level up refills vitals")

		// Blow past the cap: level stops at 3, xp keeps accumulating.
		r.e.addXP(zz, hero, 100000)
		assert.Equal(t, 3, hero.Combat.Level)
		assert.EqualValues(t, 150+100000, hero.Combat.XP)
	})

	// Meta update flows to the ledger.
	r.ser.Flush()
	meta, ok := r.assets.Meta("0xabc", p.ID)
	require.True(t, ok)
	assert.Equal(t, 3, meta.Level)
}

func TestFailedMintEmitsNoLootEvent(t *testing.T) {
	r := newTestRig(t)
	p, z := r.spawn(t, "0xabc", "Hera")
	r.equip(z, p.ID, 101)
	wolfID := r.addMob(z, 1, 110, 100)

	r.assets.FailHook = func(op string) error {
		if op == "mint_gold" {
			return &ledger.Error{Code: ledger.CodeRejected, Msg: "mint disabled"}
		}
		return nil
	}

	z.Mutate(func(zz *world.Zone) {
		wolf := zz.Get(wolfID)
		wolf.HP = 0
		wolf.Combat.TaggedBy = p.ID
	})
	r.tick(z)
	r.settle(z)

	for _, ev := range z.Events(time.Time{}, 0) {
		assert.NotEqual(t, world.EventLoot, ev.Type, "no loot event for a failed mint")
	}
	bal, _ := r.assets.GoldBalance(context.Background(), "0xabc")
	assert.Zero(t, bal)
}

func TestEffectExpiryAndHot(t *testing.T) {
	r := newTestRig(t)
	p, z := r.spawn(t, "0xabc", "Hera")

	z.Mutate(func(zz *world.Zone) {
		hero := zz.Get(p.ID)
		hero.HP = 10
		hero.Combat.Effects = []*world.Effect{
			{Name: "stoneskin", Kind: world.EffectBuff, Mods: world.Stats{Def: 8}, RemainingTicks: 2},
			{Name: "regrowth", Kind: world.EffectHoT, HotHealPerTick: 5, RemainingTicks: 3},
		}
		world.RecomputeDerived(hero, r.w.Items())
		assert.Equal(t, 11, hero.Combat.Effective.Def) // 3 base + 8 buff
	})

	r.tick(z) // hot +5, both decrement
	hero := z.Snapshot().Entities[p.ID]
	assert.Equal(t, 15, hero.HP)
	assert.Len(t, hero.Combat.Effects, 2)

	r.tick(z) // stoneskin expires, hot +5
	hero = z.Snapshot().Entities[p.ID]
	assert.Equal(t, 20, hero.HP)
	require.Len(t, hero.Combat.Effects, 1)
	assert.Equal(t, "regrowth", hero.Combat.Effects[0].Name)
	assert.Equal(t, 3, hero.Combat.Effective.Def, "buff mods removed on expiry")
}

func TestCastDamageRespectsCooldownAndShield(t *testing.T) {
	r := newTestRig(t)
	p, z := r.spawn(t, "0xabc", "Hera")
	wolfID := r.addMob(z, 1, 110, 100)

	z.Mutate(func(zz *world.Zone) {
		hero := zz.Get(p.ID)
		hero.Player.Known["strike"] = true
		// Give the wolf a shield bigger than one strike.
		wolf := zz.Get(wolfID)
		wolf.Combat.Effects = []*world.Effect{{Name: "ward", Kind: world.EffectShield, ShieldHP: 200, RemainingTicks: 50}}
	})

	_, err := r.e.Dispatch(Command{ZoneID: z.ID, ActorID: p.ID, Wallet: "0xabc", Action: "cast", Technique: "strike", TargetID: wolfID})
	require.NoError(t, err)
	r.tick(z)

	wolf := z.Snapshot().Entities[wolfID]
	assert.Equal(t, 40, wolf.HP, "shield absorbed the hit")
	assert.Less(t, wolf.Combat.Effects[0].ShieldHP, 200)

	hero := z.Snapshot().Entities[p.ID]
	ready := hero.Player.Cooldowns["strike"]
	assert.Greater(t, ready, int64(0), "cooldown set")
}

func TestMoveOrderArrivesAndClears(t *testing.T) {
	r := newTestRig(t)
	p, z := r.spawn(t, "0xabc", "Hera")

	_, err := r.e.Dispatch(Command{ZoneID: z.ID, ActorID: p.ID, Wallet: "0xabc", Action: "move", X: 200, Y: 100})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		r.tick(z)
	}
	hero := z.Snapshot().Entities[p.ID]
	assert.InDelta(t, 200, hero.X, r.cfg.Gameplay.ArrivalThreshold)
	assert.Nil(t, hero.Order, "move order clears on arrival")

	// Moving to your own position clears on the next tick.
	_, err = r.e.Dispatch(Command{ZoneID: z.ID, ActorID: p.ID, Wallet: "0xabc", Action: "move", X: hero.X, Y: hero.Y})
	require.NoError(t, err)
	r.tick(z)
	assert.Nil(t, z.Snapshot().Entities[p.ID].Order)
}

type flakyProgressStore struct {
	mu    sync.Mutex
	fail  bool
	saved []ProgressRecord
}

func (f *flakyProgressStore) Save(_ context.Context, rec ProgressRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store offline")
	}
	f.saved = append(f.saved, rec)
	return nil
}

func (f *flakyProgressStore) Load(context.Context, string, string) (*ProgressRecord, error) {
	return nil, nil
}

func TestSaveDirtyPlayersClearsFlagWithTheRead(t *testing.T) {
	r := newTestRig(t)
	store := &flakyProgressStore{}
	r.e.progress = store
	p, z := r.spawn(t, "0xabc", "Hera")

	z.Mutate(func(zz *world.Zone) {
		live := zz.Get(p.ID)
		live.Combat.XP = 42
		live.Player.Dirty = true
	})

	r.e.saveDirtyPlayers(context.Background())
	require.Len(t, store.saved, 1)
	assert.EqualValues(t, 42, store.saved[0].XP)
	// The flag clears with the read itself; progress written after this
	// point marks the player dirty again rather than being unmarked later.
	assert.False(t, z.Snapshot().Entities[p.ID].Player.Dirty)

	// A failed save re-marks the player so the next pass retries.
	z.Mutate(func(zz *world.Zone) { zz.Get(p.ID).Player.Dirty = true })
	store.fail = true
	r.e.saveDirtyPlayers(context.Background())
	r.tick(z)
	assert.True(t, z.Snapshot().Entities[p.ID].Player.Dirty)
}
