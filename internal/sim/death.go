package sim

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/runevale/server/internal/ledger"
	"github.com/runevale/server/internal/world"
)

// resolveDeaths handles every combatant at 0 hp within the same tick:
// players respawn at the graveyard with a durability penalty; mobs become
// corpses, pay out loot and xp, and schedule their respawn.
func (e *Engine) resolveDeaths(z *world.Zone) {
	var deadMobs, deadPlayers []string
	z.Each(func(ent *world.Entity) {
		if ent.Combat == nil || ent.HP > 0 {
			return
		}
		switch ent.Kind {
		case world.KindPlayer:
			deadPlayers = append(deadPlayers, ent.ID)
		case world.KindMob, world.KindBoss:
			deadMobs = append(deadMobs, ent.ID)
		}
	})
	for _, id := range deadPlayers {
		e.resolvePlayerDeath(z, z.Get(id))
	}
	for _, id := range deadMobs {
		e.resolveMobDeath(z, z.Get(id))
	}
}

// resolvePlayerDeath applies the death penalty: relocation to the zone
// graveyard, partial hp restore, durability hit to all equipped items. The
// entity is never deleted.
func (e *Engine) resolvePlayerDeath(z *world.Zone, ent *world.Entity) {
	if ent == nil || ent.Player == nil {
		return
	}
	ent.Order = nil

	for _, it := range ent.Player.Equipment {
		if it == nil {
			continue
		}
		loss := int(float64(it.MaxDurability) * e.cfg.Gameplay.DeathDurability)
		if loss < 1 {
			loss = 1
		}
		it.Durability -= loss
		if it.Durability <= 0 {
			it.Durability = 0
			it.Broken = true
		}
	}
	world.RecomputeDerived(ent, e.w.Items())

	if def := e.w.Defs().Get(z.ID); def != nil {
		ent.X, ent.Y = def.GraveyardX, def.GraveyardY
	}
	ent.HP = int(float64(ent.MaxHP) * e.cfg.Gameplay.DeathHPFraction)
	if ent.HP < 1 {
		ent.HP = 1
	}
	ent.Player.Dirty = true

	z.Emit(world.Event{
		Type:    world.EventDeath,
		Message: fmt.Sprintf("%s died and was dragged to the graveyard", ent.Name),
		ActorID: ent.ID,
	})
	e.log.Info("player died", zap.String("zone", z.ID), zap.String("player", ent.ID))
}

// resolveMobDeath replaces the mob with a corpse and pays out to the tagger.
func (e *Engine) resolveMobDeath(z *world.Zone, ent *world.Entity) {
	if ent == nil || ent.Combat == nil {
		return
	}
	z.Remove(ent.ID)

	corpse := &world.Entity{
		ID:   e.w.NextID("corpse"),
		Kind: world.KindCorpse,
		Name: ent.Name + " corpse",
		X:    ent.X,
		Y:    ent.Y,
		Corpse: &world.CorpseData{
			MobName:        ent.Name,
			MobID:          ent.Combat.MobID,
			TaggedBy:       ent.Combat.TaggedBy,
			SkinnableUntil: z.Now().Add(e.cfg.Gameplay.CorpseSkinWindow),
		},
	}
	z.Add(corpse)

	if !z.IsInstance && ent.Combat.MobID != 0 {
		z.AddRespawn(world.RespawnEntry{
			MobID: ent.Combat.MobID,
			X:     ent.Combat.SpawnX,
			Y:     ent.Combat.SpawnY,
			Due:   z.Now().Add(e.cfg.Gameplay.MobRespawnDelay),
		})
	}

	tagger := z.Get(ent.Combat.TaggedBy)
	z.Emit(world.Event{
		Type:     world.EventKill,
		Message:  fmt.Sprintf("%s was slain", ent.Name),
		ActorID:  ent.Combat.TaggedBy,
		TargetID: ent.ID,
		Data:     map[string]any{"mobId": ent.Combat.MobID},
	})
	if tagger == nil || tagger.Player == nil {
		return
	}
	tagger.Combat.Kills++

	e.rollLoot(z, ent, tagger)
	e.awardKillXP(z, ent, tagger)
	e.progressQuests(z, ent, tagger)
}

// awardKillXP grants the mob's xp reward to the tagger and any party
// members present in the zone, each scaled by their own active tonics.
func (e *Engine) awardKillXP(z *world.Zone, mob, tagger *world.Entity) {
	for _, memberID := range e.w.Parties.MembersOf(tagger.ID) {
		member := z.Get(memberID)
		if member == nil || member.Player == nil || !member.Alive() {
			continue
		}
		gain := int64(float64(mob.Combat.XPReward) * e.cfg.Rates.ExpRate * member.Combat.XPMultiplier())
		e.addXP(z, member, gain)
	}
}

// addXP banks xp and processes level-ups. Levels cap at MaxLevel; beyond
// the cap xp keeps accumulating without level changes.
func (e *Engine) addXP(z *world.Zone, ent *world.Entity, gain int64) {
	c := ent.Combat
	c.XP += gain
	leveled := false
	for c.Level < e.cfg.Gameplay.MaxLevel && c.XP >= e.script.XPForLevel(c.Level+1) {
		c.Level++
		leveled = true
	}
	if leveled {
		cls := e.classes.Class(c.ClassID)
		race := e.classes.Race(c.RaceID)
		if cls != nil {
			c.Base = world.BaseStatsFor(cls, race, c.Level)
			if cls.UsesEssence {
				ent.MaxEssence = cls.BaseEssence + cls.EssenceGrowth*(c.Level-1)
			}
		}
		world.RecomputeDerived(ent, e.w.Items())
		ent.HP = ent.MaxHP
		ent.Essence = ent.MaxEssence
		z.Emit(world.Event{
			Type:    world.EventLevelUp,
			Message: fmt.Sprintf("%s reached level %d", ent.Name, c.Level),
			ActorID: ent.ID,
			Data:    map[string]any{"level": c.Level},
		})
		e.submitMetaUpdate(ent)
	}
	if ent.Player != nil {
		ent.Player.Dirty = true
	}
}

// submitMetaUpdate pushes the character token's level/xp to the asset
// ledger, asynchronously through the serializer.
func (e *Engine) submitMetaUpdate(ent *world.Entity) {
	wallet := ent.Player.Wallet
	meta := ledger.CharacterMeta{
		CharID: ent.ID,
		Name:   ent.Name,
		Level:  ent.Combat.Level,
		XP:     ent.Combat.XP,
	}
	err := e.ser.Submit("update_meta", func(ctx context.Context) error {
		return e.assets.UpdateCharacterMeta(ctx, wallet, meta)
	}, nil)
	if err != nil {
		e.log.Warn("meta update not queued", zap.String("char", meta.CharID), zap.Error(err))
	}
}

// progressQuests advances kill quests for the tagger's party.
func (e *Engine) progressQuests(z *world.Zone, mob, tagger *world.Entity) {
	for _, memberID := range e.w.Parties.MembersOf(tagger.ID) {
		member := z.Get(memberID)
		if member == nil || member.Player == nil {
			continue
		}
		for _, q := range member.Player.Quests {
			if q.Done {
				continue
			}
			quest := e.findQuestDef(q.QuestID)
			if quest == nil || quest.TargetMobID != mob.Combat.MobID {
				continue
			}
			q.Progress++
			if q.Progress >= q.Goal {
				q.Done = true
				e.mintGold(z, member.Player.Wallet, member.ID, quest.RewardCopper,
					fmt.Sprintf("quest %s complete", quest.Name))
				z.Emit(world.Event{
					Type:    world.EventSystem,
					Message: fmt.Sprintf("%s completed %s", member.Name, quest.Name),
					ActorID: member.ID,
				})
			}
			member.Player.Dirty = true
		}
	}
}

// findQuestDef scans the zone catalogs for a quest definition. Quests are
// declared on quest-giver NPCs in zone yaml.
func (e *Engine) findQuestDef(questID string) *world.QuestDef {
	for _, zoneID := range e.w.Defs().IDs() {
		def := e.w.Defs().Get(zoneID)
		for _, npc := range def.Npcs {
			for _, q := range npc.Quests {
				if q.QuestID == questID {
					return &world.QuestDef{
						QuestID:      q.QuestID,
						Name:         q.Name,
						TargetMobID:  q.TargetMobID,
						Goal:         q.Goal,
						RewardCopper: q.RewardCopper,
					}
				}
			}
		}
	}
	return nil
}
