package sim

import (
	"fmt"

	"github.com/runevale/server/internal/data"
	"github.com/runevale/server/internal/scripting"
	"github.com/runevale/server/internal/world"
)

// armorWearChance is the per-slot probability of defender durability loss
// on a hit.
const armorWearChance = 0.25

// resolveExchange runs one combat exchange between an alive, in-range
// attacker and defender. Death itself resolves later in the tick.
func (e *Engine) resolveExchange(z *world.Zone, attacker, defender *world.Entity) {
	if attacker.Combat == nil || defender.Combat == nil {
		return
	}

	atk := world.BaseAttack(attacker.Combat)
	if attacker.Player != nil {
		atk += world.WeaponDamage(attacker.Player, e.w.Items())
	}
	dmg := e.script.CalcAttack(scripting.AttackContext{
		AttackerAtk:   atk,
		AttackerLevel: attacker.Combat.Level,
		DefenderDef:   defender.Combat.Effective.Def,
		DefenderLevel: defender.Combat.Level,
		Roll:          z.Rng.Float64(),
	})

	// Shields absorb first and are consumed at zero.
	absorbed := 0
	if shield := defender.Combat.ShieldEffect(); shield != nil {
		absorbed = dmg
		if absorbed > shield.ShieldHP {
			absorbed = shield.ShieldHP
		}
		shield.ShieldHP -= absorbed
		dmg -= absorbed
		if shield.ShieldHP <= 0 {
			e.removeEffect(defender, shield.Name)
		}
	}

	defender.HP -= dmg
	if defender.HP < 0 {
		defender.HP = 0
	}

	// First player damage tags the mob for the life of this instance.
	if (defender.Kind == world.KindMob || defender.Kind == world.KindBoss) &&
		defender.Combat.TaggedBy == "" && attacker.Kind == world.KindPlayer {
		defender.Combat.TaggedBy = attacker.ID
	}

	e.wearHeldItem(z, attacker)
	e.wearDefenderArmor(z, defender)

	z.Emit(world.Event{
		Type:     world.EventCombat,
		Message:  fmt.Sprintf("%s hits %s for %d", attacker.Name, defender.Name, dmg+absorbed),
		ActorID:  attacker.ID,
		TargetID: defender.ID,
		Data:     map[string]any{"damage": dmg, "absorbed": absorbed},
	})
}

// wearHeldItem removes one durability point from the weapon-slot item per
// use (a swing in combat, a harvest for tools).
func (e *Engine) wearHeldItem(z *world.Zone, holder *world.Entity) {
	if holder.Player == nil {
		return
	}
	wpn := holder.Player.Equipment[world.SlotWeapon]
	if wpn == nil || wpn.Broken {
		return
	}
	wpn.Durability--
	if wpn.Durability <= 0 {
		wpn.Durability = 0
		wpn.Broken = true
		world.RecomputeDerived(holder, e.w.Items())
		z.Emit(world.Event{
			Type:    world.EventSystem,
			Message: fmt.Sprintf("%s's %s broke", holder.Name, e.heldItemName(holder)),
			ActorID: holder.ID,
		})
	}
}

func (e *Engine) heldItemName(holder *world.Entity) string {
	wpn := holder.Player.Equipment[world.SlotWeapon]
	if wpn != nil {
		if tmpl := e.w.Items().Get(wpn.TokenID); tmpl != nil {
			return tmpl.Name
		}
	}
	return "weapon"
}

// wearDefenderArmor rolls durability loss on each armor slot.
func (e *Engine) wearDefenderArmor(z *world.Zone, defender *world.Entity) {
	if defender.Player == nil {
		return
	}
	broke := false
	for _, slot := range world.ArmorSlots {
		it := defender.Player.Equipment[slot]
		if it == nil || it.Broken {
			continue
		}
		if z.Rng.Float64() >= armorWearChance {
			continue
		}
		it.Durability--
		if it.Durability <= 0 {
			it.Durability = 0
			it.Broken = true
			broke = true
		}
	}
	if broke {
		world.RecomputeDerived(defender, e.w.Items())
		z.Emit(world.Event{
			Type:    world.EventSystem,
			Message: fmt.Sprintf("%s's armor broke", defender.Name),
			ActorID: defender.ID,
		})
	}
}

// applyTechniqueDamage lands a damage technique on the target.
func (e *Engine) applyTechniqueDamage(z *world.Zone, caster, target *world.Entity, amount int) {
	if target.Combat == nil {
		return
	}
	absorbed := 0
	if shield := target.Combat.ShieldEffect(); shield != nil {
		absorbed = amount
		if absorbed > shield.ShieldHP {
			absorbed = shield.ShieldHP
		}
		shield.ShieldHP -= absorbed
		amount -= absorbed
		if shield.ShieldHP <= 0 {
			e.removeEffect(target, shield.Name)
		}
	}
	target.HP -= amount
	if target.HP < 0 {
		target.HP = 0
	}
	if (target.Kind == world.KindMob || target.Kind == world.KindBoss) &&
		target.Combat.TaggedBy == "" && caster.Kind == world.KindPlayer {
		target.Combat.TaggedBy = caster.ID
	}
	z.Emit(world.Event{
		Type:     world.EventCombat,
		Message:  fmt.Sprintf("%s blasts %s for %d", caster.Name, target.Name, amount+absorbed),
		ActorID:  caster.ID,
		TargetID: target.ID,
		Data:     map[string]any{"damage": amount, "absorbed": absorbed},
	})
}

// applyEffectTechnique attaches a buff/HoT/shield effect. Re-applying a
// technique refreshes its effect in place.
func (e *Engine) applyEffectTechnique(z *world.Zone, caster, target *world.Entity, tech *data.Technique) {
	ef := target.Combat.FindEffect(tech.Name)
	if ef == nil {
		ef = &world.Effect{Name: tech.Name}
		target.Combat.Effects = append(target.Combat.Effects, ef)
	}
	ef.RemainingTicks = tech.DurationTicks
	switch tech.Kind {
	case "buff":
		ef.Kind = world.EffectBuff
		ef.Mods = world.FromBlock(tech.Mods)
	case "hot":
		ef.Kind = world.EffectHoT
		ef.HotHealPerTick = tech.HealPerTick
	case "shield":
		ef.Kind = world.EffectShield
		ef.ShieldHP = tech.ShieldHP
	}
	world.RecomputeDerived(target, e.w.Items())
	z.Emit(world.Event{
		Type:     world.EventCombat,
		Message:  fmt.Sprintf("%s gains %s", target.Name, tech.Name),
		ActorID:  caster.ID,
		TargetID: target.ID,
		Data:     map[string]any{"technique": tech.ID},
	})
}

// removeEffect drops a named effect and recomputes stats when needed.
func (e *Engine) removeEffect(ent *world.Entity, name string) {
	c := ent.Combat
	for i, ef := range c.Effects {
		if ef.Name == name {
			recompute := ef.Mods != (world.Stats{})
			c.Effects = append(c.Effects[:i], c.Effects[i+1:]...)
			if recompute {
				world.RecomputeDerived(ent, e.w.Items())
			}
			return
		}
	}
}

func techniqueContext(caster *world.Entity, tech *data.Technique, roll float64) scripting.TechniqueContext {
	return scripting.TechniqueContext{
		Power: tech.Power,
		Intel: caster.Combat.Effective.Int,
		Level: caster.Combat.Level,
		Roll:  roll,
	}
}
