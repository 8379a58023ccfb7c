package world

import (
	"github.com/runevale/server/internal/data"
)

// FromBlock converts a YAML stat block into a Stats value.
func FromBlock(b data.StatBlock) Stats {
	return Stats{Str: b.Str, Agi: b.Agi, Int: b.Int, Def: b.Def, HP: b.HP}
}

// BaseStatsFor computes a combatant's base stats at a level:
// class base + race bonus + per-level growth.
func BaseStatsFor(cls *data.ClassDef, race *data.RaceDef, level int) Stats {
	s := FromBlock(cls.Base)
	if race != nil {
		s = s.Add(FromBlock(race.Bonus))
	}
	if level > 1 {
		s = s.Add(FromBlock(cls.Growth).Scale(level - 1))
	}
	return s
}

// GearStats sums the stat contribution of all equipped, unbroken items.
func GearStats(p *PlayerData, items *data.ItemTable) Stats {
	var sum Stats
	for _, it := range p.Equipment {
		if it == nil || it.Broken {
			continue
		}
		if tmpl := items.Get(it.TokenID); tmpl != nil {
			sum = sum.Add(FromBlock(tmpl.Stats))
		}
		if it.Rolled != nil {
			sum = sum.Add(*it.Rolled)
		}
		if it.Affix != nil {
			sum = sum.Add(*it.Affix)
		}
	}
	return sum
}

// BuffStats sums stat modifiers from active effects.
func BuffStats(c *CombatData) Stats {
	var sum Stats
	for _, ef := range c.Effects {
		sum = sum.Add(ef.Mods)
	}
	return sum
}

// RecomputeDerived refreshes effective stats and vitals caps. Must run on
// any equipment change, effect-list change, or level-up. HP/essence are
// clamped, never refilled.
func RecomputeDerived(e *Entity, items *data.ItemTable) {
	c := e.Combat
	if c == nil {
		return
	}
	eff := c.Base
	if e.Player != nil {
		eff = eff.Add(GearStats(e.Player, items))
	}
	eff = eff.Add(BuffStats(c))
	c.Effective = eff

	e.MaxHP = 20 + 8*eff.HP + 5*c.Level
	if e.HP > e.MaxHP {
		e.HP = e.MaxHP
	}
	if e.HP < 0 {
		e.HP = 0
	}
	if e.MaxEssence > 0 && e.Essence > e.MaxEssence {
		e.Essence = e.MaxEssence
	}
}

// BaseAttack computes the pre-weapon attack value for a combatant. Agility
// contributes half-weight; casters lean on intelligence through techniques,
// not the basic swing.
func BaseAttack(c *CombatData) int {
	return c.Effective.Str + c.Effective.Agi/2 + c.Level
}

// WeaponDamage returns the equipped weapon's damage, or the bare-hands value.
func WeaponDamage(p *PlayerData, items *data.ItemTable) int {
	if p == nil {
		return 0
	}
	wpn := p.Equipment[SlotWeapon]
	if wpn == nil || wpn.Broken {
		return 2 // bare hands
	}
	if tmpl := items.Get(wpn.TokenID); tmpl != nil && tmpl.Damage > 0 {
		return tmpl.Damage
	}
	return 2
}

// EquippedTool returns the equipped tool template, or nil when the weapon
// slot is empty, broken, or not a tool.
func EquippedTool(p *PlayerData, items *data.ItemTable) *data.ItemTemplate {
	wpn := p.Equipment[SlotWeapon]
	if wpn == nil || wpn.Broken {
		return nil
	}
	tmpl := items.Get(wpn.TokenID)
	if tmpl == nil || tmpl.Kind != "tool" {
		return nil
	}
	return tmpl
}
