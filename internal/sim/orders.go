package sim

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/runevale/server/internal/world"
)

// executeOrders runs at most one step of every pending order. A panic inside
// one entity's order is contained: logged as a system event, order cleared,
// tick continues.
func (e *Engine) executeOrders(z *world.Zone) {
	var ids []string
	z.Each(func(ent *world.Entity) {
		if ent.Order != nil {
			ids = append(ids, ent.ID)
		}
	})
	for _, id := range ids {
		ent := z.Get(id)
		if ent == nil || ent.Order == nil {
			continue
		}
		e.runOrderSafe(z, ent)
	}
}

func (e *Engine) runOrderSafe(z *world.Zone, ent *world.Entity) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("order handler panicked",
				zap.String("zone", z.ID),
				zap.String("entity", ent.ID),
				zap.Any("panic", r))
			z.Emit(world.Event{
				Type:    world.EventSystem,
				Message: fmt.Sprintf("order fault on %s", ent.Name),
				ActorID: ent.ID,
			})
			ent.Order = nil
		}
	}()

	switch ent.Order.Type {
	case world.OrderMove:
		e.stepMove(z, ent, ent.Order.X, ent.Order.Y, e.cfg.Gameplay.ArrivalThreshold)
	case world.OrderAttack:
		e.stepAttack(z, ent)
	case world.OrderGather:
		e.stepGather(z, ent)
	case world.OrderCast:
		e.stepCast(z, ent)
	default:
		ent.Order = nil
	}
}

// stepMove advances toward (tx,ty) at the configured speed and clears the
// order inside the arrival threshold.
func (e *Engine) stepMove(z *world.Zone, ent *world.Entity, tx, ty, arrive float64) {
	dx := tx - ent.X
	dy := ty - ent.Y
	d := math.Sqrt(dx*dx + dy*dy)
	if d <= arrive {
		if ent.Order != nil && ent.Order.Type == world.OrderMove {
			ent.Order = nil
		}
		return
	}
	step := e.cfg.Gameplay.MoveSpeed
	if step >= d {
		ent.X, ent.Y = tx, ty
		if ent.Order != nil && ent.Order.Type == world.OrderMove {
			ent.Order = nil
		}
		return
	}
	ent.X += dx / d * step
	ent.Y += dy / d * step
}

// stepAttack resolves one exchange when in range, otherwise closes distance.
func (e *Engine) stepAttack(z *world.Zone, ent *world.Entity) {
	target := z.Get(ent.Order.TargetID)
	if target == nil || !target.Alive() {
		ent.Order = nil
		return
	}
	if ent.DistanceTo(target) > e.cfg.Gameplay.AttackRange {
		e.stepMove(z, ent, target.X, target.Y, e.cfg.Gameplay.AttackRange*0.8)
		return
	}
	e.resolveExchange(z, ent, target)
}

// stepCast resolves a technique cast: learned, off cooldown, essence
// available. The order is consumed whether or not the cast lands.
func (e *Engine) stepCast(z *world.Zone, ent *world.Entity) {
	order := ent.Order
	ent.Order = nil
	if ent.Player == nil || ent.Combat == nil {
		return
	}
	tech := e.techniques.Get(order.Technique)
	if tech == nil || !ent.Player.Known[tech.ID] {
		return
	}
	if ready, ok := ent.Player.Cooldowns[tech.ID]; ok && z.Tick() < ready {
		return
	}
	if ent.Essence < tech.EssenceCost {
		return
	}

	var target *world.Entity
	if order.TargetID != "" {
		target = z.Get(order.TargetID)
	}
	if tech.NeedsTarget && (target == nil || !target.Alive()) {
		return
	}
	if target == nil {
		target = ent
	}
	if target != ent && ent.DistanceTo(target) > e.cfg.Gameplay.AttackRange*2 {
		return
	}

	ent.Essence -= tech.EssenceCost
	if ent.Player.Cooldowns == nil {
		ent.Player.Cooldowns = make(map[string]int64)
	}
	ent.Player.Cooldowns[tech.ID] = z.Tick() + tech.CooldownTicks

	amount := e.script.CalcTechnique(techniqueContext(ent, tech, z.Rng.Float64()))
	switch tech.Kind {
	case "damage":
		e.applyTechniqueDamage(z, ent, target, amount)
	case "heal":
		target.HP += amount
		if target.HP > target.MaxHP {
			target.HP = target.MaxHP
		}
		z.Emit(world.Event{
			Type:     world.EventCombat,
			Message:  fmt.Sprintf("%s heals %s for %d", ent.Name, target.Name, amount),
			ActorID:  ent.ID,
			TargetID: target.ID,
			Data:     map[string]any{"heal": amount, "technique": tech.ID},
		})
	case "buff", "hot", "shield":
		e.applyEffectTechnique(z, ent, target, tech)
	}
}
