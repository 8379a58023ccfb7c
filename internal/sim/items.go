package sim

import (
	"context"
	"fmt"

	"github.com/runevale/server/internal/world"
)

// UseItemRequest applies an owned token to the character: drinking a
// consumable, or moving equipment between wallet and body.
type UseItemRequest struct {
	ZoneID  string `json:"zoneId"`
	ActorID string `json:"actorId"`
	Wallet  string `json:"-"`
	TokenID int64  `json:"tokenId"`
	Mode    string `json:"mode"` // consume, equip, unequip
}

// UseItem routes the request by mode.
func (e *Engine) UseItem(ctx context.Context, req UseItemRequest) error {
	z := e.w.Get(req.ZoneID)
	if z == nil {
		return world.ErrZoneNotFound
	}
	snap := z.Snapshot()
	actor, ok := snap.Entities[req.ActorID]
	if !ok {
		return world.ErrEntityNotFound
	}
	if actor.Player == nil || actor.Player.Wallet != req.Wallet {
		return ErrNotYourCharacter
	}
	tmpl := e.w.Items().Get(req.TokenID)
	if tmpl == nil {
		return ErrUnknownItem
	}

	switch req.Mode {
	case "consume":
		return e.consumeItem(ctx, z, req, tmpl.Name)
	case "equip":
		return e.equipItem(ctx, z, snap, req)
	case "unequip":
		return e.unequipItem(z, req)
	default:
		return ErrUnknownAction
	}
}

// consumeItem burns one token and applies its effect. The burn settles
// before any effect lands: a rejected burn means nothing happened.
func (e *Engine) consumeItem(ctx context.Context, z *world.Zone, req UseItemRequest, name string) error {
	tmpl := e.w.Items().Get(req.TokenID)
	if tmpl.Kind != "consumable" || tmpl.Consume == nil {
		return ErrNotConsumable
	}
	if err := e.ser.SubmitWait(ctx, "burn_item", func(c context.Context) error {
		return e.assets.BurnItem(c, req.Wallet, req.TokenID, 1)
	}); err != nil {
		return err
	}

	effect := *tmpl.Consume
	actorID := req.ActorID
	z.Mutate(func(zz *world.Zone) {
		live := zz.Get(actorID)
		if live == nil || live.Combat == nil || !live.Alive() {
			return
		}
		if effect.Heal > 0 {
			live.HP += effect.Heal
			if live.HP > live.MaxHP {
				live.HP = live.MaxHP
			}
		}
		if effect.Essence > 0 {
			live.Essence += effect.Essence
			if live.Essence > live.MaxEssence {
				live.Essence = live.MaxEssence
			}
		}
		if effect.XPMult > 1 && effect.DurationTicks > 0 {
			ef := live.Combat.FindEffect(name)
			if ef == nil {
				ef = &world.Effect{Name: name, Kind: world.EffectBuff}
				live.Combat.Effects = append(live.Combat.Effects, ef)
			}
			ef.RemainingTicks = effect.DurationTicks
			ef.XPMult = effect.XPMult
		}
		zz.Emit(world.Event{
			Type:    world.EventSystem,
			Message: fmt.Sprintf("%s used %s", live.Name, name),
			ActorID: actorID,
		})
	})
	return nil
}

// equipItem places an owned token in its slot. The token never leaves the
// wallet; the body just references it. Whatever held the slot is stowed, so
// equip then unequip restores the previous state exactly.
func (e *Engine) equipItem(ctx context.Context, z *world.Zone, snap world.Snapshot, req UseItemRequest) error {
	tmpl := e.w.Items().Get(req.TokenID)
	if tmpl.Slot == "" {
		return ErrNotEquipment
	}
	slot := world.Slot(tmpl.Slot)

	var balance int64
	if err := e.ser.SubmitWait(ctx, "item_balance", func(c context.Context) error {
		var berr error
		balance, berr = e.assets.ItemBalance(c, req.Wallet, req.TokenID)
		return berr
	}); err != nil {
		return err
	}
	if balance < 1 {
		return ErrItemNotOwned
	}

	actorID, tokenID := req.ActorID, req.TokenID
	maxDur := tmpl.MaxDurability
	z.Mutate(func(zz *world.Zone) {
		live := zz.Get(actorID)
		if live == nil || live.Player == nil {
			return
		}
		p := live.Player
		if p.Stowed == nil {
			p.Stowed = make(map[int64]*world.EquippedItem)
		}
		if prev := p.Equipment[slot]; prev != nil {
			p.Stowed[prev.TokenID] = prev
			if p.Displaced == nil {
				p.Displaced = make(map[world.Slot]int64)
			}
			p.Displaced[slot] = prev.TokenID
		} else {
			delete(p.Displaced, slot)
		}
		it := p.Stowed[tokenID]
		if it != nil {
			delete(p.Stowed, tokenID)
		} else {
			it = &world.EquippedItem{
				TokenID:       tokenID,
				Durability:    maxDur,
				MaxDurability: maxDur,
			}
		}
		p.Equipment[slot] = it
		p.Dirty = true
		world.RecomputeDerived(live, e.w.Items())
	})
	return nil
}

// unequipItem removes the token from whichever slot holds it. If equipping
// the token displaced something, that item goes back on.
func (e *Engine) unequipItem(z *world.Zone, req UseItemRequest) error {
	actorID, tokenID := req.ActorID, req.TokenID
	err := ErrItemNotOwned
	z.Mutate(func(zz *world.Zone) {
		live := zz.Get(actorID)
		if live == nil || live.Player == nil {
			err = world.ErrEntityNotFound
			return
		}
		p := live.Player
		for slot, it := range p.Equipment {
			if it.TokenID != tokenID {
				continue
			}
			if p.Stowed == nil {
				p.Stowed = make(map[int64]*world.EquippedItem)
			}
			p.Stowed[tokenID] = it
			delete(p.Equipment, slot)
			if prevID, ok := p.Displaced[slot]; ok {
				if prev := p.Stowed[prevID]; prev != nil {
					p.Equipment[slot] = prev
					delete(p.Stowed, prevID)
				}
				delete(p.Displaced, slot)
			}
			p.Dirty = true
			world.RecomputeDerived(live, e.w.Items())
			err = nil
			return
		}
	})
	return err
}

// BuyItem settles a merchant purchase: gold burns first, then the item
// mints. A failed mint after a settled burn is logged loudly; gold is not
// refunded automatically.
func (e *Engine) BuyItem(ctx context.Context, zoneID, actorID, wallet string, npcID string, tokenID int64, qty int) error {
	if qty <= 0 {
		qty = 1
	}
	res, err := e.Interact(ctx, InteractRequest{
		ZoneID: zoneID, ActorID: actorID, Wallet: wallet, NPCID: npcID, Topic: "shop",
	})
	if err != nil {
		return err
	}
	var entry *ShopEntry
	for i := range res.Shop {
		if res.Shop[i].TokenID == tokenID {
			entry = &res.Shop[i]
			break
		}
	}
	if entry == nil {
		return ErrNoSuchService
	}

	total := entry.CopperPrice * int64(qty)
	if err := e.SpendGold(ctx, wallet, total); err != nil {
		return err
	}
	if err := e.ser.SubmitWait(ctx, "mint_item", func(c context.Context) error {
		return e.assets.MintItem(c, wallet, tokenID, int64(qty))
	}); err != nil {
		e.log.Error("purchase mint failed after gold settled")
		return err
	}

	if z := e.w.Get(zoneID); z != nil {
		name := entry.Name
		_ = z.Enqueue(func(zz *world.Zone) {
			zz.Emit(world.Event{
				Type:    world.EventSystem,
				Message: fmt.Sprintf("purchased %dx %s", qty, name),
				ActorID: actorID,
			})
		})
	}
	return nil
}

// RepairItem restores an equipped item to full durability for a gold cost
// scaled by missing durability and character level.
func (e *Engine) RepairItem(ctx context.Context, req UseItemRequest) (int64, error) {
	z := e.w.Get(req.ZoneID)
	if z == nil {
		return 0, world.ErrZoneNotFound
	}
	snap := z.Snapshot()
	actor, ok := snap.Entities[req.ActorID]
	if !ok {
		return 0, world.ErrEntityNotFound
	}
	if actor.Player == nil || actor.Player.Wallet != req.Wallet {
		return 0, ErrNotYourCharacter
	}
	if req.TokenID == 0 {
		return e.repairAll(ctx, z, actor, req)
	}
	tmpl := e.w.Items().Get(req.TokenID)
	if tmpl == nil {
		return 0, ErrUnknownItem
	}

	var target *world.EquippedItem
	for _, it := range actor.Player.Equipment {
		if it.TokenID == req.TokenID {
			target = it
			break
		}
	}
	if target == nil {
		return 0, ErrItemNotOwned
	}
	missing := target.MaxDurability - target.Durability
	if missing <= 0 {
		return 0, nil
	}

	cost := RepairCost(tmpl.CopperPrice, tmpl.MaxDurability, missing, actor.Combat.Level)
	if err := e.SpendGold(ctx, req.Wallet, cost); err != nil {
		return 0, err
	}

	actorID, tokenID := req.ActorID, req.TokenID
	z.Mutate(func(zz *world.Zone) {
		live := zz.Get(actorID)
		if live == nil || live.Player == nil {
			return
		}
		for _, it := range live.Player.Equipment {
			if it.TokenID != tokenID {
				continue
			}
			it.Durability = it.MaxDurability
			it.Broken = false
			live.Player.Dirty = true
			world.RecomputeDerived(live, e.w.Items())
			zz.Emit(world.Event{
				Type:    world.EventSystem,
				Message: fmt.Sprintf("%s repaired %s", live.Name, tmpl.Name),
				ActorID: actorID,
			})
			return
		}
	})
	return cost, nil
}

// repairAll prices every damaged equipped slot and restores them in one
// settlement.
func (e *Engine) repairAll(ctx context.Context, z *world.Zone, actor *world.Entity, req UseItemRequest) (int64, error) {
	var total int64
	for _, it := range actor.Player.Equipment {
		tmpl := e.w.Items().Get(it.TokenID)
		if tmpl == nil {
			continue
		}
		total += RepairCost(tmpl.CopperPrice, it.MaxDurability, it.MaxDurability-it.Durability, actor.Combat.Level)
	}
	if total == 0 {
		return 0, nil
	}
	if err := e.SpendGold(ctx, req.Wallet, total); err != nil {
		return 0, err
	}

	actorID := req.ActorID
	z.Mutate(func(zz *world.Zone) {
		live := zz.Get(actorID)
		if live == nil || live.Player == nil {
			return
		}
		for _, it := range live.Player.Equipment {
			it.Durability = it.MaxDurability
			it.Broken = false
		}
		live.Player.Dirty = true
		world.RecomputeDerived(live, e.w.Items())
		zz.Emit(world.Event{
			Type:    world.EventSystem,
			Message: fmt.Sprintf("%s repaired all equipment", live.Name),
			ActorID: actorID,
		})
	})
	return total, nil
}

// RepairCost prices a repair: per-point share of the item's value times
// missing durability, marked up 4% per character level.
func RepairCost(copperPrice int64, maxDurability, missing, level int) int64 {
	if maxDurability <= 0 || missing <= 0 {
		return 0
	}
	perPoint := float64(copperPrice) / float64(maxDurability)
	cost := int64(perPoint * float64(missing) * (1 + float64(level)*0.04))
	if cost < 1 {
		cost = 1
	}
	return cost
}
