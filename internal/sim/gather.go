package sim

import (
	"fmt"

	"github.com/runevale/server/internal/scripting"
	"github.com/runevale/server/internal/world"
)

// toolForResource maps a resource type to the tool that harvests it.
var toolForResource = map[world.ResourceType]string{
	world.ResourceOre:    "pickaxe",
	world.ResourceFlower: "sickle",
	world.ResourceNectar: "vial",
}

// professionForResource maps a resource type to the profession that earns
// xp from it.
var professionForResource = map[world.ResourceType]string{
	world.ResourceOre:    "mining",
	world.ResourceFlower: "herbalism",
	world.ResourceNectar: "alchemy",
}

// stepGather advances a gather order. Node orders persist across ticks and
// only clear when the node depletes or the target disappears; corpse
// skinning is a single-shot harvest.
func (e *Engine) stepGather(z *world.Zone, ent *world.Entity) {
	if ent.Player == nil {
		ent.Order = nil
		return
	}
	target := z.Get(ent.Order.TargetID)
	if target == nil {
		ent.Order = nil
		return
	}
	switch {
	case target.Node != nil:
		e.gatherNode(z, ent, target)
	case target.Corpse != nil:
		e.skinCorpse(z, ent, target)
	default:
		ent.Order = nil
	}
}

func (e *Engine) gatherNode(z *world.Zone, ent, node *world.Entity) {
	n := node.Node
	if n.Charges <= 0 {
		ent.Order = nil
		return
	}
	if ent.DistanceTo(node) > e.cfg.Gameplay.InteractRange {
		e.stepMove(z, ent, node.X, node.Y, e.cfg.Gameplay.InteractRange*0.8)
		return
	}

	tool := world.EquippedTool(ent.Player, e.w.Items())
	if tool == nil || tool.ToolType != toolForResource[n.ResourceType] || tool.ToolTier < n.RequiredToolTier {
		ent.Order = nil
		return
	}

	yield := e.script.CalcGatherYield(scripting.GatherContext{
		Resource: string(n.ResourceType),
		ToolTier: tool.ToolTier,
		Roll:     z.Rng.Float64(),
	})
	tokenID := n.YieldTokenID
	if yield.Rare && n.RareTokenID != 0 {
		tokenID = n.RareTokenID
	}
	e.mintItem(z, ent.Player.Wallet, ent.ID, tokenID, yield.Qty)
	e.addProfessionXP(ent, professionForResource[n.ResourceType], yield.ProfessionXP)
	e.wearHeldItem(z, ent)

	n.Charges--
	if n.Charges <= 0 {
		n.DepletedAtTick = z.Tick()
		ent.Order = nil
	}
	z.Emit(world.Event{
		Type:     world.EventGather,
		Message:  fmt.Sprintf("%s gathers from %s", ent.Name, node.Name),
		ActorID:  ent.ID,
		TargetID: node.ID,
		Data:     map[string]any{"charges": n.Charges, "rare": yield.Rare},
	})
}

// skinCorpse harvests a corpse's skinning drops. Only the tagger's party may
// skin, once, inside the skinnable window, with a skinning knife equipped.
func (e *Engine) skinCorpse(z *world.Zone, ent, corpse *world.Entity) {
	ent.Order = nil
	c := corpse.Corpse
	if c.Skinned || z.Now().After(c.SkinnableUntil) {
		return
	}
	if ent.DistanceTo(corpse) > e.cfg.Gameplay.InteractRange {
		return
	}
	if !e.mayHarvestCorpse(ent.ID, c.TaggedBy) {
		return
	}
	tool := world.EquippedTool(ent.Player, e.w.Items())
	if tool == nil || tool.ToolType != "skinning_knife" {
		return
	}

	c.Skinned = true
	tmpl := e.w.Mobs().Get(c.MobID)
	if tmpl != nil {
		for _, drop := range tmpl.Loot.SkinningDrops {
			if z.Rng.Float64() >= drop.Chance*e.cfg.Rates.DropRate {
				continue
			}
			qty := drop.MinQty
			if drop.MaxQty > drop.MinQty {
				qty += z.Rng.Intn(drop.MaxQty - drop.MinQty + 1)
			}
			if qty > 0 {
				e.mintItem(z, ent.Player.Wallet, ent.ID, drop.TokenID, qty)
			}
		}
	}
	e.addProfessionXP(ent, "skinning", 15)
	e.wearHeldItem(z, ent)

	z.Emit(world.Event{
		Type:     world.EventGather,
		Message:  fmt.Sprintf("%s skins %s", ent.Name, c.MobName),
		ActorID:  ent.ID,
		TargetID: corpse.ID,
	})
}

// mayHarvestCorpse reports whether the skinner is the tagger or shares the
// tagger's party.
func (e *Engine) mayHarvestCorpse(skinnerID, taggerID string) bool {
	if taggerID == "" {
		return false
	}
	if skinnerID == taggerID {
		return true
	}
	for _, id := range e.w.Parties.MembersOf(taggerID) {
		if id == skinnerID {
			return true
		}
	}
	return false
}

func (e *Engine) addProfessionXP(ent *world.Entity, profession string, xp int64) {
	if profession == "" || xp <= 0 {
		return
	}
	if ent.Player.Professions == nil {
		ent.Player.Professions = make(map[string]int64)
	}
	ent.Player.Professions[profession] += xp
	ent.Player.Dirty = true
}
