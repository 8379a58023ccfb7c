package sim

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/runevale/server/internal/world"
)

// rollLoot pays the tagger the mob's automatic drops: a copper roll plus any
// auto-drop items. Mints settle asynchronously; the loot event is only
// published once the mint confirms.
func (e *Engine) rollLoot(z *world.Zone, mob, tagger *world.Entity) {
	tmpl := e.w.Mobs().Get(mob.Combat.MobID)
	if tmpl == nil {
		return
	}
	loot := tmpl.Loot

	if loot.CopperMax > 0 {
		span := loot.CopperMax - loot.CopperMin
		copper := loot.CopperMin
		if span > 0 {
			copper += z.Rng.Int63n(span + 1)
		}
		copper = int64(float64(copper) * e.cfg.Rates.GoldRate)
		if copper > 0 {
			e.mintGold(z, tagger.Player.Wallet, tagger.ID,
				copper, fmt.Sprintf("%s looted %d copper", tagger.Name, copper))
		}
	}

	for _, drop := range loot.AutoDrops {
		if z.Rng.Float64() >= drop.Chance*e.cfg.Rates.DropRate {
			continue
		}
		qty := drop.MinQty
		if drop.MaxQty > drop.MinQty {
			qty += z.Rng.Intn(drop.MaxQty - drop.MinQty + 1)
		}
		if qty > 0 {
			e.mintItem(z, tagger.Player.Wallet, tagger.ID, drop.TokenID, qty)
		}
	}
}

// mintGold queues a copper mint for the wallet. The event lands on a later
// tick via the inbox; failed mints produce no event and no balance change.
func (e *Engine) mintGold(z *world.Zone, wallet, actorID string, amount int64, message string) {
	err := e.ser.Submit("mint_gold", func(ctx context.Context) error {
		return e.assets.MintGold(ctx, wallet, amount)
	}, func(opErr error) {
		if opErr != nil {
			return
		}
		_ = z.Enqueue(func(zz *world.Zone) {
			zz.Emit(world.Event{
				Type:    world.EventLoot,
				Message: message,
				ActorID: actorID,
				Data:    map[string]any{"copper": amount},
			})
		})
	})
	if err != nil {
		e.log.Warn("gold mint not queued",
			zap.String("wallet", wallet), zap.Int64("amount", amount), zap.Error(err))
	}
}

// mintItem queues an item mint for the wallet, with the same confirm-then-
// announce shape as mintGold.
func (e *Engine) mintItem(z *world.Zone, wallet, actorID string, tokenID int64, qty int) {
	name := fmt.Sprintf("token %d", tokenID)
	if tmpl := e.w.Items().Get(tokenID); tmpl != nil {
		name = tmpl.Name
	}
	err := e.ser.Submit("mint_item", func(ctx context.Context) error {
		return e.assets.MintItem(ctx, wallet, tokenID, int64(qty))
	}, func(opErr error) {
		if opErr != nil {
			return
		}
		_ = z.Enqueue(func(zz *world.Zone) {
			zz.Emit(world.Event{
				Type:    world.EventLoot,
				Message: fmt.Sprintf("looted %dx %s", qty, name),
				ActorID: actorID,
				Data:    map[string]any{"tokenId": tokenID, "qty": qty},
			})
		})
	})
	if err != nil {
		e.log.Warn("item mint not queued",
			zap.String("wallet", wallet), zap.Int64("token", tokenID), zap.Error(err))
	}
}
