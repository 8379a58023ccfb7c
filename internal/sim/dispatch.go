package sim

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/runevale/server/internal/world"
)

// Validation failures surfaced to the API layer. Each maps to a 4xx reason.
var (
	ErrUnknownAction     = errors.New("unknown action")
	ErrNotYourCharacter  = errors.New("entity does not belong to this wallet")
	ErrActorDead         = errors.New("actor is dead")
	ErrTargetNotFound    = errors.New("target not found")
	ErrTargetDead        = errors.New("target is already dead")
	ErrNotAttackable     = errors.New("target cannot be attacked")
	ErrNotGatherable     = errors.New("target cannot be gathered")
	ErrNodeDepleted      = errors.New("node is depleted")
	ErrCorpseUnavailable = errors.New("corpse cannot be skinned")
	ErrMissingTool       = errors.New("required tool not equipped")
	ErrToolTooWeak       = errors.New("tool tier too low")
	ErrUnknownTechnique  = errors.New("unknown technique")
	ErrTechniqueUnknown  = errors.New("technique not learned")
	ErrNotAnNPC          = errors.New("target is not an npc")
	ErrNoSuchService     = errors.New("npc does not offer that service")
	ErrAlreadyKnown      = errors.New("technique already known")
	ErrLevelTooLow       = errors.New("level too low")
	ErrWrongClass        = errors.New("technique belongs to another class")
	ErrQuestActive       = errors.New("quest already accepted")
	ErrNotConsumable     = errors.New("item is not consumable")
	ErrNotEquipment      = errors.New("item is not equipment")
	ErrUnknownItem       = errors.New("unknown item token")
	ErrItemNotOwned      = errors.New("wallet does not hold that token")
	ErrCharacterExists   = errors.New("character already spawned")
)

// Command is one player intent from the API. Exactly one action applies per
// character; issuing a new one replaces the pending order.
type Command struct {
	ZoneID    string  `json:"zoneId"`
	ActorID   string  `json:"actorId"`
	Wallet    string  `json:"-"`      // from the session, never the body
	Action    string  `json:"action"` // move, attack, gather, cast, stop
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	TargetID  string  `json:"targetId,omitempty"`
	Technique string  `json:"technique,omitempty"`
}

// Receipt acknowledges an accepted command. The order runs on a later tick;
// outcomes surface through the event log.
type Receipt struct {
	Accepted bool   `json:"accepted"`
	ZoneID   string `json:"zoneId"`
	Tick     int64  `json:"tick"`
}

// Dispatch validates a command against the zone's current state and queues
// the resulting order. Validation is advisory: the tick re-checks whatever
// can change between acceptance and execution.
func (e *Engine) Dispatch(cmd Command) (Receipt, error) {
	z := e.w.Get(cmd.ZoneID)
	if z == nil {
		return Receipt{}, world.ErrZoneNotFound
	}
	snap := z.Snapshot()
	actor, ok := snap.Entities[cmd.ActorID]
	if !ok {
		return Receipt{}, world.ErrEntityNotFound
	}
	if actor.Player == nil || actor.Player.Wallet != cmd.Wallet {
		return Receipt{}, ErrNotYourCharacter
	}
	if !actor.Alive() {
		return Receipt{}, ErrActorDead
	}

	order, err := e.buildOrder(snap, actor, cmd)
	if err != nil {
		return Receipt{}, err
	}

	actorID := cmd.ActorID
	if qerr := z.Enqueue(func(zz *world.Zone) {
		if live := zz.Get(actorID); live != nil {
			live.Order = order
		}
	}); qerr != nil {
		return Receipt{}, qerr
	}
	return Receipt{Accepted: true, ZoneID: cmd.ZoneID, Tick: snap.Tick}, nil
}

// buildOrder turns a command into an order, or a validation error. A nil
// order with nil error means "stop".
func (e *Engine) buildOrder(snap world.Snapshot, actor *world.Entity, cmd Command) (*world.Order, error) {
	switch cmd.Action {
	case "stop":
		return nil, nil

	case "move":
		// Moving to your own position is a no-op order; it clears on the
		// next tick inside the arrival threshold.
		return &world.Order{Type: world.OrderMove, X: cmd.X, Y: cmd.Y}, nil

	case "attack":
		target, ok := snap.Entities[cmd.TargetID]
		if !ok {
			return nil, ErrTargetNotFound
		}
		// A corpse is a dead target, not an invalid one.
		if target.Corpse != nil {
			return nil, ErrTargetDead
		}
		if !target.Kind.IsCombatant() || target.ID == actor.ID {
			return nil, ErrNotAttackable
		}
		if !target.Alive() {
			return nil, ErrTargetDead
		}
		return &world.Order{Type: world.OrderAttack, TargetID: cmd.TargetID}, nil

	case "gather":
		target, ok := snap.Entities[cmd.TargetID]
		if !ok {
			return nil, ErrTargetNotFound
		}
		switch {
		case target.Node != nil:
			if err := e.checkGatherNode(actor, target.Node); err != nil {
				return nil, err
			}
		case target.Corpse != nil:
			if err := e.checkSkinCorpse(actor, target.Corpse); err != nil {
				return nil, err
			}
		default:
			return nil, ErrNotGatherable
		}
		return &world.Order{Type: world.OrderGather, TargetID: cmd.TargetID}, nil

	case "cast":
		tech := e.techniques.Get(cmd.Technique)
		if tech == nil {
			return nil, ErrUnknownTechnique
		}
		if !actor.Player.Known[tech.ID] {
			return nil, ErrTechniqueUnknown
		}
		return &world.Order{Type: world.OrderCast, TargetID: cmd.TargetID, Technique: cmd.Technique}, nil

	default:
		return nil, ErrUnknownAction
	}
}

func (e *Engine) checkGatherNode(actor *world.Entity, n *world.NodeData) error {
	if n.Charges <= 0 {
		return ErrNodeDepleted
	}
	tool := world.EquippedTool(actor.Player, e.w.Items())
	if tool == nil || tool.ToolType != toolForResource[n.ResourceType] {
		return ErrMissingTool
	}
	if tool.ToolTier < n.RequiredToolTier {
		return ErrToolTooWeak
	}
	return nil
}

func (e *Engine) checkSkinCorpse(actor *world.Entity, c *world.CorpseData) error {
	if c.Skinned || !e.mayHarvestCorpse(actor.ID, c.TaggedBy) {
		return ErrCorpseUnavailable
	}
	tool := world.EquippedTool(actor.Player, e.w.Items())
	if tool == nil || tool.ToolType != "skinning_knife" {
		return ErrMissingTool
	}
	return nil
}

// SpawnPlayer creates (or restores) the wallet's character and places it in
// the world. Saved progress wins over the fresh-character defaults.
func (e *Engine) SpawnPlayer(ctx context.Context, wallet, name, classID, raceID string) (*world.Entity, string, error) {
	cls := e.classes.Class(classID)
	if cls == nil {
		return nil, "", fmt.Errorf("unknown class %q", classID)
	}
	race := e.classes.Race(raceID)
	if raceID != "" && race == nil {
		return nil, "", fmt.Errorf("unknown race %q", raceID)
	}

	zoneID := e.cfg.Gameplay.StartZone
	x, y := e.cfg.Gameplay.StartX, e.cfg.Gameplay.StartY
	level := 1
	var xp int64
	charID := e.w.NextID("char")

	if e.progress != nil {
		rec, err := e.progress.Load(ctx, wallet, "")
		if err != nil {
			e.log.Warn("progress load failed", zap.String("wallet", wallet), zap.Error(err))
		} else if rec != nil {
			charID = rec.CharID
			name = rec.Name
			classID, raceID = rec.ClassID, rec.RaceID
			cls = e.classes.Class(classID)
			race = e.classes.Race(raceID)
			if cls == nil {
				return nil, "", fmt.Errorf("saved class %q missing from catalog", rec.ClassID)
			}
			level, xp = rec.Level, rec.XP
			zoneID, x, y = rec.ZoneID, rec.X, rec.Y
		}
	}

	z := e.w.GetOrCreate(zoneID)

	base := world.BaseStatsFor(cls, race, level)
	ent := &world.Entity{
		ID:   charID,
		Kind: world.KindPlayer,
		Name: name,
		X:    x,
		Y:    y,
		Combat: &world.CombatData{
			Level:   level,
			XP:      xp,
			ClassID: classID,
			RaceID:  raceID,
			Base:    base,
		},
		Player: &world.PlayerData{
			Wallet:    wallet,
			Equipment: make(map[world.Slot]*world.EquippedItem),
			Known:     make(map[string]bool),
			Cooldowns: make(map[string]int64),
		},
	}
	if cls.UsesEssence {
		ent.MaxEssence = cls.BaseEssence + cls.EssenceGrowth*(level-1)
		ent.Essence = ent.MaxEssence
	}
	world.RecomputeDerived(ent, e.w.Items())
	ent.HP = ent.MaxHP

	var spawnErr error
	z.Mutate(func(zz *world.Zone) {
		if existing := zz.Get(charID); existing != nil {
			spawnErr = ErrCharacterExists
			return
		}
		zz.Add(ent)
		zz.Emit(world.Event{
			Type:    world.EventSystem,
			Message: fmt.Sprintf("%s entered the world", name),
			ActorID: charID,
		})
	})
	if spawnErr != nil {
		return nil, "", spawnErr
	}
	e.submitMetaUpdate(ent)
	return ent.Clone(), zoneID, nil
}

// InteractRequest is a synchronous NPC interaction: shop listing, technique
// training, quest pickup, lore.
type InteractRequest struct {
	ZoneID    string `json:"zoneId"`
	ActorID   string `json:"actorId"`
	Wallet    string `json:"-"`
	NPCID     string `json:"npcId"`
	Topic     string `json:"topic"` // shop, train, quest, lore
	Technique string `json:"technique,omitempty"`
	QuestID   string `json:"questId,omitempty"`
}

// ShopEntry is one line of a merchant listing.
type ShopEntry struct {
	TokenID     int64  `json:"tokenId"`
	Name        string `json:"name"`
	CopperPrice int64  `json:"copperPrice"`
}

// InteractResult carries whichever fields the topic produced.
type InteractResult struct {
	Lore       string           `json:"lore,omitempty"`
	Shop       []ShopEntry      `json:"shop,omitempty"`
	Techniques []string         `json:"techniques,omitempty"`
	Quests     []world.QuestDef `json:"quests,omitempty"`
	Learned    string           `json:"learned,omitempty"`
	Accepted   string           `json:"accepted,omitempty"`
}

// Interact resolves an NPC interaction. Listings read a snapshot; mutating
// topics (learning, quest pickup) apply through the zone.
func (e *Engine) Interact(ctx context.Context, req InteractRequest) (*InteractResult, error) {
	z := e.w.Get(req.ZoneID)
	if z == nil {
		return nil, world.ErrZoneNotFound
	}
	snap := z.Snapshot()
	actor, ok := snap.Entities[req.ActorID]
	if !ok {
		return nil, world.ErrEntityNotFound
	}
	if actor.Player == nil || actor.Player.Wallet != req.Wallet {
		return nil, ErrNotYourCharacter
	}
	npc, ok := snap.Entities[req.NPCID]
	if !ok {
		return nil, ErrTargetNotFound
	}
	if npc.NPC == nil {
		return nil, ErrNotAnNPC
	}
	if actor.DistanceTo(npc) > e.cfg.Gameplay.InteractRange {
		return nil, world.ErrTooFar
	}
	caps := npc.NPC.Capabilities

	switch req.Topic {
	case "lore":
		if caps.Lore == "" {
			return nil, ErrNoSuchService
		}
		return &InteractResult{Lore: caps.Lore}, nil

	case "shop":
		if caps.Merchant == nil {
			return nil, ErrNoSuchService
		}
		res := &InteractResult{}
		for _, tokenID := range caps.Merchant.TokenIDs {
			tmpl := e.w.Items().Get(tokenID)
			if tmpl == nil {
				continue
			}
			res.Shop = append(res.Shop, ShopEntry{
				TokenID:     tmpl.TokenID,
				Name:        tmpl.Name,
				CopperPrice: tmpl.CopperPrice,
			})
		}
		return res, nil

	case "train":
		if caps.Trainer == nil {
			return nil, ErrNoSuchService
		}
		if req.Technique == "" {
			return &InteractResult{Techniques: caps.Trainer.Techniques}, nil
		}
		return e.learnTechnique(ctx, z, actor, caps.Trainer, req.Technique)

	case "quest":
		if caps.QuestGiver == nil {
			return nil, ErrNoSuchService
		}
		if req.QuestID == "" {
			return &InteractResult{Quests: caps.QuestGiver.Quests}, nil
		}
		return e.acceptQuest(z, actor.ID, caps.QuestGiver, req.QuestID)

	default:
		return nil, ErrNoSuchService
	}
}

// learnTechnique charges the learn cost through the gold pipeline and then
// marks the technique known.
func (e *Engine) learnTechnique(ctx context.Context, z *world.Zone, actor *world.Entity, trainer *world.TrainerCap, techID string) (*InteractResult, error) {
	offered := false
	for _, id := range trainer.Techniques {
		if id == techID {
			offered = true
			break
		}
	}
	if !offered {
		return nil, ErrNoSuchService
	}
	tech := e.techniques.Get(techID)
	if tech == nil {
		return nil, ErrUnknownTechnique
	}
	if actor.Player.Known[techID] {
		return nil, ErrAlreadyKnown
	}
	if actor.Combat.Level < tech.MinLevel {
		return nil, ErrLevelTooLow
	}
	if tech.ClassID != "" && tech.ClassID != actor.Combat.ClassID {
		return nil, ErrWrongClass
	}

	if tech.LearnCost > 0 {
		if err := e.SpendGold(ctx, actor.Player.Wallet, tech.LearnCost); err != nil {
			return nil, err
		}
	}

	actorID := actor.ID
	z.Mutate(func(zz *world.Zone) {
		live := zz.Get(actorID)
		if live == nil || live.Player == nil {
			return
		}
		if live.Player.Known == nil {
			live.Player.Known = make(map[string]bool)
		}
		live.Player.Known[techID] = true
		live.Player.Dirty = true
		zz.Emit(world.Event{
			Type:    world.EventSystem,
			Message: fmt.Sprintf("%s learned %s", live.Name, tech.Name),
			ActorID: actorID,
		})
	})
	return &InteractResult{Learned: techID}, nil
}

func (e *Engine) acceptQuest(z *world.Zone, actorID string, giver *world.QuestGiverCap, questID string) (*InteractResult, error) {
	var quest *world.QuestDef
	for i := range giver.Quests {
		if giver.Quests[i].QuestID == questID {
			quest = &giver.Quests[i]
			break
		}
	}
	if quest == nil {
		return nil, ErrNoSuchService
	}

	var qerr error
	z.Mutate(func(zz *world.Zone) {
		live := zz.Get(actorID)
		if live == nil || live.Player == nil {
			qerr = world.ErrEntityNotFound
			return
		}
		for _, q := range live.Player.Quests {
			if q.QuestID == questID && !q.Done {
				qerr = ErrQuestActive
				return
			}
		}
		live.Player.Quests = append(live.Player.Quests, &world.QuestProgress{
			QuestID: questID,
			Goal:    quest.Goal,
		})
		live.Player.Dirty = true
		zz.Emit(world.Event{
			Type:    world.EventSystem,
			Message: fmt.Sprintf("%s accepted %s", live.Name, quest.Name),
			ActorID: actorID,
		})
	})
	if qerr != nil {
		return nil, qerr
	}
	return &InteractResult{Accepted: questID}, nil
}

// SpendGold runs the full reserve-burn-settle chain for a purchase. The
// reservation blocks concurrent double-spends while the burn settles.
func (e *Engine) SpendGold(ctx context.Context, wallet string, amount int64) error {
	var balance int64
	err := e.ser.SubmitWait(ctx, "gold_balance", func(c context.Context) error {
		var berr error
		balance, berr = e.assets.GoldBalance(c, wallet)
		return berr
	})
	if err != nil {
		return err
	}
	// The read ran through the serializer, so the balance reflects every
	// previously settled burn; the spent counter can reset.
	e.gold.Reconcile(wallet)
	if err := e.gold.Reserve(wallet, amount, balance); err != nil {
		return err
	}
	if err := e.ser.SubmitWait(ctx, "burn_gold", func(c context.Context) error {
		return e.assets.BurnGold(c, wallet, amount)
	}); err != nil {
		e.gold.Unreserve(wallet, amount)
		return err
	}
	e.gold.Unreserve(wallet, amount)
	e.gold.RecordSpend(wallet, amount)
	return nil
}
