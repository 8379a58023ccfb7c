package world

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestEventRingEvictsOldest(t *testing.T) {
	r := NewEventRing(3)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		r.Append(Event{Message: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}
	require.Equal(t, 3, r.Len())

	got := r.Query(time.Time{}, 0)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Message)
	assert.Equal(t, "e", got[2].Message)
}

func TestEventRingQuerySinceAndLimit(t *testing.T) {
	r := NewEventRing(10)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		r.Append(Event{Message: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	got := r.Query(base.Add(2*time.Second), 2)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].Message)
	assert.Equal(t, "e", got[1].Message)
}

func TestZoneStepDrainsInboxBeforeBody(t *testing.T) {
	z := NewZone("test", 16, 8, 1, fixedClock(time.Now()))

	var sawEntity bool
	require.NoError(t, z.Enqueue(func(zz *Zone) {
		zz.Add(&Entity{ID: "p1", Kind: KindPlayer, HP: 10})
	}))
	z.Step(func(zz *Zone) {
		sawEntity = zz.Get("p1") != nil
	})
	assert.True(t, sawEntity)
	assert.EqualValues(t, 1, z.CurrentTick())
}

func TestZoneEnqueueBackpressure(t *testing.T) {
	z := NewZone("test", 16, 2, 1, nil)
	require.NoError(t, z.Enqueue(func(*Zone) {}))
	require.NoError(t, z.Enqueue(func(*Zone) {}))
	assert.ErrorIs(t, z.Enqueue(func(*Zone) {}), ErrInboxFull)

	// Draining frees capacity.
	z.Step(nil)
	assert.NoError(t, z.Enqueue(func(*Zone) {}))
}

func TestZoneEventsFlushAtEndOfStep(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	z := NewZone("test", 16, 8, 1, fixedClock(now))

	z.Step(func(zz *Zone) {
		zz.Emit(Event{Type: EventSystem, Message: "hello"})
		// Not yet visible to readers mid-tick; flushed with the step.
	})
	events := z.Events(time.Time{}, 0)
	require.Len(t, events, 1)
	assert.Equal(t, "hello", events[0].Message)
	assert.EqualValues(t, 0, events[0].Tick)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	z := NewZone("test", 16, 8, 1, nil)
	z.Step(func(zz *Zone) {
		zz.Add(&Entity{
			ID: "p1", Kind: KindPlayer, HP: 50, MaxHP: 50,
			Combat: &CombatData{Level: 3, Effects: []*Effect{{Name: "haste", Kind: EffectBuff, RemainingTicks: 5}}},
			Player: &PlayerData{
				Wallet:    "0xabc",
				Equipment: map[Slot]*EquippedItem{SlotWeapon: {TokenID: 101, Durability: 10, MaxDurability: 80}},
				Known:     map[string]bool{"strike": true},
				Cooldowns: map[string]int64{"strike": 9},
				Displaced: map[Slot]int64{SlotWeapon: 77},
			},
		})
	})

	snap := z.Snapshot()
	snap.Entities["p1"].HP = 1
	snap.Entities["p1"].Combat.Effects[0].RemainingTicks = 0
	snap.Entities["p1"].Player.Equipment[SlotWeapon].Durability = 0
	snap.Entities["p1"].Player.Known["strike"] = false
	snap.Entities["p1"].Player.Cooldowns["strike"] = 0
	delete(snap.Entities["p1"].Player.Displaced, SlotWeapon)

	z.Mutate(func(zz *Zone) {
		live := zz.Get("p1")
		assert.Equal(t, 50, live.HP)
		assert.Equal(t, 5, live.Combat.Effects[0].RemainingTicks)
		assert.Equal(t, 10, live.Player.Equipment[SlotWeapon].Durability)
		assert.True(t, live.Player.Known["strike"])
		assert.EqualValues(t, 9, live.Player.Cooldowns["strike"])
		assert.EqualValues(t, 77, live.Player.Displaced[SlotWeapon])
	})
}

func TestTakeDueRespawns(t *testing.T) {
	z := NewZone("test", 16, 8, 1, nil)
	now := time.Now()
	z.Mutate(func(zz *Zone) {
		zz.AddRespawn(RespawnEntry{MobID: 1, Due: now.Add(-time.Second)})
		zz.AddRespawn(RespawnEntry{MobID: 2, Due: now.Add(time.Minute)})

		due := zz.TakeDueRespawns(now)
		require.Len(t, due, 1)
		assert.EqualValues(t, 1, due[0].MobID)

		// The future entry stays queued.
		left := zz.TakeDueRespawns(now.Add(2 * time.Minute))
		require.Len(t, left, 1)
		assert.EqualValues(t, 2, left[0].MobID)
	})
}

func TestPartyLifecycle(t *testing.T) {
	m := NewPartyManager()
	p, err := m.Create("alice")
	require.NoError(t, err)

	_, err = m.Create("alice")
	assert.ErrorIs(t, err, ErrAlreadyInParty)

	require.NoError(t, m.Join(p.ID, "bob", 2))
	assert.ErrorIs(t, m.Join(p.ID, "carol", 2), ErrPartyFull)

	assert.ElementsMatch(t, []string{"alice", "bob"}, m.MembersOf("bob"))

	// Leader leaving re-elects.
	m.Leave("alice")
	got := m.PartyOf("bob")
	require.NotNil(t, got)
	assert.Equal(t, "bob", got.LeaderID)

	m.Leave("bob")
	assert.Nil(t, m.PartyOf("bob"))
	assert.Equal(t, []string{"bob"}, m.MembersOf("bob"))
}
