package world

import "time"

// EventType classifies zone log entries.
type EventType string

const (
	EventCombat     EventType = "combat"
	EventKill       EventType = "kill"
	EventDeath      EventType = "death"
	EventLevelUp    EventType = "levelup"
	EventLoot       EventType = "loot"
	EventGather     EventType = "gather"
	EventTransition EventType = "transition"
	EventChat       EventType = "chat"
	EventSystem     EventType = "system"
)

// Event is one zone log entry. Events never mutate after being appended.
type Event struct {
	Type      EventType      `json:"type"`
	Tick      int64          `json:"tick"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	ActorID   string         `json:"actorId,omitempty"`
	TargetID  string         `json:"targetId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventRing is a bounded FIFO of events. Owned by the zone; callers read
// through Zone.Events which copies under the zone lock.
type EventRing struct {
	buf   []Event
	head  int // index of oldest entry
	count int
}

func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventRing{buf: make([]Event, capacity)}
}

// Append adds an event, evicting the oldest when full.
func (r *EventRing) Append(ev Event) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = ev
		r.count++
		return
	}
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
}

// Query returns up to limit events with Timestamp strictly after since,
// oldest first. limit <= 0 means no limit.
func (r *EventRing) Query(since time.Time, limit int) []Event {
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.head+i)%len(r.buf)]
		if !ev.Timestamp.After(since) {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len returns the number of retained events.
func (r *EventRing) Len() int { return r.count }
