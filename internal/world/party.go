package world

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrAlreadyInParty = errors.New("already in a party")
	ErrPartyNotFound  = errors.New("party not found")
	ErrPartyFull      = errors.New("party full")
)

// Party groups players for dungeon runs and shared kill credit.
type Party struct {
	ID       string   `json:"id"`
	LeaderID string   `json:"leaderId"`
	Members  []string `json:"members"` // player entity ids, leader included
}

// PartyManager tracks all active parties. Guarded by its own lock; parties
// are cross-zone so they cannot live inside any single zone.
type PartyManager struct {
	mu       sync.RWMutex
	parties  map[string]*Party
	byMember map[string]string // player id → party id
}

func NewPartyManager() *PartyManager {
	return &PartyManager{
		parties:  make(map[string]*Party),
		byMember: make(map[string]string),
	}
}

// Create starts a new party led by the given player.
func (m *PartyManager) Create(leaderID string) (*Party, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, in := m.byMember[leaderID]; in {
		return nil, ErrAlreadyInParty
	}
	p := &Party{ID: uuid.NewString(), LeaderID: leaderID, Members: []string{leaderID}}
	m.parties[p.ID] = p
	m.byMember[leaderID] = p.ID
	return p, nil
}

// Join adds a player to an existing party.
func (m *PartyManager) Join(partyID, playerID string, maxSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.parties[partyID]
	if p == nil {
		return ErrPartyNotFound
	}
	if _, in := m.byMember[playerID]; in {
		return ErrAlreadyInParty
	}
	if maxSize > 0 && len(p.Members) >= maxSize {
		return ErrPartyFull
	}
	p.Members = append(p.Members, playerID)
	m.byMember[playerID] = p.ID
	return nil
}

// Leave removes a player; the party disbands when empty and re-elects the
// first remaining member as leader otherwise.
func (m *PartyManager) Leave(playerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid, in := m.byMember[playerID]
	if !in {
		return
	}
	delete(m.byMember, playerID)
	p := m.parties[pid]
	if p == nil {
		return
	}
	for i, id := range p.Members {
		if id == playerID {
			p.Members = append(p.Members[:i], p.Members[i+1:]...)
			break
		}
	}
	if len(p.Members) == 0 {
		delete(m.parties, pid)
		return
	}
	if p.LeaderID == playerID {
		p.LeaderID = p.Members[0]
	}
}

// PartyOf returns a copy of the player's party, or nil.
func (m *PartyManager) PartyOf(playerID string) *Party {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pid, in := m.byMember[playerID]
	if !in {
		return nil
	}
	p := m.parties[pid]
	if p == nil {
		return nil
	}
	cp := *p
	cp.Members = append([]string(nil), p.Members...)
	return &cp
}

// MembersOf returns the member ids sharing a party with the player,
// including the player. A solo player is their own single-member "party".
func (m *PartyManager) MembersOf(playerID string) []string {
	if p := m.PartyOf(playerID); p != nil {
		return p.Members
	}
	return []string{playerID}
}
