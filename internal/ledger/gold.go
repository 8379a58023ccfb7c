package ledger

import (
	"errors"
	"sync"
)

// ErrInsufficientGold is returned when a reservation would exceed the
// wallet's available gold.
var ErrInsufficientGold = errors.New("insufficient gold")

// GoldLedger is in-memory bookkeeping of reserved and spent gold per wallet.
// It is never the source of truth (the on-chain balance is) but it prevents
// double-spends in the window between a command and its settlement.
type GoldLedger struct {
	mu       sync.Mutex
	reserved map[string]int64
	spent    map[string]int64
}

func NewGoldLedger() *GoldLedger {
	return &GoldLedger{
		reserved: make(map[string]int64),
		spent:    make(map[string]int64),
	}
}

// Available computes spendable gold given the on-chain balance, clamped at
// zero.
func (g *GoldLedger) Available(wallet string, onChain int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	avail := onChain - g.reserved[wallet] - g.spent[wallet]
	if avail < 0 {
		return 0
	}
	return avail
}

// Reserve holds amount against the wallet; fails when the remaining
// available gold is insufficient.
func (g *GoldLedger) Reserve(wallet string, amount, onChain int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	avail := onChain - g.reserved[wallet] - g.spent[wallet]
	if avail < amount {
		return ErrInsufficientGold
	}
	g.reserved[wallet] += amount
	return nil
}

// Unreserve releases a hold, clamped at zero.
func (g *GoldLedger) Unreserve(wallet string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reserved[wallet] -= amount
	if g.reserved[wallet] <= 0 {
		delete(g.reserved, wallet)
	}
}

// RecordSpend moves intent from "reserved" to "spent": call after the burn
// settles, paired with Unreserve by the caller.
func (g *GoldLedger) RecordSpend(wallet string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spent[wallet] += amount
}

// Reconcile clears the spent counter once the on-chain balance reflects the
// settled burns (called after a fresh balance read is served to clients).
func (g *GoldLedger) Reconcile(wallet string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.spent, wallet)
}

// Reserved returns the current hold for a wallet (tests and diagnostics).
func (g *GoldLedger) Reserved(wallet string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reserved[wallet]
}
