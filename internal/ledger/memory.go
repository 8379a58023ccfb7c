package ledger

import (
	"context"
	"sync"
)

// MemLedger is the in-process AssetLedger used in development and tests.
// FailHook, when set, runs before every operation and can inject failures
// (nonce conflicts, rejections) keyed by operation name.
type MemLedger struct {
	mu    sync.Mutex
	gold  map[string]int64
	items map[string]map[int64]int64
	meta  map[string]CharacterMeta

	FailHook func(op string) error
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		gold:  make(map[string]int64),
		items: make(map[string]map[int64]int64),
		meta:  make(map[string]CharacterMeta),
	}
}

func (m *MemLedger) fail(op string) error {
	if m.FailHook != nil {
		return m.FailHook(op)
	}
	return nil
}

func (m *MemLedger) MintGold(_ context.Context, wallet string, amount int64) error {
	if err := m.fail("mint_gold"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gold[wallet] += amount
	return nil
}

func (m *MemLedger) BurnGold(_ context.Context, wallet string, amount int64) error {
	if err := m.fail("burn_gold"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gold[wallet] < amount {
		return &Error{Code: CodeRejected, Msg: "insufficient gold"}
	}
	m.gold[wallet] -= amount
	return nil
}

func (m *MemLedger) GoldBalance(_ context.Context, wallet string) (int64, error) {
	if err := m.fail("gold_balance"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gold[wallet], nil
}

func (m *MemLedger) MintItem(_ context.Context, wallet string, tokenID, qty int64) error {
	if err := m.fail("mint_item"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items[wallet] == nil {
		m.items[wallet] = make(map[int64]int64)
	}
	m.items[wallet][tokenID] += qty
	return nil
}

func (m *MemLedger) BurnItem(_ context.Context, wallet string, tokenID, qty int64) error {
	if err := m.fail("burn_item"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.items[wallet][tokenID] < qty {
		return &Error{Code: CodeRejected, Msg: "insufficient item balance"}
	}
	m.items[wallet][tokenID] -= qty
	return nil
}

func (m *MemLedger) ItemBalance(_ context.Context, wallet string, tokenID int64) (int64, error) {
	if err := m.fail("item_balance"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[wallet][tokenID], nil
}

func (m *MemLedger) UpdateCharacterMeta(_ context.Context, wallet string, meta CharacterMeta) error {
	if err := m.fail("update_meta"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[wallet+"/"+meta.CharID] = meta
	return nil
}

// Meta returns the stored character metadata (test helper).
func (m *MemLedger) Meta(wallet, charID string) (CharacterMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta, ok := m.meta[wallet+"/"+charID]
	return meta, ok
}
