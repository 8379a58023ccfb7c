package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoldLedgerReserveAgainstBalance(t *testing.T) {
	g := NewGoldLedger()

	require.NoError(t, g.Reserve("0xabc", 60, 100))
	assert.EqualValues(t, 40, g.Available("0xabc", 100))

	// A second reservation only has the remainder to work with.
	err := g.Reserve("0xabc", 50, 100)
	require.ErrorIs(t, err, ErrInsufficientGold)
	require.NoError(t, g.Reserve("0xabc", 40, 100))
	assert.Zero(t, g.Available("0xabc", 100))
}

func TestGoldLedgerSpendThenReconcile(t *testing.T) {
	g := NewGoldLedger()
	require.NoError(t, g.Reserve("0xabc", 60, 100))

	// Burn settled: hold becomes a spend until the next fresh balance read.
	g.Unreserve("0xabc", 60)
	g.RecordSpend("0xabc", 60)
	assert.Zero(t, g.Reserved("0xabc"))

	// The stale on-chain balance still reads 100; spent keeps it honest.
	assert.EqualValues(t, 40, g.Available("0xabc", 100))

	// Fresh balance observed: spent clears, no double-count.
	g.Reconcile("0xabc")
	assert.EqualValues(t, 40, g.Available("0xabc", 40))
}

func TestGoldLedgerAvailableClampsAtZero(t *testing.T) {
	g := NewGoldLedger()
	require.NoError(t, g.Reserve("0xabc", 100, 100))
	assert.Zero(t, g.Available("0xabc", 50))
}

func TestGoldLedgerUnreserveClamps(t *testing.T) {
	g := NewGoldLedger()
	require.NoError(t, g.Reserve("0xabc", 30, 100))
	g.Unreserve("0xabc", 80)
	assert.Zero(t, g.Reserved("0xabc"))
	assert.EqualValues(t, 100, g.Available("0xabc", 100))
}
