package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/runevale/server/internal/config"
)

func testSerializer(t *testing.T) (*Serializer, context.CancelFunc) {
	t.Helper()
	cfg := config.LedgerConfig{MaxRetries: 3, BackoffBase: time.Millisecond, QueueSize: 64}
	s := NewSerializer(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		s.Close()
		cancel()
	})
	return s, cancel
}

func TestSerializerRunsInSubmissionOrder(t *testing.T) {
	s, _ := testSerializer(t)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, s.Submit("op", func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}, nil))
	}
	s.Flush()

	require.Len(t, order, 20)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestSerializerRetriesConflicts(t *testing.T) {
	s, _ := testSerializer(t)

	attempts := 0
	require.NoError(t, s.SubmitWait(context.Background(), "mint", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &Error{Code: CodeRetryableConflict, Msg: "nonce collision"}
		}
		return nil
	}))
	assert.Equal(t, 3, attempts)
}

func TestSerializerDoesNotRetryRejections(t *testing.T) {
	s, _ := testSerializer(t)

	attempts := 0
	err := s.SubmitWait(context.Background(), "burn", func(context.Context) error {
		attempts++
		return &Error{Code: CodeRejected, Msg: "insufficient balance"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)

	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, CodeRejected, lerr.Code)
}

func TestSerializerGivesUpAfterMaxRetries(t *testing.T) {
	s, _ := testSerializer(t)

	attempts := 0
	err := s.SubmitWait(context.Background(), "mint", func(context.Context) error {
		attempts++
		return &Error{Code: CodeRetryableConflict, Msg: "still conflicting"}
	})
	require.Error(t, err)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, 4, attempts)
}

func TestSerializerOnDoneSeesFinalError(t *testing.T) {
	s, _ := testSerializer(t)

	done := make(chan error, 1)
	require.NoError(t, s.Submit("mint", func(context.Context) error {
		return &Error{Code: CodeRejected, Msg: "no"}
	}, func(err error) { done <- err }))

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("onDone never ran")
	}
}

func TestSerializerRejectsAfterClose(t *testing.T) {
	cfg := config.LedgerConfig{MaxRetries: 1, BackoffBase: time.Millisecond}
	s := NewSerializer(cfg, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Close()
	err := s.Submit("op", func(context.Context) error { return nil }, nil)
	assert.True(t, errors.Is(err, ErrSerializerClosed))
}

func TestSerializerQueueFull(t *testing.T) {
	cfg := config.LedgerConfig{MaxRetries: 1, BackoffBase: time.Millisecond, QueueSize: 1}
	s := NewSerializer(cfg, zap.NewNop())
	// No Run goroutine: the queue never drains.
	require.NoError(t, s.Submit("a", func(context.Context) error { return nil }, nil))
	err := s.Submit("b", func(context.Context) error { return nil }, nil)
	assert.True(t, errors.Is(err, ErrQueueFull))
}

func TestMemLedgerBurnRejectsOverdraft(t *testing.T) {
	m := NewMemLedger()
	ctx := context.Background()
	require.NoError(t, m.MintGold(ctx, "0xabc", 100))

	err := m.BurnGold(ctx, "0xabc", 150)
	require.Error(t, err)
	assert.False(t, Retryable(err))

	require.NoError(t, m.BurnGold(ctx, "0xabc", 100))
	bal, err := m.GoldBalance(ctx, "0xabc")
	require.NoError(t, err)
	assert.Zero(t, bal)
}
