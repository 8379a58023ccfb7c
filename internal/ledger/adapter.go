// Package ledger wraps the external asset ledger: the authoritative store
// for gold and item/character tokens. The shard only ever talks to it
// through the Serializer, one operation at a time.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies ledger failures. The serializer retries only
// CodeRetryableConflict (nonce-class collisions on the shard signer).
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeRetryableConflict
	CodeRejected    // permanent: invalid request, insufficient balance
	CodeUnavailable // permanent for this attempt: adapter down/timeout
)

// Error is a typed ledger failure.
type Error struct {
	Code ErrorCode
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger: %s (code %d)", e.Msg, e.Code)
}

// Retryable reports whether err is a nonce-class conflict worth retrying.
func Retryable(err error) bool {
	var le *Error
	return errors.As(err, &le) && le.Code == CodeRetryableConflict
}

// CharacterMeta is the on-token character record kept in sync on level-up.
type CharacterMeta struct {
	CharID string
	Name   string
	Level  int
	XP     int64
}

// AssetLedger is the opaque external counterparty. Operations may be slow
// (hundreds of ms to seconds) and may fail; callers must treat the ledger as
// the source of truth and local bookkeeping as intent only.
type AssetLedger interface {
	MintGold(ctx context.Context, wallet string, amount int64) error
	BurnGold(ctx context.Context, wallet string, amount int64) error
	GoldBalance(ctx context.Context, wallet string) (int64, error)

	MintItem(ctx context.Context, wallet string, tokenID int64, qty int64) error
	BurnItem(ctx context.Context, wallet string, tokenID int64, qty int64) error
	ItemBalance(ctx context.Context, wallet string, tokenID int64) (int64, error)

	UpdateCharacterMeta(ctx context.Context, wallet string, meta CharacterMeta) error
}
