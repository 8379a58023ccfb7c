// Package auth implements the challenge-response session contract: a caller
// requests a challenge bound to a wallet, signs it offline with the wallet's
// ed25519 key, and exchanges the signature for a bearer token.
package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/runevale/server/internal/config"
)

var (
	ErrNoChallenge      = errors.New("no pending challenge")
	ErrStaleTimestamp   = errors.New("challenge timestamp outside window")
	ErrBadSignature     = errors.New("signature verification failed")
	ErrWalletMismatch   = errors.New("public key does not match wallet")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionExpired   = errors.New("session expired")
	ErrMalformedRequest = errors.New("malformed auth request")
)

// Challenge is a signable login message bound to a wallet.
type Challenge struct {
	Wallet    string
	Message   string
	Timestamp int64 // unix seconds, echoed back on verify
}

// Session maps a bearer token to a wallet until expiry.
type Session struct {
	Token     string
	Wallet    string
	ExpiresAt time.Time
}

// Store is the in-memory session + challenge store. Guarded by a lock;
// critical sections are short. A cleanup goroutine evicts expired entries.
type Store struct {
	cfg config.SessionConfig
	now func() time.Time

	mu         sync.RWMutex
	challenges map[string]*Challenge // wallet → pending challenge
	sessions   map[string]*Session   // token → session
}

func NewStore(cfg config.SessionConfig, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		cfg:        cfg,
		now:        now,
		challenges: make(map[string]*Challenge),
		sessions:   make(map[string]*Session),
	}
}

// StartCleanup evicts expired sessions once a minute until stop is closed.
func (s *Store) StartCleanup(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.evictExpired()
			case <-stop:
				return
			}
		}
	}()
}

func (s *Store) evictExpired() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
}

// NewChallenge issues a fresh signable message for a wallet, replacing any
// prior pending challenge.
func (s *Store) NewChallenge(wallet string) *Challenge {
	wallet = strings.ToLower(wallet)
	ts := s.now().Unix()
	ch := &Challenge{
		Wallet:    wallet,
		Timestamp: ts,
		Message:   fmt.Sprintf("runevale login\nwallet: %s\nnonce: %s\nts: %d", wallet, uuid.NewString(), ts),
	}
	s.mu.Lock()
	s.challenges[wallet] = ch
	s.mu.Unlock()
	return ch
}

// WalletFromPub derives the wallet address from an ed25519 public key:
// "0x" + last 20 bytes of keccak256(pubkey).
func WalletFromPub(pub ed25519.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub)
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[12:])
}

// Verify checks the signed challenge and issues a bearer token with the
// configured TTL. timestamp must match the challenge and be within the
// freshness window of the server clock.
func (s *Store) Verify(wallet, pubHex, sigHex string, timestamp int64) (*Session, error) {
	wallet = strings.ToLower(wallet)

	pubBytes, err := hex.DecodeString(strings.TrimPrefix(pubHex, "0x"))
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return nil, ErrMalformedRequest
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, ErrMalformedRequest
	}

	now := s.now()
	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > s.cfg.ChallengeWindow {
		return nil, ErrStaleTimestamp
	}

	s.mu.Lock()
	ch := s.challenges[wallet]
	s.mu.Unlock()
	if ch == nil || ch.Timestamp != timestamp {
		return nil, ErrNoChallenge
	}

	if WalletFromPub(pubBytes) != wallet {
		return nil, ErrWalletMismatch
	}
	if !ed25519.Verify(pubBytes, []byte(ch.Message), sig) {
		return nil, ErrBadSignature
	}

	sess := &Session{
		Token:     uuid.NewString(),
		Wallet:    wallet,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	s.mu.Lock()
	delete(s.challenges, wallet)
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return sess, nil
}

// Resolve maps a bearer token to its wallet, rejecting unknown and expired
// tokens.
func (s *Store) Resolve(token string) (string, error) {
	s.mu.RLock()
	sess := s.sessions[token]
	s.mu.RUnlock()
	if sess == nil {
		return "", ErrSessionNotFound
	}
	if s.now().After(sess.ExpiresAt) {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return "", ErrSessionExpired
	}
	return sess.Wallet, nil
}
