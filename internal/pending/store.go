package pending

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

var ErrNotFound = errors.New("pending action not found")

// Action records an end-round transaction that was accepted by the cluster
// but whose outcome is not yet known.
type Action struct {
	Raffle      solana.PublicKey `json:"raffle"`
	Signature   solana.Signature `json:"signature"`
	RoundEnd    uint64           `json:"roundEnd"`
	Tickets     int              `json:"tickets"`
	SubmittedAt time.Time        `json:"submittedAt"`
}

// Expired reports whether the action is older than ttl at now.
func (a *Action) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(a.SubmittedAt) >= ttl
}

type Store interface {
	Load(ctx context.Context, raffle solana.PublicKey) (*Action, error)
	Save(ctx context.Context, action Action) error
	Clear(ctx context.Context, raffle solana.PublicKey) error
}

type MemoryStore struct {
	mu      sync.Mutex
	actions map[solana.PublicKey]Action
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[solana.PublicKey]Action)}
}

func (s *MemoryStore) Load(_ context.Context, raffle solana.PublicKey) (*Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.actions[raffle]
	if !ok {
		return nil, ErrNotFound
	}
	return &action, nil
}

func (s *MemoryStore) Save(_ context.Context, action Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actions[action.Raffle] = action
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, raffle solana.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.actions, raffle)
	return nil
}
