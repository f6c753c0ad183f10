package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/gagliardetto/solana-go"
)

const pendingKeyPrefix byte = 0x01

type PebbleStore struct {
	db     *pebble.DB
	logger *slog.Logger
}

func NewPebbleStore(storeDir string, logger *slog.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "raffle-crank"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %w", err)
	}

	return &PebbleStore{db: db, logger: logger}, nil
}

func pendingKey(raffle solana.PublicKey) []byte {
	key := make([]byte, 0, 1+solana.PublicKeyLength)
	key = append(key, pendingKeyPrefix)
	return append(key, raffle[:]...)
}

func (ps *PebbleStore) Load(_ context.Context, raffle solana.PublicKey) (*Action, error) {
	value, closer, err := ps.db.Get(pendingKey(raffle))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting pending action for %s: %w", raffle, err)
	}
	defer func(closer io.Closer) {
		if err := closer.Close(); err != nil {
			ps.logger.Error("failed to close pebble get request", "err", err)
		}
	}(closer)

	var action Action
	if err := json.Unmarshal(value, &action); err != nil {
		return nil, fmt.Errorf("decoding pending action for %s: %w", raffle, err)
	}
	return &action, nil
}

func (ps *PebbleStore) Save(_ context.Context, action Action) error {
	value, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encoding pending action: %w", err)
	}

	if err := ps.db.Set(pendingKey(action.Raffle), value, pebble.Sync); err != nil {
		return fmt.Errorf("saving pending action %s: %w", action.Signature, err)
	}
	return nil
}

func (ps *PebbleStore) Clear(_ context.Context, raffle solana.PublicKey) error {
	if err := ps.db.Delete(pendingKey(raffle), pebble.Sync); err != nil {
		return fmt.Errorf("clearing pending action for %s: %w", raffle, err)
	}
	return nil
}

func (ps *PebbleStore) Close() error {
	return ps.db.Close()
}
