package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store archives ended raffle rounds in Postgres.
type Store struct {
	db *DB
}

type DB struct {
	raw *sql.DB
}

type Tx struct {
	raw *sql.Tx
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.raw.QueryContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.raw.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Tx{raw: tx}, nil
}

func (db *DB) Close() error {
	return db.raw.Close()
}

func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.raw.ExecContext(ctx, rebindPostgresPlaceholders(query), args...)
}

func (tx *Tx) Commit() error {
	return tx.raw.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.raw.Rollback()
}

// rebindPostgresPlaceholders turns ? placeholders into $n, leaving quoted
// literals untouched.
func rebindPostgresPlaceholders(query string) string {
	var out strings.Builder
	out.Grow(len(query) + 16)

	arg := 1
	quoted := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'' && quoted && i+1 < len(query) && query[i+1] == '\'':
			out.WriteString("''")
			i++
		case ch == '\'':
			quoted = !quoted
			out.WriteByte(ch)
		case ch == '?' && !quoted:
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(arg))
			arg++
		default:
			out.WriteByte(ch)
		}
	}

	return out.String()
}

func NewStore(dbDSN string) (*Store, error) {
	db, err := sql.Open("pgx", dbDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(4)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{db: &DB{raw: db}}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS raffle_rounds (
			id BIGSERIAL PRIMARY KEY,
			raffle TEXT NOT NULL,
			signature TEXT NOT NULL UNIQUE,
			round_end_time BIGINT NOT NULL,
			winner TEXT NOT NULL,
			jackpot_lamports TEXT NOT NULL,
			ticket_count INTEGER NOT NULL,
			notified BOOLEAN NOT NULL,
			ended_at BIGINT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_raffle_rounds_raffle_ended ON raffle_rounds(raffle, ended_at DESC);`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// RecordRound inserts an ended round. Recording the same signature again only
// upgrades the notified flag.
func (s *Store) RecordRound(ctx context.Context, round RoundRecord) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO raffle_rounds (
				raffle, signature, round_end_time, winner,
				jackpot_lamports, ticket_count, notified, ended_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (signature) DO UPDATE SET
				notified = raffle_rounds.notified OR excluded.notified
		`,
			round.Raffle,
			round.Signature,
			int64(round.RoundEndTime),
			round.Winner,
			strconv.FormatUint(round.JackpotLamports, 10),
			round.TicketCount,
			round.Notified,
			round.EndedAt,
		)
		if err != nil {
			return fmt.Errorf("record round %s: %w", round.Signature, err)
		}
		return nil
	})
}
