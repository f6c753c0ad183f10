package journal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 200
)

type RoundRecord struct {
	ID              int64  `json:"id"`
	Raffle          string `json:"raffle"`
	Signature       string `json:"signature"`
	RoundEndTime    uint64 `json:"round_end_time"`
	Winner          string `json:"winner"`
	JackpotLamports uint64 `json:"jackpot_lamports"`
	TicketCount     int    `json:"ticket_count"`
	Notified        bool   `json:"notified"`
	EndedAt         int64  `json:"ended_at"`
}

type RoundFilter struct {
	Raffle string
	Limit  int
	Offset int
}

func (s *Store) ListRounds(ctx context.Context, filter RoundFilter) ([]RoundRecord, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 3)

	if filter.Raffle != "" {
		clauses = append(clauses, "raffle = ?")
		args = append(args, filter.Raffle)
	}

	query := fmt.Sprintf(`
		SELECT
			id,
			raffle,
			signature,
			round_end_time,
			winner,
			jackpot_lamports,
			ticket_count,
			notified,
			ended_at
		FROM raffle_rounds
		WHERE %s
		ORDER BY ended_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]RoundRecord, 0, limit)
	for rows.Next() {
		var item RoundRecord
		var roundEnd int64
		var jackpot string
		if err := rows.Scan(
			&item.ID,
			&item.Raffle,
			&item.Signature,
			&roundEnd,
			&item.Winner,
			&jackpot,
			&item.TicketCount,
			&item.Notified,
			&item.EndedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		item.RoundEndTime = uint64(roundEnd)
		item.JackpotLamports, err = strconv.ParseUint(jackpot, 10, 64)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("parse jackpot of round %s: %w", item.Signature, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func normalizePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
