package notify

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/coldbell/raffle/crank/internal/raffle"
	"github.com/shopspring/decimal"
)

var ErrDeliveryFailed = errors.New("notification delivery failed")

const (
	FormatMarkdown = "Markdown"
	FormatPlain    = ""
)

const noWinnerText = "No winner (No tickets sold)"

type Notifier interface {
	Publish(ctx context.Context, msg Message) error
}

type Message struct {
	Text        string        `json:"text"`
	Format      string        `json:"format,omitempty"`
	Destination string        `json:"destination,omitempty"`
	Round       *RoundSummary `json:"round,omitempty"`
}

type RoundSummary struct {
	Winner          string `json:"winner,omitempty"`
	JackpotLamports uint64 `json:"jackpotLamports"`
	JackpotSOL      string `json:"jackpotSol"`
	Tickets         int    `json:"tickets"`
}

// RoundEnded renders the announcement for a round from the account state
// read after the end-round transaction landed. tickets is the count sold in
// the round that ended; the post state has already been reset.
func RoundEnded(post *raffle.State, tickets int) Message {
	jackpot := FormatSOL(post.Jackpot)

	winner := noWinnerText
	summary := &RoundSummary{
		JackpotLamports: post.Jackpot,
		JackpotSOL:      jackpot,
		Tickets:         tickets,
	}
	if post.HasWinner() {
		winner = post.Winner.String()
		summary.Winner = winner
	}

	text := fmt.Sprintf(
		"🎉 *Raffle Round Ended!*\n\n🏆 *Winner:* %s\n💰 *Jackpot:* %s SOL\n\nThe next round starts now! Get your tickets! 🎟️",
		winner, jackpot,
	)

	return Message{
		Text:   text,
		Format: FormatMarkdown,
		Round:  summary,
	}
}

// FormatSOL prints lamports as SOL with no trailing zeros.
func FormatSOL(lamports uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -9).String()
}
