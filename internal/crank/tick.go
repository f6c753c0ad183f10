package crank

import (
	"time"

	"github.com/coldbell/raffle/crank/internal/raffle"
	"github.com/gagliardetto/solana-go"
)

type Outcome string

const (
	OutcomeNone  Outcome = "none"
	OutcomeEnded Outcome = "ended"
	OutcomeError Outcome = "error"
)

type Stage string

const (
	StageRead    Stage = "read"
	StageDecode  Stage = "decode"
	StageResolve Stage = "resolve"
	StageBuild   Stage = "build"
	StageSubmit  Stage = "submit"
	StageConfirm Stage = "confirm"
	StageReport  Stage = "report"
	StageNotify  Stage = "notify"
	StageJournal Stage = "journal"
	StagePanic   Stage = "panic"
)

// Tick is the summary of one crank cycle. It is never persisted.
type Tick struct {
	StartedAt  time.Time
	Duration   time.Duration
	Observed   *raffle.State
	Post       *raffle.State
	Decision   raffle.Decision
	Decided    bool
	Submitted  bool
	Signature  solana.Signature
	Notified   bool
	Outcome    Outcome
	Stage      Stage
	Err        error
	Overlapped bool
}

func (t *Tick) fail(stage Stage, err error) {
	t.Outcome = OutcomeError
	t.Stage = stage
	t.Err = err
}
