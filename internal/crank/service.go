package crank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/coldbell/raffle/crank/internal/journal"
	"github.com/coldbell/raffle/crank/internal/ledger"
	"github.com/coldbell/raffle/crank/internal/metrics"
	"github.com/coldbell/raffle/crank/internal/notify"
	"github.com/coldbell/raffle/crank/internal/pending"
	"github.com/coldbell/raffle/crank/internal/raffle"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type Config struct {
	ProgramID         solana.PublicKey
	RaffleAccount     solana.PublicKey
	Encoding          raffle.PayloadEncoding
	PollInterval      time.Duration
	TickTimeout       time.Duration
	ConfirmCommitment rpc.CommitmentType
	PendingTTL        time.Duration
}

type Journal interface {
	RecordRound(ctx context.Context, round journal.RoundRecord) error
}

// Deps are the collaborators of a Service. Journal may be nil.
type Deps struct {
	Ledger   ledger.Gateway
	Notifier notify.Notifier
	Pending  pending.Store
	Journal  Journal
	Metrics  *metrics.CrankMetrics
	Clock    func() time.Time
}

type Service struct {
	cfg      Config
	ledger   ledger.Gateway
	notifier notify.Notifier
	pending  pending.Store
	journal  Journal
	metrics  *metrics.CrankMetrics
	clock    func() time.Time
	signer   solana.PrivateKey
	logger   *slog.Logger

	running  atomic.Bool
	lastTick atomic.Pointer[Tick]
}

func New(cfg Config, signer solana.PrivateKey, deps Deps, logger *slog.Logger) (*Service, error) {
	if deps.Ledger == nil {
		return nil, errors.New("crank: ledger gateway is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("crank: notifier is required")
	}
	if deps.Metrics == nil {
		return nil, errors.New("crank: metrics are required")
	}
	if len(signer) == 0 {
		return nil, errors.New("crank: signer is required")
	}
	if deps.Pending == nil {
		deps.Pending = pending.NewMemoryStore()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.TickTimeout <= 0 {
		cfg.TickTimeout = cfg.PollInterval
	}
	if cfg.ConfirmCommitment == "" {
		cfg.ConfirmCommitment = rpc.CommitmentConfirmed
	}
	if cfg.Encoding == "" {
		cfg.Encoding = raffle.EncodingAnchor
	}

	return &Service{
		cfg:      cfg,
		ledger:   deps.Ledger,
		notifier: deps.Notifier,
		pending:  deps.Pending,
		journal:  deps.Journal,
		metrics:  deps.Metrics,
		clock:    deps.Clock,
		signer:   signer,
		logger:   logger.With("raffle", cfg.RaffleAccount.String(), "program", cfg.ProgramID.String()),
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("crank started",
		"authority", s.signer.PublicKey(),
		"poll_interval", s.cfg.PollInterval,
		"tick_timeout", s.cfg.TickTimeout,
		"encoding", s.cfg.Encoding,
	)

	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("crank stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// LastTick returns the most recent completed tick.
func (s *Service) LastTick() (Tick, bool) {
	last := s.lastTick.Load()
	if last == nil {
		return Tick{}, false
	}
	return *last, true
}

// Tick runs a single cycle. A call made while another tick is in flight
// returns immediately with Overlapped set.
func (s *Service) Tick(ctx context.Context) Tick {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("crank tick skipped, previous tick still running")
		s.metrics.IncOverlappingTick()
		return Tick{StartedAt: s.clock(), Outcome: OutcomeNone, Overlapped: true}
	}
	defer s.running.Store(false)

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.TickTimeout)
	defer cancel()

	t := Tick{StartedAt: s.clock(), Outcome: OutcomeNone}
	s.runGuarded(tickCtx, &t)
	t.Duration = s.clock().Sub(t.StartedAt)

	if t.Err != nil {
		s.logger.Error("crank tick failed", "stage", t.Stage, "signature", signatureAttr(t.Signature), "err", t.Err)
		s.metrics.IncStageError(string(t.Stage))
	}
	s.metrics.ObserveTick(string(t.Outcome), t.Duration.Seconds(), t.StartedAt.Unix())

	summary := t
	s.lastTick.Store(&summary)
	return t
}

func (s *Service) runGuarded(ctx context.Context, t *Tick) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("crank tick panicked", "panic", r, "stack", string(debug.Stack()))
			t.fail(StagePanic, fmt.Errorf("panic: %v", r))
		}
	}()
	s.runTick(ctx, t)
}

func (s *Service) runTick(ctx context.Context, t *Tick) {
	state, stage, err := s.readState(ctx)
	if err != nil {
		t.fail(stage, err)
		return
	}
	t.Observed = state
	s.metrics.SetRaffleState(state.EndTime, len(state.Tickets), state.Jackpot)

	if !s.resolvePending(ctx, t, state) {
		return
	}

	now := s.ledger.Now(ctx)
	t.Decision = raffle.Decide(state, now)
	t.Decided = true
	if t.Decision == raffle.Active {
		s.logger.Debug("raffle active",
			"end_time", state.EndTime,
			"now", now.Unix(),
			"tickets", len(state.Tickets),
		)
		return
	}

	s.logger.Info("raffle round expired, ending round",
		"end_time", state.EndTime,
		"now", now.Unix(),
		"tickets", len(state.Tickets),
		"jackpot", state.Jackpot,
	)

	ix, err := raffle.BuildEndRoundInstruction(s.cfg.ProgramID, s.cfg.RaffleAccount, s.signer.PublicKey(), s.cfg.Encoding)
	if err != nil {
		t.fail(StageBuild, err)
		return
	}

	sig, err := s.ledger.Submit(ctx, []solana.Instruction{ix}, s.signer)
	if err != nil {
		if errors.Is(err, ledger.ErrSubmissionUnknown) {
			// may have been broadcast, the next tick resolves it by signature
			t.Signature = sig
			s.savePending(ctx, sig, state)
		}
		t.fail(StageSubmit, err)
		return
	}
	t.Submitted = true
	t.Signature = sig
	s.logger.Info("end round submitted", "signature", sig)
	s.savePending(ctx, sig, state)

	if err := s.ledger.Confirm(ctx, sig, s.cfg.ConfirmCommitment); err != nil {
		if !errors.Is(err, ledger.ErrConfirmationTimeout) {
			s.clearPending(ctx)
		} else {
			s.logger.Warn("end round outcome unknown, will re-check on next tick", "signature", sig)
		}
		t.fail(StageConfirm, err)
		return
	}
	s.clearPending(ctx)

	s.logger.Info("end round confirmed", "signature", sig, "commitment", s.cfg.ConfirmCommitment)
	s.report(ctx, t, sig, state.EndTime, len(state.Tickets), nil)
}

func (s *Service) savePending(ctx context.Context, sig solana.Signature, state *raffle.State) {
	action := pending.Action{
		Raffle:      s.cfg.RaffleAccount,
		Signature:   sig,
		RoundEnd:    state.EndTime,
		Tickets:     len(state.Tickets),
		SubmittedAt: s.clock(),
	}
	if err := s.pending.Save(ctx, action); err != nil {
		s.logger.Warn("failed to save pending action", "signature", sig, "err", err)
		return
	}
	s.metrics.SetPending(true)
}

func (s *Service) readState(ctx context.Context) (*raffle.State, Stage, error) {
	data, err := s.ledger.ReadAccount(ctx, s.cfg.RaffleAccount)
	if err != nil {
		return nil, StageRead, err
	}
	state, err := raffle.Decode(data)
	if err != nil {
		return nil, StageDecode, err
	}
	return state, "", nil
}

// resolvePending settles an end-round transaction left over from an earlier
// tick. It returns false when this tick must not go on to decide.
func (s *Service) resolvePending(ctx context.Context, t *Tick, state *raffle.State) bool {
	action, err := s.pending.Load(ctx, s.cfg.RaffleAccount)
	if errors.Is(err, pending.ErrNotFound) {
		s.metrics.SetPending(false)
		return true
	}
	if err != nil {
		s.logger.Warn("pending store unavailable, deciding from ledger state", "err", err)
		s.metrics.IncStageError(string(StageResolve))
		return true
	}

	t.Signature = action.Signature
	logger := s.logger.With("signature", action.Signature)

	status, err := s.ledger.SignatureStatus(ctx, action.Signature)
	if err != nil {
		if action.Expired(s.clock(), s.cfg.PendingTTL) {
			logger.Warn("pending action expired while status unavailable", "err", err)
			s.clearPending(ctx)
			return true
		}
		t.fail(StageResolve, err)
		return false
	}

	roundAdvanced := state.EndTime != action.RoundEnd
	expired := action.Expired(s.clock(), s.cfg.PendingTTL)

	switch {
	case status.Failed():
		logger.Warn("pending end round failed on chain", "tx_err", status.Err)
		s.clearPending(ctx)
		return true
	case status.Reached(s.cfg.ConfirmCommitment):
		logger.Info("pending end round confirmed", "slot", status.Slot)
		s.reportPending(ctx, t, action, state)
		return false
	case status != nil && expired && roundAdvanced:
		logger.Warn("pending end round landed but never reached commitment, reporting",
			"level", status.Level,
			"commitment", s.cfg.ConfirmCommitment,
		)
		s.reportPending(ctx, t, action, state)
		return false
	case status != nil && !expired:
		logger.Info("pending end round landed, waiting for commitment", "level", status.Level, "slot", status.Slot)
		return false
	case roundAdvanced:
		logger.Info("round advanced without a landed pending action", "pending_round_end", action.RoundEnd, "end_time", state.EndTime)
		s.clearPending(ctx)
		return true
	case expired:
		logger.Warn("pending action expired", "submitted_at", action.SubmittedAt)
		s.clearPending(ctx)
		return true
	default:
		logger.Info("end round still pending, skipping tick", "submitted_at", action.SubmittedAt)
		return false
	}
}

func (s *Service) reportPending(ctx context.Context, t *Tick, action *pending.Action, state *raffle.State) {
	s.clearPending(ctx)
	t.Submitted = true
	s.report(ctx, t, action.Signature, action.RoundEnd, action.Tickets, state)
}

func (s *Service) clearPending(ctx context.Context) {
	if err := s.pending.Clear(ctx, s.cfg.RaffleAccount); err != nil {
		s.logger.Warn("failed to clear pending action", "err", err)
		return
	}
	s.metrics.SetPending(false)
}

// report announces an ended round. tickets is the count before the round
// ended. post is read from the ledger when nil.
func (s *Service) report(ctx context.Context, t *Tick, sig solana.Signature, roundEnd uint64, tickets int, post *raffle.State) {
	t.Outcome = OutcomeEnded
	s.metrics.IncRoundEnded()

	if post == nil {
		var stage Stage
		var err error
		post, stage, err = s.readState(ctx)
		if err != nil {
			t.Stage = StageReport
			t.Err = fmt.Errorf("read post state (%s): %w", stage, err)
			return
		}
	}
	t.Post = post

	msg := notify.RoundEnded(post, tickets)
	if err := s.notifier.Publish(ctx, msg); err != nil {
		s.logger.Error("round notification failed", "stage", StageNotify, "signature", sig, "err", err)
		s.metrics.IncNotifyFailure()
	} else {
		t.Notified = true
		s.logger.Info("round ended",
			"signature", sig,
			"winner", winnerAttr(post),
			"jackpot_sol", notify.FormatSOL(post.Jackpot),
		)
	}

	if s.journal == nil {
		return
	}
	record := journal.RoundRecord{
		Raffle:          s.cfg.RaffleAccount.String(),
		Signature:       sig.String(),
		RoundEndTime:    roundEnd,
		Winner:          winnerAttr(post),
		JackpotLamports: post.Jackpot,
		TicketCount:     tickets,
		Notified:        t.Notified,
		EndedAt:         s.clock().Unix(),
	}
	if err := s.journal.RecordRound(ctx, record); err != nil {
		s.logger.Error("failed to record round", "stage", StageJournal, "signature", sig, "err", err)
		s.metrics.IncStageError(string(StageJournal))
	}
}

func winnerAttr(state *raffle.State) string {
	if !state.HasWinner() {
		return ""
	}
	return state.Winner.String()
}

func signatureAttr(sig solana.Signature) string {
	if sig == (solana.Signature{}) {
		return ""
	}
	return sig.String()
}
