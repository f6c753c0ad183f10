package crank

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/coldbell/raffle/crank/internal/ledger"
	"github.com/coldbell/raffle/crank/internal/notify"
	"github.com/coldbell/raffle/crank/internal/pending"
	"github.com/coldbell/raffle/crank/internal/raffle"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	playerA = solana.NewWallet().PublicKey()
	playerB = solana.MustPublicKeyFromBase58("11111111111111111111111111111112")
)

func activeState() raffle.State {
	return raffle.State{
		Jackpot: 2_000_000_000,
		EndTime: uint64(testNow.Unix()) + 100,
		Tickets: []solana.PublicKey{playerA, playerB},
	}
}

func expiredState() raffle.State {
	return raffle.State{
		Jackpot: 5_000_000_000,
		EndTime: uint64(testNow.Unix()) - 1,
		Tickets: []solana.PublicKey{playerA, playerB},
	}
}

func endedState(winner solana.PublicKey, jackpot uint64) raffle.State {
	return raffle.State{
		Jackpot: jackpot,
		EndTime: uint64(testNow.Unix()) + 86_400,
		Winner:  winner,
	}
}

func TestTick_ActiveRaffleDoesNothing(t *testing.T) {
	h := newHarness(t, &FakeGateway{accounts: [][]byte{encodeState(t, activeState())}})

	tick := h.svc.Tick(context.Background())

	assert.Equal(t, OutcomeNone, tick.Outcome)
	assert.Equal(t, raffle.Active, tick.Decision)
	assert.NoError(t, tick.Err)
	assert.Zero(t, h.gateway.Submissions())
	assert.Empty(t, h.notifier.messages)
}

func TestTick_EndsExpiredRoundAndAnnouncesWinner(t *testing.T) {
	h := newHarness(t, &FakeGateway{accounts: [][]byte{
		encodeState(t, expiredState()),
		encodeState(t, endedState(playerB, 5_000_000_000)),
	}})

	tick := h.svc.Tick(context.Background())

	require.NoError(t, tick.Err)
	assert.Equal(t, OutcomeEnded, tick.Outcome)
	assert.Equal(t, raffle.Expired, tick.Decision)
	assert.True(t, tick.Submitted)
	assert.True(t, tick.Notified)

	require.Equal(t, 1, h.gateway.Submissions())
	ixs := h.gateway.submitted[0]
	require.Len(t, ixs, 1)
	assert.True(t, ixs[0].ProgramID().Equals(testProgram))

	require.Len(t, h.notifier.messages, 1)
	msg := h.notifier.messages[0]
	assert.Contains(t, msg.Text, "🏆 *Winner:* "+playerB.String())
	assert.Contains(t, msg.Text, "💰 *Jackpot:* 5 SOL")
	assert.Equal(t, notify.FormatMarkdown, msg.Format)

	_, err := h.pending.Load(context.Background(), testRaffle)
	require.ErrorIs(t, err, pending.ErrNotFound)

	require.Len(t, h.journal.rounds, 1)
	round := h.journal.rounds[0]
	assert.Equal(t, tick.Signature.String(), round.Signature)
	assert.Equal(t, playerB.String(), round.Winner)
	assert.Equal(t, expiredState().EndTime, round.RoundEndTime)
	assert.Equal(t, 2, round.TicketCount)
	assert.True(t, round.Notified)
	require.NotNil(t, msg.Round)
	assert.Equal(t, 2, msg.Round.Tickets)

	last, ok := h.svc.LastTick()
	require.True(t, ok)
	assert.Equal(t, OutcomeEnded, last.Outcome)
}

func TestTick_EndsRoundWithNoTicketsSold(t *testing.T) {
	expired := raffle.State{EndTime: uint64(testNow.Unix()) - 10}
	h := newHarness(t, &FakeGateway{accounts: [][]byte{
		encodeState(t, expired),
		encodeState(t, endedState(solana.PublicKey{}, 0)),
	}})

	tick := h.svc.Tick(context.Background())

	assert.Equal(t, OutcomeEnded, tick.Outcome)
	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0].Text, "No winner (No tickets sold)")
	assert.Contains(t, h.notifier.messages[0].Text, "*Jackpot:* 0 SOL")
}

func TestTick_EndTimeBoundaryIsExpired(t *testing.T) {
	state := expiredState()
	state.EndTime = uint64(testNow.Unix())
	h := newHarness(t, &FakeGateway{accounts: [][]byte{encodeState(t, state)}})

	tick := h.svc.Tick(context.Background())

	assert.Equal(t, raffle.Expired, tick.Decision)
	assert.Equal(t, 1, h.gateway.Submissions())
}

func TestTick_SubmitFailureSendsNothingAndNextTickRetries(t *testing.T) {
	gateway := &FakeGateway{
		accounts: [][]byte{
			encodeState(t, expiredState()),
			encodeState(t, expiredState()),
			encodeState(t, endedState(playerA, 5_000_000_000)),
		},
		submitErr: ledger.ErrSubmissionRejected,
	}
	h := newHarness(t, gateway)

	tick := h.svc.Tick(context.Background())

	assert.Equal(t, OutcomeError, tick.Outcome)
	assert.Equal(t, StageSubmit, tick.Stage)
	require.ErrorIs(t, tick.Err, ledger.ErrSubmissionRejected)
	assert.Empty(t, h.notifier.messages)
	assert.Empty(t, h.journal.rounds)

	_, err := h.pending.Load(context.Background(), testRaffle)
	require.ErrorIs(t, err, pending.ErrNotFound)

	gateway.submitErr = nil
	retry := h.svc.Tick(context.Background())

	require.NoError(t, retry.Err)
	assert.Equal(t, 3, gateway.Reads())
	assert.True(t, retry.Decided)
	assert.Equal(t, raffle.Expired, retry.Decision)
	assert.Equal(t, OutcomeEnded, retry.Outcome)
	assert.Equal(t, 1, gateway.Submissions())
	require.Len(t, h.notifier.messages, 1)
}

func TestTick_UnknownSubmissionIsResolvedBySignature(t *testing.T) {
	gateway := &FakeGateway{
		accounts: [][]byte{
			encodeState(t, expiredState()),
			encodeState(t, endedState(playerB, 5_000_000_000)),
		},
		submitErr: fmt.Errorf("%w: read tcp: i/o timeout", ledger.ErrSubmissionUnknown),
	}
	h := newHarness(t, gateway)

	first := h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeError, first.Outcome)
	assert.Equal(t, StageSubmit, first.Stage)
	require.ErrorIs(t, first.Err, ledger.ErrSubmissionUnknown)
	assert.False(t, first.Submitted)

	action, err := h.pending.Load(context.Background(), testRaffle)
	require.NoError(t, err)
	assert.Equal(t, first.Signature, action.Signature)
	assert.Equal(t, 2, action.Tickets)

	gateway.submitErr = nil
	gateway.statuses = map[solana.Signature]*ledger.Status{
		first.Signature: {Slot: 120, Level: rpc.ConfirmationStatusConfirmed},
	}

	second := h.svc.Tick(context.Background())
	require.NoError(t, second.Err)
	assert.Equal(t, OutcomeEnded, second.Outcome)
	assert.Equal(t, first.Signature, second.Signature)
	assert.Equal(t, 1, gateway.Submissions())
	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0].Text, playerB.String())
}

func TestTick_MalformedStateSubmitsNothing(t *testing.T) {
	h := newHarness(t, &FakeGateway{accounts: [][]byte{make([]byte, 40)}})

	tick := h.svc.Tick(context.Background())

	assert.Equal(t, OutcomeError, tick.Outcome)
	assert.Equal(t, StageDecode, tick.Stage)
	require.ErrorIs(t, tick.Err, raffle.ErrMalformedState)
	assert.Zero(t, h.gateway.Submissions())
	assert.Empty(t, h.notifier.messages)
}

func TestTick_AccountNotFoundThenNextTickReadsAgain(t *testing.T) {
	gateway := &FakeGateway{
		accounts: [][]byte{
			nil,
			encodeState(t, expiredState()),
			encodeState(t, endedState(playerA, 5_000_000_000)),
		},
		readErr: ledger.ErrAccountNotFound,
	}
	h := newHarness(t, gateway)

	tick := h.svc.Tick(context.Background())

	assert.Equal(t, OutcomeError, tick.Outcome)
	assert.Equal(t, StageRead, tick.Stage)
	require.ErrorIs(t, tick.Err, ledger.ErrAccountNotFound)
	assert.False(t, tick.Decided)
	assert.Zero(t, gateway.Submissions())

	gateway.readErr = nil
	retry := h.svc.Tick(context.Background())

	require.NoError(t, retry.Err)
	assert.True(t, retry.Decided)
	assert.Equal(t, raffle.Expired, retry.Decision)
	assert.Equal(t, OutcomeEnded, retry.Outcome)
	assert.Equal(t, 1, gateway.Submissions())
	assert.Equal(t, 3, gateway.Reads())
}

func TestTick_TransactionFailedClearsPending(t *testing.T) {
	h := newHarness(t, &FakeGateway{
		accounts:   [][]byte{encodeState(t, expiredState())},
		confirmErr: ledger.ErrTransactionFailed,
	})

	tick := h.svc.Tick(context.Background())

	assert.Equal(t, OutcomeError, tick.Outcome)
	assert.Equal(t, StageConfirm, tick.Stage)
	assert.Empty(t, h.notifier.messages)

	_, err := h.pending.Load(context.Background(), testRaffle)
	require.ErrorIs(t, err, pending.ErrNotFound)

	// the next tick is free to try again
	h.svc.Tick(context.Background())
	assert.Equal(t, 2, h.gateway.Submissions())
}

func TestTick_ConfirmTimeoutKeepsPendingAndDoesNotResubmit(t *testing.T) {
	gateway := &FakeGateway{
		accounts:   [][]byte{encodeState(t, expiredState())},
		confirmErr: ledger.ErrConfirmationTimeout,
	}
	h := newHarness(t, gateway)

	first := h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeError, first.Outcome)
	assert.Equal(t, StageConfirm, first.Stage)
	assert.Equal(t, 1, gateway.Submissions())

	action, err := h.pending.Load(context.Background(), testRaffle)
	require.NoError(t, err)
	assert.Equal(t, first.Signature, action.Signature)
	assert.Equal(t, expiredState().EndTime, action.RoundEnd)

	// signature still unknown to the cluster
	*h.clock = testNow.Add(time.Minute)
	second := h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeNone, second.Outcome)
	assert.NoError(t, second.Err)
	assert.False(t, second.Decided)
	assert.Equal(t, 1, gateway.Submissions())
	assert.Empty(t, h.notifier.messages)
}

func TestTick_PendingConfirmedIsReportedOnce(t *testing.T) {
	gateway := &FakeGateway{
		accounts: [][]byte{
			encodeState(t, expiredState()),
			encodeState(t, endedState(playerA, 3_500_000_000)),
		},
		confirmErr: ledger.ErrConfirmationTimeout,
	}
	h := newHarness(t, gateway)

	first := h.svc.Tick(context.Background())
	require.Equal(t, StageConfirm, first.Stage)

	gateway.statuses = map[solana.Signature]*ledger.Status{
		first.Signature: {Slot: 99, Level: rpc.ConfirmationStatusConfirmed},
	}

	second := h.svc.Tick(context.Background())
	require.NoError(t, second.Err)
	assert.Equal(t, OutcomeEnded, second.Outcome)
	assert.Equal(t, first.Signature, second.Signature)
	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0].Text, playerA.String())
	assert.Contains(t, h.notifier.messages[0].Text, "3.5 SOL")

	require.Len(t, h.journal.rounds, 1)
	assert.Equal(t, 2, h.journal.rounds[0].TicketCount)

	_, err := h.pending.Load(context.Background(), testRaffle)
	require.ErrorIs(t, err, pending.ErrNotFound)

	third := h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeNone, third.Outcome)
	assert.Len(t, h.notifier.messages, 1)
	assert.Equal(t, 1, gateway.Submissions())
}

func TestTick_PendingFailedOnChainIsRetried(t *testing.T) {
	gateway := &FakeGateway{
		accounts:   [][]byte{encodeState(t, expiredState())},
		confirmErr: ledger.ErrConfirmationTimeout,
	}
	h := newHarness(t, gateway)

	first := h.svc.Tick(context.Background())
	gateway.statuses = map[solana.Signature]*ledger.Status{
		first.Signature: {Slot: 99, Level: rpc.ConfirmationStatusConfirmed, Err: "InstructionError"},
	}
	gateway.confirmErr = nil

	second := h.svc.Tick(context.Background())
	assert.Equal(t, 2, gateway.Submissions())
	assert.Equal(t, OutcomeEnded, second.Outcome)
	assert.NotEqual(t, first.Signature, second.Signature)
}

func TestTick_PendingExpiresAfterTTL(t *testing.T) {
	gateway := &FakeGateway{
		accounts:   [][]byte{encodeState(t, expiredState())},
		confirmErr: ledger.ErrConfirmationTimeout,
	}
	h := newHarness(t, gateway)

	h.svc.Tick(context.Background())
	require.Equal(t, 1, gateway.Submissions())

	*h.clock = testNow.Add(3 * time.Minute)
	h.svc.Tick(context.Background())
	assert.Equal(t, 2, gateway.Submissions())
}

func TestTick_PendingSupersededByNewRound(t *testing.T) {
	gateway := &FakeGateway{
		accounts: [][]byte{
			encodeState(t, expiredState()),
			encodeState(t, activeState()),
		},
		confirmErr: ledger.ErrConfirmationTimeout,
	}
	h := newHarness(t, gateway)

	h.svc.Tick(context.Background())

	second := h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeNone, second.Outcome)
	assert.True(t, second.Decided)
	assert.Equal(t, raffle.Active, second.Decision)
	assert.Empty(t, h.notifier.messages)

	_, err := h.pending.Load(context.Background(), testRaffle)
	require.ErrorIs(t, err, pending.ErrNotFound)
}

func TestTick_PendingBelowCommitmentWaitsAfterRoundAdvanced(t *testing.T) {
	gateway := &FakeGateway{
		accounts: [][]byte{
			encodeState(t, expiredState()),
			encodeState(t, endedState(playerA, 5_000_000_000)),
		},
		confirmErr: ledger.ErrConfirmationTimeout,
	}
	h := newHarness(t, gateway, func(cfg *Config, _ *Deps) {
		cfg.ConfirmCommitment = rpc.CommitmentFinalized
	})

	first := h.svc.Tick(context.Background())
	require.Equal(t, StageConfirm, first.Stage)

	gateway.statuses = map[solana.Signature]*ledger.Status{
		first.Signature: {Slot: 99, Level: rpc.ConfirmationStatusConfirmed},
	}
	second := h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeNone, second.Outcome)
	assert.False(t, second.Decided)
	assert.Empty(t, h.notifier.messages)

	_, err := h.pending.Load(context.Background(), testRaffle)
	require.NoError(t, err)

	gateway.statuses[first.Signature] = &ledger.Status{Slot: 99, Level: rpc.ConfirmationStatusFinalized}
	third := h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeEnded, third.Outcome)
	assert.Equal(t, first.Signature, third.Signature)
	assert.Equal(t, 1, gateway.Submissions())
	require.Len(t, h.notifier.messages, 1)
	require.Len(t, h.journal.rounds, 1)
	assert.Equal(t, 2, h.journal.rounds[0].TicketCount)
}

func TestTick_PendingBelowCommitmentIsReportedWhenExpired(t *testing.T) {
	gateway := &FakeGateway{
		accounts: [][]byte{
			encodeState(t, expiredState()),
			encodeState(t, endedState(playerA, 5_000_000_000)),
		},
		confirmErr: ledger.ErrConfirmationTimeout,
	}
	h := newHarness(t, gateway, func(cfg *Config, _ *Deps) {
		cfg.ConfirmCommitment = rpc.CommitmentFinalized
	})

	first := h.svc.Tick(context.Background())
	gateway.statuses = map[solana.Signature]*ledger.Status{
		first.Signature: {Slot: 99, Level: rpc.ConfirmationStatusConfirmed},
	}

	*h.clock = testNow.Add(3 * time.Minute)
	second := h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeEnded, second.Outcome)
	assert.Equal(t, 1, gateway.Submissions())
	require.Len(t, h.notifier.messages, 1)

	_, err := h.pending.Load(context.Background(), testRaffle)
	require.ErrorIs(t, err, pending.ErrNotFound)
}

func TestTick_NotifyFailureStillEndsRound(t *testing.T) {
	h := newHarness(t, &FakeGateway{accounts: [][]byte{
		encodeState(t, expiredState()),
		encodeState(t, endedState(playerA, 1)),
	}})
	h.notifier.err = notify.ErrDeliveryFailed

	tick := h.svc.Tick(context.Background())

	assert.Equal(t, OutcomeEnded, tick.Outcome)
	assert.False(t, tick.Notified)
	assert.NoError(t, tick.Err)
	require.Len(t, h.journal.rounds, 1)
	assert.False(t, h.journal.rounds[0].Notified)
}

func TestTick_JournalFailureDoesNotFailTick(t *testing.T) {
	h := newHarness(t, &FakeGateway{accounts: [][]byte{
		encodeState(t, expiredState()),
		encodeState(t, endedState(playerA, 1)),
	}})
	h.journal.err = errBoom

	tick := h.svc.Tick(context.Background())

	assert.Equal(t, OutcomeEnded, tick.Outcome)
	assert.True(t, tick.Notified)
}

func TestTick_WithoutJournal(t *testing.T) {
	h := newHarness(t, &FakeGateway{accounts: [][]byte{
		encodeState(t, expiredState()),
		encodeState(t, endedState(playerA, 1)),
	}}, func(_ *Config, deps *Deps) {
		deps.Journal = nil
	})

	tick := h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeEnded, tick.Outcome)
}

func TestTick_PendingStoreUnavailableStillDecides(t *testing.T) {
	h := newHarness(t, &FakeGateway{accounts: [][]byte{encodeState(t, activeState())}}, func(_ *Config, deps *Deps) {
		deps.Pending = &FakePendingStore{err: errBoom}
	})

	tick := h.svc.Tick(context.Background())
	assert.True(t, tick.Decided)
	assert.Equal(t, OutcomeNone, tick.Outcome)
}

func TestTick_OverlappingTickIsRejected(t *testing.T) {
	gateway := &FakeGateway{
		accounts:       [][]byte{encodeState(t, expiredState())},
		confirmEntered: make(chan struct{}),
		confirmRelease: make(chan struct{}),
	}
	h := newHarness(t, gateway)

	done := make(chan Tick, 1)
	go func() {
		done <- h.svc.Tick(context.Background())
	}()
	<-gateway.confirmEntered

	readsBefore := gateway.Reads()
	overlapped := h.svc.Tick(context.Background())
	assert.True(t, overlapped.Overlapped)
	assert.Equal(t, OutcomeNone, overlapped.Outcome)
	assert.Equal(t, readsBefore, gateway.Reads())

	close(gateway.confirmRelease)
	first := <-done
	assert.False(t, first.Overlapped)
	assert.Equal(t, OutcomeEnded, first.Outcome)
	assert.Equal(t, 1, gateway.Submissions())
}

func TestTick_RecoversFromPanic(t *testing.T) {
	gateway := &FakeGateway{
		accounts: [][]byte{encodeState(t, activeState())},
		readHook: func() { panic("rpc client exploded") },
	}
	h := newHarness(t, gateway)

	tick := h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeError, tick.Outcome)
	assert.Equal(t, StagePanic, tick.Stage)

	gateway.mu.Lock()
	gateway.readHook = nil
	gateway.mu.Unlock()

	tick = h.svc.Tick(context.Background())
	assert.Equal(t, OutcomeNone, tick.Outcome)
}

func TestRun_TicksImmediatelyAndStops(t *testing.T) {
	gateway := &FakeGateway{accounts: [][]byte{encodeState(t, activeState())}}
	h := newHarness(t, gateway, func(cfg *Config, _ *Deps) {
		cfg.PollInterval = time.Hour
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.svc.Run(ctx)
	}()

	require.Eventually(t, func() bool { return gateway.Reads() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	signer := solana.NewWallet().PrivateKey

	_, err := New(Config{}, signer, Deps{}, nil)
	require.Error(t, err)

	_, err = New(Config{}, nil, Deps{Ledger: &FakeGateway{}, Notifier: &FakeNotifier{}}, nil)
	require.Error(t, err)
}
