package crank

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coldbell/raffle/crank/internal/journal"
	"github.com/coldbell/raffle/crank/internal/ledger"
	"github.com/coldbell/raffle/crank/internal/metrics"
	"github.com/coldbell/raffle/crank/internal/notify"
	"github.com/coldbell/raffle/crank/internal/pending"
	"github.com/coldbell/raffle/crank/internal/raffle"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var (
	testProgram = solana.MustPublicKeyFromBase58("87JSCiht1TyXmT1yHbYZpKGtgJRhKzBYyFrmENvAogef")
	testRaffle  = solana.MustPublicKeyFromBase58("3Qik6y2XjCymmam65y1s8Tm4MATUpaH18TKDa6TSvexv")
	testNow     = time.Unix(1_700_000_000, 0)
)

type FakeGateway struct {
	mu sync.Mutex

	// accounts are served in order; the last one repeats
	accounts [][]byte
	reads    int
	readErr  error
	readHook func()

	now time.Time

	submitErr error
	submitted [][]solana.Instruction
	nextSig   byte

	confirmErr     error
	confirmEntered chan struct{}
	confirmRelease chan struct{}

	statuses  map[solana.Signature]*ledger.Status
	statusErr error
}

func (f *FakeGateway) ReadAccount(_ context.Context, _ solana.PublicKey) ([]byte, error) {
	f.mu.Lock()
	hook := f.readHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	idx := f.reads - 1
	if idx >= len(f.accounts) {
		idx = len(f.accounts) - 1
	}
	return f.accounts[idx], nil
}

func (f *FakeGateway) Submit(_ context.Context, instructions []solana.Instruction, _ ...solana.PrivateKey) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil && !errors.Is(f.submitErr, ledger.ErrSubmissionUnknown) {
		return solana.Signature{}, f.submitErr
	}
	f.submitted = append(f.submitted, instructions)
	f.nextSig++
	return solana.Signature{f.nextSig}, f.submitErr
}

func (f *FakeGateway) Confirm(ctx context.Context, _ solana.Signature, _ rpc.CommitmentType) error {
	if f.confirmEntered != nil {
		close(f.confirmEntered)
	}
	if f.confirmRelease != nil {
		select {
		case <-f.confirmRelease:
		case <-ctx.Done():
			return ledger.ErrConfirmationTimeout
		}
	}
	return f.confirmErr
}

func (f *FakeGateway) SignatureStatus(_ context.Context, sig solana.Signature) (*ledger.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statuses[sig], nil
}

func (f *FakeGateway) Now(_ context.Context) time.Time {
	return f.now
}

func (f *FakeGateway) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *FakeGateway) Submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}

type FakeNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
	err      error
}

func (f *FakeNotifier) Publish(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return f.err
}

type FakeJournal struct {
	rounds []journal.RoundRecord
	err    error
}

func (f *FakeJournal) RecordRound(_ context.Context, round journal.RoundRecord) error {
	f.rounds = append(f.rounds, round)
	return f.err
}

type FakePendingStore struct {
	err error
}

func (f *FakePendingStore) Load(context.Context, solana.PublicKey) (*pending.Action, error) {
	return nil, f.err
}

func (f *FakePendingStore) Save(context.Context, pending.Action) error {
	return f.err
}

func (f *FakePendingStore) Clear(context.Context, solana.PublicKey) error {
	return f.err
}

var errBoom = errors.New("boom")

func encodeState(t *testing.T, state raffle.State) []byte {
	t.Helper()
	data, err := state.Encode()
	require.NoError(t, err)
	return data
}

type harness struct {
	svc      *Service
	gateway  *FakeGateway
	notifier *FakeNotifier
	pending  pending.Store
	journal  *FakeJournal
	clock    *time.Time
}

func newHarness(t *testing.T, gateway *FakeGateway, opts ...func(*Config, *Deps)) *harness {
	t.Helper()

	if gateway.now.IsZero() {
		gateway.now = testNow
	}
	clock := testNow
	h := &harness{
		gateway:  gateway,
		notifier: &FakeNotifier{},
		pending:  pending.NewMemoryStore(),
		journal:  &FakeJournal{},
		clock:    &clock,
	}

	cfg := Config{
		ProgramID:         testProgram,
		RaffleAccount:     testRaffle,
		Encoding:          raffle.EncodingAnchor,
		PollInterval:      time.Minute,
		TickTimeout:       5 * time.Second,
		ConfirmCommitment: rpc.CommitmentConfirmed,
		PendingTTL:        2 * time.Minute,
	}
	deps := Deps{
		Ledger:   gateway,
		Notifier: h.notifier,
		Pending:  h.pending,
		Journal:  h.journal,
		Metrics:  metrics.NewCrankMetrics("test", prometheus.NewRegistry()),
		Clock:    func() time.Time { return *h.clock },
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	signer := solana.NewWallet().PrivateKey
	svc, err := New(cfg, signer, deps, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	h.svc = svc
	return h
}
