package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrSubmissionRejected  = errors.New("transaction submission rejected")
	ErrSubmissionUnknown   = errors.New("transaction submission outcome unknown")
	ErrConfirmationTimeout = errors.New("transaction confirmation timed out")
	ErrTransactionFailed   = errors.New("transaction failed on chain")
)

const defaultConfirmPollInterval = 700 * time.Millisecond

// Gateway is the ledger surface the crank needs. Implementations must not
// retry submissions; resubmitting is the caller's decision. Submit returns
// the signature alongside ErrSubmissionUnknown since the transaction may
// have been broadcast.
type Gateway interface {
	ReadAccount(ctx context.Context, address solana.PublicKey) ([]byte, error)
	Submit(ctx context.Context, instructions []solana.Instruction, signers ...solana.PrivateKey) (solana.Signature, error)
	Confirm(ctx context.Context, signature solana.Signature, level rpc.CommitmentType) error
	SignatureStatus(ctx context.Context, signature solana.Signature) (*Status, error)
	Now(ctx context.Context) time.Time
}

// Client is the subset of *rpc.Client used by RPCGateway.
type Client interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetBlockTime(ctx context.Context, block uint64) (*solana.UnixTimeSeconds, error)
}

type Options struct {
	Commitment                    rpc.CommitmentType
	SkipPreflight                 bool
	MaxRetries                    *uint
	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64
	ConfirmTimeout                time.Duration
	ConfirmPollInterval           time.Duration
	UseClusterClock               bool
	// LocalClock backs Now when the cluster clock is disabled or unavailable.
	LocalClock func() time.Time
}

type RPCGateway struct {
	rpc    Client
	opts   Options
	logger *slog.Logger
}

func NewRPCGateway(client Client, opts Options, logger *slog.Logger) *RPCGateway {
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 30 * time.Second
	}
	if opts.ConfirmPollInterval <= 0 {
		opts.ConfirmPollInterval = defaultConfirmPollInterval
	}
	if opts.LocalClock == nil {
		opts.LocalClock = time.Now
	}
	return &RPCGateway{
		rpc:    client,
		opts:   opts,
		logger: logger,
	}
}

func (g *RPCGateway) ReadAccount(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	resp, err := g.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{Commitment: g.opts.Commitment})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
		}
		return nil, fmt.Errorf("fetch account %s: %w", address, err)
	}
	if resp == nil || resp.Value == nil || resp.Value.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return resp.Value.Data.GetBinary(), nil
}

// Submit signs and sends instructions with the first signer as fee payer.
// ErrSubmissionRejected means nothing was accepted. A transport failure while
// sending yields ErrSubmissionUnknown with the transaction signature.
func (g *RPCGateway) Submit(ctx context.Context, instructions []solana.Instruction, signers ...solana.PrivateKey) (solana.Signature, error) {
	if len(signers) == 0 {
		return solana.Signature{}, fmt.Errorf("%w: no signer", ErrSubmissionRejected)
	}
	payer := signers[0].PublicKey()

	budget, err := g.computeBudgetInstructions()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
	}
	all := append(budget, instructions...)

	recent, err := g.rpc.GetLatestBlockhash(ctx, g.opts.Commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: get latest blockhash: %v", ErrSubmissionRejected, err)
	}
	if recent == nil || recent.Value == nil {
		return solana.Signature{}, fmt.Errorf("%w: empty latest blockhash response", ErrSubmissionRejected)
	}

	tx, err := solana.NewTransaction(all, recent.Value.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: build transaction: %v", ErrSubmissionRejected, err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: sign transaction: %v", ErrSubmissionRejected, err)
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       g.opts.SkipPreflight,
		PreflightCommitment: g.opts.Commitment,
	}
	if g.opts.MaxRetries != nil {
		retries := *g.opts.MaxRetries
		opts.MaxRetries = &retries
	}

	sig, err := g.rpc.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		if sendRejected(err) {
			return solana.Signature{}, fmt.Errorf("%w: %v", ErrSubmissionRejected, err)
		}
		return tx.Signatures[0], fmt.Errorf("%w: %s: %v", ErrSubmissionUnknown, tx.Signatures[0], err)
	}
	return sig, nil
}

// sendRejected reports whether the node answered the send with an error.
func sendRejected(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		return true
	}
	var httpErr *jsonrpc.HTTPError
	return errors.As(err, &httpErr)
}

func (g *RPCGateway) computeBudgetInstructions() ([]solana.Instruction, error) {
	instructions := make([]solana.Instruction, 0, 2)
	if g.opts.ComputeUnitLimit > 0 {
		cuLimitIx, err := computebudget.NewSetComputeUnitLimitInstruction(g.opts.ComputeUnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		instructions = append(instructions, cuLimitIx)
	}
	if g.opts.ComputeUnitPriceMicroLamports > 0 {
		cuPriceIx, err := computebudget.NewSetComputeUnitPriceInstruction(g.opts.ComputeUnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		instructions = append(instructions, cuPriceIx)
	}
	return instructions, nil
}

// Confirm polls the signature until it reaches level. It gives up after the
// configured confirm timeout or when ctx ends; in both cases the outcome is unknown.
func (g *RPCGateway) Confirm(ctx context.Context, signature solana.Signature, level rpc.CommitmentType) error {
	confirmCtx, cancel := context.WithTimeout(ctx, g.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(g.opts.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-confirmCtx.Done():
			return fmt.Errorf("%w: %s not %s: %v", ErrConfirmationTimeout, signature, level, confirmCtx.Err())
		case <-ticker.C:
			status, err := g.SignatureStatus(confirmCtx, signature)
			if err != nil {
				g.logger.Debug("signature status lookup failed", "signature", signature, "err", err)
				continue
			}
			if status == nil {
				continue
			}
			if status.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, signature, status.Err)
			}
			if status.Reached(level) {
				return nil
			}
		}
	}
}

// SignatureStatus returns nil without error when the cluster does not know the signature.
func (g *RPCGateway) SignatureStatus(ctx context.Context, signature solana.Signature) (*Status, error) {
	result, err := g.rpc.GetSignatureStatuses(ctx, true, signature)
	if err != nil {
		return nil, fmt.Errorf("get signature status %s: %w", signature, err)
	}
	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		return nil, nil
	}
	value := result.Value[0]
	return &Status{
		Slot:  value.Slot,
		Level: value.ConfirmationStatus,
		Err:   value.Err,
	}, nil
}

// Now prefers the block time of the latest slot, since that is the clock the
// program compares end_time against.
func (g *RPCGateway) Now(ctx context.Context) time.Time {
	if !g.opts.UseClusterClock {
		return g.opts.LocalClock()
	}

	slot, err := g.rpc.GetSlot(ctx, g.opts.Commitment)
	if err != nil {
		g.logger.Warn("using local clock because getSlot failed", "err", err)
		return g.opts.LocalClock()
	}

	blockTime, err := g.rpc.GetBlockTime(ctx, slot)
	if err != nil || blockTime == nil {
		g.logger.Warn("using local clock because getBlockTime unavailable", "slot", slot, "err", err)
		return g.opts.LocalClock()
	}

	return time.Unix(int64(*blockTime), 0)
}
