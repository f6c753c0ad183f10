package ledger

import "github.com/gagliardetto/solana-go/rpc"

type Status struct {
	Slot  uint64
	Level rpc.ConfirmationStatusType
	Err   any
}

func (s *Status) Failed() bool {
	return s != nil && s.Err != nil
}

// Reached reports whether the status is at least as final as level.
func (s *Status) Reached(level rpc.CommitmentType) bool {
	if s == nil || s.Err != nil {
		return false
	}
	return commitmentRank(string(s.Level)) >= commitmentRank(string(level))
}

func commitmentRank(level string) int {
	switch level {
	case string(rpc.CommitmentProcessed):
		return 1
	case string(rpc.CommitmentConfirmed):
		return 2
	case string(rpc.CommitmentFinalized):
		return 3
	default:
		return 0
	}
}
