package raffle

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const (
	// LamportsPerSOL is the fixed scale between the jackpot unit and its display unit.
	LamportsPerSOL = uint64(1_000_000_000)

	headerSize = 8 + 8 + solana.PublicKeyLength + 4
)

var ErrMalformedState = errors.New("malformed raffle state")

// State is the decoded raffle account:
// [jackpot u64][end_time u64][winner pubkey][ticket_count u32][ticket_count x pubkey], little-endian.
type State struct {
	Jackpot uint64
	EndTime uint64
	Winner  solana.PublicKey
	Tickets []solana.PublicKey
}

func (s *State) HasWinner() bool {
	return !s.Winner.IsZero()
}

// Size is the number of bytes the encoded state occupies.
func (s *State) Size() int {
	return headerSize + len(s.Tickets)*solana.PublicKeyLength
}

func Decode(data []byte) (*State, error) {
	dec := bin.NewBorshDecoder(data)

	jackpot, err := readU64(dec, "jackpot")
	if err != nil {
		return nil, err
	}
	endTime, err := readU64(dec, "end_time")
	if err != nil {
		return nil, err
	}
	winner, err := readPubkey(dec, "winner")
	if err != nil {
		return nil, err
	}

	if dec.Remaining() < 4 {
		return nil, fmt.Errorf("%w: truncated ticket count at offset %d", ErrMalformedState, dec.Position())
	}
	count, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: read ticket count: %v", ErrMalformedState, err)
	}

	need := uint64(count) * solana.PublicKeyLength
	if uint64(dec.Remaining()) < need {
		return nil, fmt.Errorf("%w: ticket count %d needs %d bytes, %d remain", ErrMalformedState, count, need, dec.Remaining())
	}

	tickets := make([]solana.PublicKey, count)
	for i := range tickets {
		ticket, err := readPubkey(dec, "ticket")
		if err != nil {
			return nil, fmt.Errorf("ticket %d: %w", i, err)
		}
		tickets[i] = ticket
	}

	return &State{
		Jackpot: jackpot,
		EndTime: endTime,
		Winner:  winner,
		Tickets: tickets,
	}, nil
}

func (s *State) Encode() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, s.Size()))
	enc := bin.NewBorshEncoder(buf)

	if err := enc.WriteUint64(s.Jackpot, bin.LE); err != nil {
		return nil, fmt.Errorf("encode jackpot: %w", err)
	}
	if err := enc.WriteUint64(s.EndTime, bin.LE); err != nil {
		return nil, fmt.Errorf("encode end_time: %w", err)
	}
	if err := enc.WriteBytes(s.Winner[:], false); err != nil {
		return nil, fmt.Errorf("encode winner: %w", err)
	}
	if err := enc.WriteUint32(uint32(len(s.Tickets)), bin.LE); err != nil {
		return nil, fmt.Errorf("encode ticket count: %w", err)
	}
	for i, ticket := range s.Tickets {
		if err := enc.WriteBytes(ticket[:], false); err != nil {
			return nil, fmt.Errorf("encode ticket %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

func readU64(dec *bin.Decoder, field string) (uint64, error) {
	if dec.Remaining() < 8 {
		return 0, fmt.Errorf("%w: truncated %s at offset %d", ErrMalformedState, field, dec.Position())
	}
	value, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrMalformedState, field, err)
	}
	return value, nil
}

func readPubkey(dec *bin.Decoder, field string) (solana.PublicKey, error) {
	if dec.Remaining() < solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("%w: truncated %s at offset %d", ErrMalformedState, field, dec.Position())
	}
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: read %s: %v", ErrMalformedState, field, err)
	}
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("%w: %s is %d bytes", ErrMalformedState, field, len(raw))
	}
	return solana.PublicKeyFromBytes(raw), nil
}
