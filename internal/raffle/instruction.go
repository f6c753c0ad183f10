package raffle

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// InstructionKind tags the raffle program instructions this service can emit.
type InstructionKind uint8

const (
	KindEndRound InstructionKind = iota + 1
)

func (k InstructionKind) String() string {
	switch k {
	case KindEndRound:
		return "end_round"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// PayloadEncoding selects how an instruction kind is laid out on the wire.
type PayloadEncoding string

const (
	// EncodingAnchor prefixes the payload with the 8-byte Anchor method discriminator.
	EncodingAnchor PayloadEncoding = "anchor"
	// EncodingEmpty sends no instruction data at all.
	EncodingEmpty PayloadEncoding = "empty"
)

var anchorMethods = map[InstructionKind]string{
	KindEndRound: "select_winner",
}

func ParsePayloadEncoding(raw string) (PayloadEncoding, error) {
	switch PayloadEncoding(strings.ToLower(strings.TrimSpace(raw))) {
	case "", EncodingAnchor:
		return EncodingAnchor, nil
	case EncodingEmpty:
		return EncodingEmpty, nil
	default:
		return "", fmt.Errorf("unknown payload encoding %q (expected anchor|empty)", raw)
	}
}

type Payload struct {
	Kind     InstructionKind
	Encoding PayloadEncoding
}

func (p Payload) MarshalWithEncoder(enc *bin.Encoder) error {
	method, ok := anchorMethods[p.Kind]
	if !ok {
		return fmt.Errorf("unsupported instruction kind %s", p.Kind)
	}

	switch p.Encoding {
	case EncodingEmpty:
		return nil
	case EncodingAnchor, "":
		disc := anchorInstructionDiscriminator(method)
		return enc.WriteBytes(disc[:], false)
	default:
		return fmt.Errorf("unsupported payload encoding %q", p.Encoding)
	}
}

func (p Payload) Bytes() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := p.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildEndRoundInstruction addresses the raffle program with the raffle account
// (writable) and the payer (signer). It does not look at raffle state.
func BuildEndRoundInstruction(
	programID solana.PublicKey,
	raffleAccount solana.PublicKey,
	payer solana.PublicKey,
	encoding PayloadEncoding,
) (solana.Instruction, error) {
	data, err := Payload{Kind: KindEndRound, Encoding: encoding}.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", KindEndRound, err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(raffleAccount, true, false),
		solana.NewAccountMeta(payer, false, true),
	}

	return solana.NewInstruction(programID, accounts, data), nil
}

func anchorInstructionDiscriminator(ixName string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + ixName))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}
