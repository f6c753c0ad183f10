package raffle

import "github.com/gagliardetto/solana-go"

var raffleSeed = []byte("raffle")

func DeriveRafflePDA(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{raffleSeed}, programID)
}

// IsCanonicalAccount reports whether account is the program's fixed-seed raffle PDA.
func IsCanonicalAccount(programID, account solana.PublicKey) (bool, error) {
	pda, _, err := DeriveRafflePDA(programID)
	if err != nil {
		return false, err
	}
	return pda.Equals(account), nil
}
