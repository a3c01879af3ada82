// Package ore holds the on-chain program constants, account addresses, record
// layouts and instruction encoders of the ORE proof-of-work program.
package ore

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const (
	// BusCount is the number of reward buses the program shards emissions over.
	BusCount = 8

	// TokenDecimals is the mint precision of ORE.
	TokenDecimals = 9

	// Compute unit budgets per instruction, scaled by the number of signers batched.
	CULimitRegister uint32 = 7660
	CULimitMine     uint32 = 3200
	CULimitClaim    uint32 = 11000
	CULimitATA      uint32 = 24000

	busSeed      = "bus"
	proofSeed    = "proof"
	treasurySeed = "treasury"
)

var (
	// ProgramID is the ORE program.
	ProgramID = solana.MustPublicKeyFromBase58("mineRHF5r6S7HyD9SppBfVMXMavDkJsxwGesEvxZr2A")

	// MintAddress is the ORE token mint.
	MintAddress = solana.MustPublicKeyFromBase58("oreoN2tQbHXVaZsr3pf66A48miqcBXCDJozganhEJgz")

	// TreasuryAddress is the global treasury PDA.
	TreasuryAddress solana.PublicKey

	// BusAddresses are the bus PDAs indexed by bus id.
	BusAddresses [BusCount]solana.PublicKey
)

func init() {
	var err error
	TreasuryAddress, _, err = solana.FindProgramAddress([][]byte{[]byte(treasurySeed)}, ProgramID)
	if err != nil {
		panic(fmt.Sprintf("ore: derive treasury address: %v", err))
	}
	for i := range BusAddresses {
		BusAddresses[i], _, err = solana.FindProgramAddress([][]byte{[]byte(busSeed), {byte(i)}}, ProgramID)
		if err != nil {
			panic(fmt.Sprintf("ore: derive bus %d address: %v", i, err))
		}
	}
}

// ProofAddress returns the proof PDA of authority and its bump seed.
func ProofAddress(authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(proofSeed), authority.Bytes()}, ProgramID)
}

// TreasuryTokensAddress returns the treasury's associated token account.
func TreasuryTokensAddress() (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(TreasuryAddress, MintAddress)
	return addr, err
}

// ValidBusID reports whether id addresses one of the buses.
func ValidBusID(id int) bool {
	return id >= 0 && id < BusCount
}

// FormatAmount renders a base-unit amount in whole ORE.
func FormatAmount(amount uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -TokenDecimals).String()
}
