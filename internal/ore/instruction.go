package ore

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// InstructionKind is the leading discriminator byte of program instruction data.
type InstructionKind uint8

const (
	InstructionReset    InstructionKind = 0
	InstructionRegister InstructionKind = 1
	InstructionMine     InstructionKind = 2
	InstructionClaim    InstructionKind = 3
)

// String returns the instruction name
func (k InstructionKind) String() string {
	switch k {
	case InstructionReset:
		return "reset"
	case InstructionRegister:
		return "register"
	case InstructionMine:
		return "mine"
	case InstructionClaim:
		return "claim"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// NewRegisterInstruction opens a proof account for signer.
func NewRegisterInstruction(signer solana.PublicKey) (solana.Instruction, error) {
	proof, bump, err := ProofAddress(signer)
	if err != nil {
		return nil, fmt.Errorf("derive proof address: %w", err)
	}
	return solana.NewInstruction(
		ProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(signer, true, true),
			solana.NewAccountMeta(proof, true, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
		},
		[]byte{byte(InstructionRegister), bump},
	), nil
}

// NewMineInstruction submits hash and nonce for signer against bus.
func NewMineInstruction(signer, bus solana.PublicKey, hash [32]byte, nonce uint64) (solana.Instruction, error) {
	proof, _, err := ProofAddress(signer)
	if err != nil {
		return nil, fmt.Errorf("derive proof address: %w", err)
	}
	data := make([]byte, 1+32+8)
	data[0] = byte(InstructionMine)
	copy(data[1:33], hash[:])
	binary.LittleEndian.PutUint64(data[33:], nonce)

	return solana.NewInstruction(
		ProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(signer, true, true),
			solana.NewAccountMeta(bus, true, false),
			solana.NewAccountMeta(proof, true, false),
			solana.NewAccountMeta(TreasuryAddress, false, false),
			solana.NewAccountMeta(solana.SysVarSlotHashesPubkey, false, false),
		},
		data,
	), nil
}

// NewClaimInstruction moves amount of signer's claimable rewards to beneficiary.
func NewClaimInstruction(signer, beneficiary solana.PublicKey, amount uint64) (solana.Instruction, error) {
	proof, _, err := ProofAddress(signer)
	if err != nil {
		return nil, fmt.Errorf("derive proof address: %w", err)
	}
	treasuryTokens, err := TreasuryTokensAddress()
	if err != nil {
		return nil, fmt.Errorf("derive treasury tokens address: %w", err)
	}
	data := make([]byte, 1+8)
	data[0] = byte(InstructionClaim)
	binary.LittleEndian.PutUint64(data[1:], amount)

	return solana.NewInstruction(
		ProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(signer, true, true),
			solana.NewAccountMeta(beneficiary, true, false),
			solana.NewAccountMeta(proof, true, false),
			solana.NewAccountMeta(TreasuryAddress, false, false),
			solana.NewAccountMeta(treasuryTokens, true, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
		},
		data,
	), nil
}

// KindOf reports the program instruction kind of ix, or false when ix
// targets another program.
func KindOf(ix solana.Instruction) (InstructionKind, bool) {
	if !ix.ProgramID().Equals(ProgramID) {
		return 0, false
	}
	data, err := ix.Data()
	if err != nil || len(data) == 0 {
		return 0, false
	}
	return InstructionKind(data[0]), true
}
