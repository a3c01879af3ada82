package ore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// AccountDiscriminator tags the first byte of every program-owned account.
type AccountDiscriminator uint8

const (
	DiscriminatorBus      AccountDiscriminator = 100
	DiscriminatorProof    AccountDiscriminator = 101
	DiscriminatorTreasury AccountDiscriminator = 102

	discriminatorSize = 8

	BusSize      = discriminatorSize + 16
	ProofSize    = discriminatorSize + 32 + 8 + 32 + 8 + 8
	TreasurySize = discriminatorSize + 8 + 32 + 32 + 8 + 8 + 8
)

// Bus is one reward shard.
type Bus struct {
	ID      uint64
	Rewards uint64
}

// Proof is the per-identity mining record.
type Proof struct {
	Authority        solana.PublicKey
	ClaimableRewards uint64
	Hash             [32]byte
	TotalHashes      uint64
	TotalRewards     uint64
}

// Treasury is the global emission record.
type Treasury struct {
	Bump                uint64
	Admin               solana.PublicKey
	Difficulty          [32]byte
	LastResetAt         int64
	RewardRate          uint64
	TotalClaimedRewards uint64
}

func decode(data []byte, want AccountDiscriminator, size int, out any) error {
	if len(data) < size {
		return fmt.Errorf("account data is %d bytes, want %d", len(data), size)
	}
	if got := AccountDiscriminator(data[0]); got != want {
		return fmt.Errorf("account discriminator %d, want %d", got, want)
	}
	return binary.Read(bytes.NewReader(data[discriminatorSize:size]), binary.LittleEndian, out)
}

// DecodeBus decodes a bus account.
func DecodeBus(data []byte) (*Bus, error) {
	var b Bus
	if err := decode(data, DiscriminatorBus, BusSize, &b); err != nil {
		return nil, fmt.Errorf("decode bus: %w", err)
	}
	return &b, nil
}

// DecodeProof decodes a proof account.
func DecodeProof(data []byte) (*Proof, error) {
	var p Proof
	if err := decode(data, DiscriminatorProof, ProofSize, &p); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return &p, nil
}

// DecodeTreasury decodes the treasury account.
func DecodeTreasury(data []byte) (*Treasury, error) {
	var t Treasury
	if err := decode(data, DiscriminatorTreasury, TreasurySize, &t); err != nil {
		return nil, fmt.Errorf("decode treasury: %w", err)
	}
	return &t, nil
}

func encode(d AccountDiscriminator, v any) []byte {
	var buf bytes.Buffer
	header := make([]byte, discriminatorSize)
	header[0] = byte(d)
	buf.Write(header)
	// binary.Write only fails on non-fixed-size values
	_ = binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// Encode serializes the bus into its on-chain layout.
func (b *Bus) Encode() []byte { return encode(DiscriminatorBus, b) }

// Encode serializes the proof into its on-chain layout.
func (p *Proof) Encode() []byte { return encode(DiscriminatorProof, p) }

// Encode serializes the treasury into its on-chain layout.
func (t *Treasury) Encode() []byte { return encode(DiscriminatorTreasury, t) }
