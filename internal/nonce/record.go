package nonce

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// AccountSize is the size of a system-program nonce account.
const AccountSize = 80

// State values of a nonce account.
const (
	StateUninitialized uint32 = 0
	StateInitialized   uint32 = 1
)

// Record is the decoded content of a nonce account.
type Record struct {
	Version              uint32
	State                uint32
	Authority            solana.PublicKey
	Value                solana.Hash
	LamportsPerSignature uint64
}

// DecodeRecord parses nonce account data. Uninitialized accounts are rejected.
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < AccountSize {
		return nil, fmt.Errorf("nonce account is %d bytes, want %d", len(data), AccountSize)
	}

	r := &Record{
		Version:              binary.LittleEndian.Uint32(data[0:4]),
		State:                binary.LittleEndian.Uint32(data[4:8]),
		LamportsPerSignature: binary.LittleEndian.Uint64(data[72:80]),
	}
	copy(r.Authority[:], data[8:40])
	copy(r.Value[:], data[40:72])

	if r.State != StateInitialized {
		return nil, fmt.Errorf("nonce account state %d is not initialized", r.State)
	}
	return r, nil
}

// Encode serializes the record into the on-chain layout.
func (r *Record) Encode() []byte {
	data := make([]byte, AccountSize)
	binary.LittleEndian.PutUint32(data[0:4], r.Version)
	binary.LittleEndian.PutUint32(data[4:8], r.State)
	copy(data[8:40], r.Authority[:])
	copy(data[40:72], r.Value[:])
	binary.LittleEndian.PutUint64(data[72:80], r.LamportsPerSignature)
	return data
}
