// Package state reads and decodes the program records a mining cycle needs.
// Every call is a single round trip; nothing is cached between cycles.
package state

import (
	"context"
	stderrors "errors"

	"github.com/gagliardetto/solana-go"

	"github.com/bardlex/goore/internal/chain"
	"github.com/bardlex/goore/internal/ore"
	"github.com/bardlex/goore/pkg/errors"
)

// Reader fetches proof, treasury and bus records.
type Reader struct {
	client chain.Client
}

// NewReader creates a Reader over client.
func NewReader(client chain.Client) *Reader {
	return &Reader{client: client}
}

// GetProof returns the proof record of identity. A missing or undecodable
// account is reported as ErrorTypeNotRegistered.
func (r *Reader) GetProof(ctx context.Context, identity solana.PublicKey) (*ore.Proof, error) {
	addr, _, err := ore.ProofAddress(identity)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "get_proof", "failed to derive proof address")
	}

	acct, err := r.client.GetAccount(ctx, addr)
	if stderrors.Is(err, chain.ErrAccountNotFound) {
		return nil, errors.New(errors.ErrorTypeNotRegistered, "get_proof", "proof account does not exist").
			WithContext("identity", identity.String())
	}
	if err != nil {
		return nil, err
	}

	proof, err := ore.DecodeProof(acct.Data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNotRegistered, "get_proof", "proof account is not decodable").
			WithContext("identity", identity.String())
	}
	return proof, nil
}

// IsRegistered reports whether identity has a proof account. Read failures
// other than absence are returned.
func (r *Reader) IsRegistered(ctx context.Context, identity solana.PublicKey) (bool, error) {
	_, err := r.GetProof(ctx, identity)
	switch {
	case err == nil:
		return true, nil
	case errors.IsType(err, errors.ErrorTypeNotRegistered):
		return false, nil
	default:
		return false, err
	}
}

// GetTreasury returns the global treasury record.
func (r *Reader) GetTreasury(ctx context.Context) (*ore.Treasury, error) {
	acct, err := r.client.GetAccount(ctx, ore.TreasuryAddress)
	if stderrors.Is(err, chain.ErrAccountNotFound) {
		return nil, errors.New(errors.ErrorTypeValidation, "get_treasury", "treasury account does not exist")
	}
	if err != nil {
		return nil, err
	}

	treasury, err := ore.DecodeTreasury(acct.Data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "get_treasury", "treasury account is not decodable")
	}
	return treasury, nil
}

// GetBus returns bus id, or ErrorTypeInvalidBus when id is out of range or
// the record stored at its address carries another id.
func (r *Reader) GetBus(ctx context.Context, id int) (*ore.Bus, error) {
	if !ore.ValidBusID(id) {
		return nil, errors.New(errors.ErrorTypeInvalidBus, "get_bus", "bus id out of range").
			WithContext("bus", id)
	}

	acct, err := r.client.GetAccount(ctx, ore.BusAddresses[id])
	if stderrors.Is(err, chain.ErrAccountNotFound) {
		return nil, errors.New(errors.ErrorTypeInvalidBus, "get_bus", "bus account does not exist").
			WithContext("bus", id)
	}
	if err != nil {
		return nil, err
	}

	bus, err := ore.DecodeBus(acct.Data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidBus, "get_bus", "bus account is not decodable").
			WithContext("bus", id)
	}
	if bus.ID != uint64(id) {
		return nil, errors.New(errors.ErrorTypeInvalidBus, "get_bus", "bus record id does not match its address").
			WithContext("bus", id).
			WithContext("record_id", bus.ID)
	}
	return bus, nil
}
