package chain

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/bardlex/goore/pkg/circuit"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/retry"
)

// JSON-RPC error codes that indicate an unhealthy or lagging node rather than
// a bad request.
var transientRPCCodes = map[int]bool{
	-32004: true, // block not available
	-32005: true, // node is behind
	-32014: true, // block status not yet available
	429:    true,
}

// RPCClient talks to a Solana JSON-RPC endpoint. Every call runs inside a
// circuit breaker and a retry loop; only transport-level failures are retried.
type RPCClient struct {
	client         *rpc.Client
	endpoint       string
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
	sendConfig     *retry.Config
}

// NewRPCClient creates a client for endpoint. onStateChange may be nil.
func NewRPCClient(endpoint string, onStateChange func(name string, from, to circuit.State)) *RPCClient {
	cbConfig := &circuit.Config{
		Name:            "rpc",
		MaxFailures:     5,
		SuccessRequired: 2,
		Timeout:         10 * time.Second,
		ResetTimeout:    30 * time.Second,
		OnStateChange:   onStateChange,
	}

	return &RPCClient{
		client:         rpc.New(endpoint),
		endpoint:       endpoint,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.RPCConfig(),
		sendConfig:     retry.SendConfig(),
	}
}

// Endpoint returns the configured URL.
func (c *RPCClient) Endpoint() string {
	return c.endpoint
}

// Close releases the HTTP transport.
func (c *RPCClient) Close() error {
	return c.client.Close()
}

// wrapRPCError classifies err: JSON-RPC error responses are answers and only
// retried for the codes in transientRPCCodes, everything else is transport.
func wrapRPCError(err error, operation, message string) *errors.ServiceError {
	var rpcErr *jsonrpc.RPCError
	if stderrors.As(err, &rpcErr) {
		se := errors.Wrap(err, errors.ErrorTypeRPC, operation, message).
			WithContext("rpc_code", rpcErr.Code)
		se.Retryable = transientRPCCodes[rpcErr.Code]
		return se
	}
	return errors.Wrap(err, errors.ErrorTypeRPC, operation, message)
}

func call[T any](ctx context.Context, c *RPCClient, cfg *retry.Config, fn func() (T, error)) (T, error) {
	return circuit.ExecuteWithResult(ctx, c.circuitBreaker, func() (T, error) {
		return retry.DoWithResult(ctx, cfg, fn)
	})
}

// GetAccount returns the account at addr or ErrAccountNotFound.
func (c *RPCClient) GetAccount(ctx context.Context, addr solana.PublicKey) (*Account, error) {
	return call(ctx, c, c.retryConfig, func() (*Account, error) {
		out, err := c.client.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
			Commitment: rpc.CommitmentConfirmed,
		})
		if stderrors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, wrapRPCError(err, "get_account", "failed to fetch account").
				WithContext("address", addr.String())
		}

		acct := &Account{
			Address:  addr,
			Owner:    out.Value.Owner,
			Lamports: out.Value.Lamports,
		}
		if out.Value.Data != nil {
			acct.Data = out.Value.Data.GetBinary()
		}
		return acct, nil
	})
}

// GetBalance returns the lamport balance of addr.
func (c *RPCClient) GetBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	return call(ctx, c, c.retryConfig, func() (uint64, error) {
		out, err := c.client.GetBalance(ctx, addr, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, wrapRPCError(err, "get_balance", "failed to fetch balance").
				WithContext("address", addr.String())
		}
		return out.Value, nil
	})
}

// GetMinimumBalanceForRentExemption returns the rent-exempt minimum for size bytes.
func (c *RPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	return call(ctx, c, c.retryConfig, func() (uint64, error) {
		lamports, err := c.client.GetMinimumBalanceForRentExemption(ctx, size, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, wrapRPCError(err, "get_rent_exemption", "failed to fetch rent-exempt minimum").
				WithContext("size", size)
		}
		return lamports, nil
	})
}

// GetLatestBlockhash returns a recent confirmed block reference.
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (*Blockhash, error) {
	return call(ctx, c, c.retryConfig, func() (*Blockhash, error) {
		out, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return nil, wrapRPCError(err, "get_latest_blockhash", "failed to fetch latest blockhash")
		}
		return &Blockhash{Hash: out.Value.Blockhash, Slot: out.Context.Slot}, nil
	})
}

// GetSlot returns the current confirmed slot.
func (c *RPCClient) GetSlot(ctx context.Context) (uint64, error) {
	return call(ctx, c, c.retryConfig, func() (uint64, error) {
		slot, err := c.client.GetSlot(ctx, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, wrapRPCError(err, "get_slot", "failed to fetch slot")
		}
		return slot, nil
	})
}

// GetSlotLeaders returns limit scheduled leaders starting at start.
func (c *RPCClient) GetSlotLeaders(ctx context.Context, start, limit uint64) ([]solana.PublicKey, error) {
	return call(ctx, c, c.retryConfig, func() ([]solana.PublicKey, error) {
		leaders, err := c.client.GetSlotLeaders(ctx, start, limit)
		if err != nil {
			return nil, wrapRPCError(err, "get_slot_leaders", "failed to fetch slot leaders").
				WithContext("start", start)
		}
		return leaders, nil
	})
}

// SimulateTransaction dry-runs tx. A program error is reported in the result,
// not as an error.
func (c *RPCClient) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	return call(ctx, c, c.retryConfig, func() (*SimulationResult, error) {
		out, err := c.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
			SigVerify:  false,
			Commitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return nil, wrapRPCError(err, "simulate_transaction", "failed to simulate transaction")
		}
		if out == nil || out.Value == nil {
			return &SimulationResult{}, nil
		}
		return &SimulationResult{Err: out.Value.Err, Logs: out.Value.Logs}, nil
	})
}

// SendTransaction broadcasts tx with minimal retrying; delivery loops live in
// the submission engine.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction, opts SendOptions) (solana.Signature, error) {
	return call(ctx, c, c.sendConfig, func() (solana.Signature, error) {
		sig, err := c.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       opts.SkipPreflight,
			PreflightCommitment: rpc.CommitmentConfirmed,
			MaxRetries:          opts.MaxRetries,
			MinContextSlot:      opts.MinContextSlot,
		})
		if err != nil {
			return solana.Signature{}, wrapRPCError(err, "send_transaction", "failed to send transaction")
		}
		return sig, nil
	})
}

// GetSignatureStatus returns nil when the node has no record of sig.
func (c *RPCClient) GetSignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	return call(ctx, c, c.retryConfig, func() (*SignatureStatus, error) {
		out, err := c.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return nil, wrapRPCError(err, "get_signature_status", "failed to fetch signature status").
				WithContext("signature", sig.String())
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return nil, nil
		}
		st := out.Value[0]
		return &SignatureStatus{
			Slot:       st.Slot,
			Commitment: Commitment(st.ConfirmationStatus),
			Err:        st.Err,
		}, nil
	})
}
