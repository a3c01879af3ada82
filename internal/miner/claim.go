package miner

import (
	"context"
	stderrors "errors"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"golang.org/x/sync/errgroup"

	"github.com/bardlex/goore/internal/chain"
	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/ore"
	"github.com/bardlex/goore/internal/submit"
	"github.com/bardlex/goore/pkg/errors"
)

// SignerClaim is the amount claimed for one signer.
type SignerClaim struct {
	Signer solana.PublicKey
	Amount uint64
}

// ClaimResult reports a claim. NothingToClaim is set, and nothing was
// written, when no signer had claimable rewards.
type ClaimResult struct {
	NothingToClaim bool
	Signature      solana.Signature
	Beneficiary    solana.PublicKey
	Claims         []SignerClaim
	Total          uint64
}

// TotalORE renders Total in whole ORE.
func (r *ClaimResult) TotalORE() string {
	return ore.FormatAmount(r.Total)
}

// Claim withdraws every signer's claimable rewards to beneficiary in one
// transaction. A nil beneficiary uses the payer's ORE token account, which is
// created first when missing.
func (m *Miner) Claim(ctx context.Context, beneficiary *solana.PublicKey) (*ClaimResult, error) {
	proofs, err := m.claimableProofs(ctx)
	if err != nil {
		return nil, err
	}
	return m.claim(ctx, beneficiary, proofs)
}

// claimableProofs reads every proof; unregistered signers have nothing to claim.
func (m *Miner) claimableProofs(ctx context.Context) ([]*ore.Proof, error) {
	proofs := make([]*ore.Proof, len(m.session.Signers))

	g, gctx := errgroup.WithContext(ctx)
	for i, signer := range m.session.Signers {
		g.Go(func() error {
			proof, err := m.reader.GetProof(gctx, signer.PublicKey())
			if errors.IsType(err, errors.ErrorTypeNotRegistered) {
				return nil
			}
			proofs[i] = proof
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return proofs, nil
}

func (m *Miner) claim(ctx context.Context, beneficiary *solana.PublicKey, proofs []*ore.Proof) (*ClaimResult, error) {
	result := &ClaimResult{}
	var claimers []solana.PrivateKey
	for i, proof := range proofs {
		if proof == nil || proof.ClaimableRewards == 0 {
			continue
		}
		signer := m.session.Signers[i]
		claimers = append(claimers, signer)
		result.Claims = append(result.Claims, SignerClaim{Signer: signer.PublicKey(), Amount: proof.ClaimableRewards})
		result.Total += proof.ClaimableRewards
	}

	if len(claimers) == 0 {
		m.logger.Info("nothing to claim")
		result.NothingToClaim = true
		return result, nil
	}

	to, err := m.resolveBeneficiary(ctx, beneficiary)
	if err != nil {
		return nil, err
	}
	result.Beneficiary = to

	req := submit.Request{
		Kind:           "claim",
		UnitsPerSigner: ore.CULimitClaim,
		CoSigners:      claimers,
	}
	for _, c := range result.Claims {
		ix, err := ore.NewClaimInstruction(c.Signer, to, c.Amount)
		if err != nil {
			return nil, err
		}
		req.Instructions = append(req.Instructions, ix)
	}

	sig, err := m.engine.Submit(ctx, req)
	m.recorder.Record(m.submissionEvent(req, sig, -1, err))
	if err != nil {
		return nil, err
	}
	result.Signature = sig

	for _, c := range result.Claims {
		e := events.New(events.KindClaim)
		e.Signer = c.Signer.String()
		e.Amount = c.Amount
		e.Signature = sig.String()
		m.recorder.Record(e)
	}

	m.logger.Info("rewards claimed",
		"amount", result.TotalORE(),
		"signers", len(result.Claims),
		"beneficiary", to.String(),
		"signature", sig.String(),
	)
	return result, nil
}

// resolveBeneficiary returns beneficiary, or the payer's ORE token account
// after creating it if it does not exist.
func (m *Miner) resolveBeneficiary(ctx context.Context, beneficiary *solana.PublicKey) (solana.PublicKey, error) {
	if beneficiary != nil {
		return *beneficiary, nil
	}

	payer := m.engine.Payer()
	ata, _, err := solana.FindAssociatedTokenAddress(payer, ore.MintAddress)
	if err != nil {
		return solana.PublicKey{}, errors.Wrap(err, errors.ErrorTypeInternal, "resolve_beneficiary",
			"failed to derive token account")
	}

	_, err = m.client.GetAccount(ctx, ata)
	if err == nil {
		return ata, nil
	}
	if !stderrors.Is(err, chain.ErrAccountNotFound) {
		return solana.PublicKey{}, err
	}

	req := submit.Request{
		Kind:           "create_token_account",
		Instructions:   []solana.Instruction{associatedtokenaccount.NewCreateInstruction(payer, payer, ore.MintAddress).Build()},
		UnitsPerSigner: ore.CULimitATA,
	}
	sig, err := m.engine.Submit(ctx, req)
	m.recorder.Record(m.submissionEvent(req, sig, -1, err))
	if err != nil {
		return solana.PublicKey{}, err
	}
	m.logger.Info("created token account", "account", ata.String(), "signature", sig.String())
	return ata, nil
}
