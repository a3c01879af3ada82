package miner

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/bardlex/goore/internal/bus"
	"github.com/bardlex/goore/internal/chain"
	"github.com/bardlex/goore/internal/chain/chaintest"
	"github.com/bardlex/goore/internal/events"
	"github.com/bardlex/goore/internal/nonce"
	"github.com/bardlex/goore/internal/ore"
	"github.com/bardlex/goore/internal/submit"
	"github.com/bardlex/goore/internal/txbuilder"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
)

var easyTarget = func() [32]byte {
	var t [32]byte
	for i := range t {
		t[i] = 0xff
	}
	return t
}()

type memRecorder struct {
	mu     sync.Mutex
	events []*events.Event
	hook   func(*events.Event)
}

func (r *memRecorder) Record(e *events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (r *memRecorder) count(kind events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func fastConfig() Config {
	return Config{
		Bus:             bus.Config{},
		RetryDelay:      time.Millisecond,
		StateRetryDelay: time.Millisecond,
	}
}

func fastSubmitConfig() submit.Config {
	cfg := submit.DefaultConfig()
	cfg.PollDelay = time.Millisecond
	cfg.ConfirmDelay = time.Millisecond
	cfg.RetryDelay = time.Millisecond
	return cfg
}

type harness struct {
	client   *chaintest.Client
	signers  []solana.PrivateKey
	recorder *memRecorder
}

func newHarness(t *testing.T, n int) *harness {
	t.Helper()
	h := &harness{client: chaintest.New(), recorder: &memRecorder{}}
	for range n {
		h.signers = append(h.signers, solana.NewWallet().PrivateKey)
	}
	payer := h.signers[0].PublicKey()
	h.client.Balances[payer] = 1_000_000_000

	addr, err := nonce.Address(payer)
	if err != nil {
		t.Fatalf("nonce.Address() error = %v", err)
	}
	rec := &nonce.Record{State: nonce.StateInitialized, Authority: payer, Value: solana.Hash{0xaa}}
	h.client.SetAccount(addr, solana.SystemProgramID, rec.Encode())

	treasury := &ore.Treasury{Difficulty: easyTarget, RewardRate: 10}
	h.client.SetAccount(ore.TreasuryAddress, ore.ProgramID, treasury.Encode())
	for id := range ore.BusCount {
		b := &ore.Bus{ID: uint64(id), Rewards: 1_000}
		h.client.SetAccount(ore.BusAddresses[id], ore.ProgramID, b.Encode())
	}
	return h
}

func (h *harness) setProof(t *testing.T, signer solana.PublicKey, proof *ore.Proof) {
	t.Helper()
	addr, _, err := ore.ProofAddress(signer)
	if err != nil {
		t.Fatalf("ProofAddress() error = %v", err)
	}
	proof.Authority = signer
	h.client.SetAccount(addr, ore.ProgramID, proof.Encode())
}

func (h *harness) registerAll(t *testing.T) {
	t.Helper()
	for _, s := range h.signers {
		h.setProof(t, s.PublicKey(), &ore.Proof{})
	}
}

func (h *harness) miner(t *testing.T, engine Submitter) *Miner {
	t.Helper()
	if engine == nil {
		engine = submit.NewEngine(h.client, h.signers[0], nil, fastSubmitConfig(), log.Discard())
	}
	m, err := New(Session{Signers: h.signers}, h.client, engine, h.recorder, fastConfig(), log.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

// programInstructions returns the data of every program instruction in tx.
func programInstructions(tx *solana.Transaction) [][]byte {
	var out [][]byte
	for _, ix := range tx.Message.Instructions {
		if tx.Message.AccountKeys[ix.ProgramIDIndex].Equals(ore.ProgramID) {
			out = append(out, ix.Data)
		}
	}
	return out
}

func txSigners(tx *solana.Transaction) []solana.PublicKey {
	return tx.Message.AccountKeys[:tx.Message.Header.NumRequiredSignatures]
}

func TestSessionValidate(t *testing.T) {
	a := solana.NewWallet().PrivateKey
	b := solana.NewWallet().PrivateKey

	tests := []struct {
		name    string
		signers []solana.PrivateKey
		wantErr bool
	}{
		{"empty", nil, true},
		{"single", []solana.PrivateKey{a}, false},
		{"two", []solana.PrivateKey{a, b}, false},
		{"duplicate", []solana.PrivateKey{a, b, a}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Session{Signers: tt.signers}.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionPublicKeys(t *testing.T) {
	a := solana.NewWallet().PrivateKey
	b := solana.NewWallet().PrivateKey

	keys := Session{Signers: []solana.PrivateKey{a, b}}.PublicKeys()
	if len(keys) != 2 || !keys[0].Equals(a.PublicKey()) || !keys[1].Equals(b.PublicKey()) {
		t.Errorf("PublicKeys() = %v", keys)
	}
}

func TestSignerCount(t *testing.T) {
	payer := solana.NewWallet().PrivateKey
	other := solana.NewWallet().PrivateKey

	tests := []struct {
		name      string
		coSigners []solana.PrivateKey
		want      int
	}{
		{"payer only", nil, 1},
		{"payer listed", []solana.PrivateKey{payer}, 1},
		{"payer and co-signer", []solana.PrivateKey{payer, other}, 2},
		{"co-signer without payer", []solana.PrivateKey{other}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := signerCount(payer.PublicKey(), tt.coSigners); got != tt.want {
				t.Errorf("signerCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewRejectsForeignPayer(t *testing.T) {
	h := newHarness(t, 2)
	engine := submit.NewEngine(h.client, h.signers[1], nil, fastSubmitConfig(), log.Discard())

	_, err := New(Session{Signers: h.signers}, h.client, engine, nil, fastConfig(), log.Discard())
	if !errors.IsType(err, errors.ErrorTypeValidation) {
		t.Fatalf("New() error = %v, want validation error", err)
	}
}

func TestRegisterBatchesOnlyUnregistered(t *testing.T) {
	h := newHarness(t, 3)
	h.setProof(t, h.signers[0].PublicKey(), &ore.Proof{})
	h.setProof(t, h.signers[2].PublicKey(), &ore.Proof{})
	h.client.OnSend = func(_ *chaintest.Client, _ *solana.Transaction) {
		h.setProof(t, h.signers[1].PublicKey(), &ore.Proof{})
	}

	if err := h.miner(t, nil).Register(context.Background()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	sent := h.client.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(sent))
	}
	ixs := programInstructions(sent[0])
	if len(ixs) != 1 || ixs[0][0] != byte(ore.InstructionRegister) {
		t.Fatalf("program instructions = %v, want one register", ixs)
	}

	signers := txSigners(sent[0])
	if len(signers) != 2 {
		t.Fatalf("transaction has %d signers, want 2", len(signers))
	}
	if !signers[0].Equals(h.signers[0].PublicKey()) {
		t.Errorf("first signer = %s, want payer", signers[0])
	}
	if !solana.PublicKeySlice(signers).Contains(h.signers[1].PublicKey()) {
		t.Error("unregistered signer did not co-sign")
	}
	if solana.PublicKeySlice(signers).Contains(h.signers[2].PublicKey()) {
		t.Error("registered signer co-signed")
	}
	if h.recorder.count(events.KindRegistration) != 1 {
		t.Errorf("registration events = %d, want 1", h.recorder.count(events.KindRegistration))
	}
}

func TestRegisterNoopWhenAllRegistered(t *testing.T) {
	h := newHarness(t, 2)
	h.registerAll(t)

	if err := h.miner(t, nil).Register(context.Background()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if n := len(h.client.Sent()); n != 0 {
		t.Errorf("sent %d transactions, want 0", n)
	}
}

func TestClaimNothingToClaim(t *testing.T) {
	h := newHarness(t, 2)
	h.registerAll(t)

	result, err := h.miner(t, nil).Claim(context.Background(), nil)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if !result.NothingToClaim {
		t.Error("NothingToClaim = false")
	}
	if len(h.client.Sent()) != 0 || len(h.client.Simulated()) != 0 {
		t.Error("claim with nothing claimable touched the network")
	}
}

func TestClaimBatchesClaimableSigners(t *testing.T) {
	h := newHarness(t, 3)
	h.setProof(t, h.signers[0].PublicKey(), &ore.Proof{ClaimableRewards: 0})
	h.setProof(t, h.signers[1].PublicKey(), &ore.Proof{ClaimableRewards: 2_000_000_000})
	// signers[2] is unregistered and has nothing to claim

	beneficiary := solana.NewWallet().PublicKey()
	result, err := h.miner(t, nil).Claim(context.Background(), &beneficiary)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	if result.Total != 2_000_000_000 || result.TotalORE() != "2" {
		t.Errorf("Total = %d (%s)", result.Total, result.TotalORE())
	}
	if len(result.Claims) != 1 || !result.Claims[0].Signer.Equals(h.signers[1].PublicKey()) {
		t.Errorf("Claims = %+v", result.Claims)
	}

	sent := h.client.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(sent))
	}
	if result.Signature != sent[0].Signatures[0] {
		t.Error("result signature does not match the sent transaction")
	}
	ixs := programInstructions(sent[0])
	if len(ixs) != 1 || ixs[0][0] != byte(ore.InstructionClaim) {
		t.Errorf("program instructions = %v, want one claim", ixs)
	}
	if !sent[0].Message.AccountKeys.Contains(beneficiary) {
		t.Error("beneficiary missing from the claim transaction")
	}
	if h.recorder.count(events.KindClaim) != 1 {
		t.Errorf("claim events = %d, want 1", h.recorder.count(events.KindClaim))
	}
}

func TestClaimCreatesPayerTokenAccount(t *testing.T) {
	h := newHarness(t, 1)
	h.setProof(t, h.signers[0].PublicKey(), &ore.Proof{ClaimableRewards: 5})

	m := h.miner(t, nil)
	result, err := m.Claim(context.Background(), nil)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	ata, _, _ := solana.FindAssociatedTokenAddress(h.signers[0].PublicKey(), ore.MintAddress)
	if !result.Beneficiary.Equals(ata) {
		t.Errorf("Beneficiary = %s, want %s", result.Beneficiary, ata)
	}
	sent := h.client.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d transactions, want token account creation then claim", len(sent))
	}
	if !sent[0].Message.AccountKeys.Contains(solana.SPLAssociatedTokenAccountProgramID) {
		t.Error("first transaction does not create the token account")
	}
	h.recorder.mu.Lock()
	for _, e := range h.recorder.events {
		if e.Operation == "create_token_account" && e.Signers != 1 {
			t.Errorf("token account creation recorded %d signers, want the payer", e.Signers)
		}
	}
	h.recorder.mu.Unlock()

	// An existing token account is reused
	h.client.SetAccount(ata, solana.TokenProgramID, make([]byte, 165))
	if _, err := m.Claim(context.Background(), nil); err != nil {
		t.Fatalf("second Claim() error = %v", err)
	}
	if n := len(h.client.Sent()); n != 3 {
		t.Errorf("sent %d transactions in total, want 3", n)
	}
}

func TestMineSubmitsOneTransactionPerCycle(t *testing.T) {
	h := newHarness(t, 2)
	h.registerAll(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.recorder.hook = func(e *events.Event) {
		if e.Kind == events.KindSubmission {
			cancel()
		}
	}

	err := h.miner(t, nil).Mine(ctx, MineOptions{Threads: 2})
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("Mine() error = %v, want context.Canceled", err)
	}

	sent := h.client.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d transactions, want 1", len(sent))
	}
	ixs := programInstructions(sent[0])
	if len(ixs) != 2 {
		t.Fatalf("program instructions = %d, want one mine per signer", len(ixs))
	}
	for _, data := range ixs {
		if data[0] != byte(ore.InstructionMine) {
			t.Errorf("instruction kind = %d, want mine", data[0])
		}
	}
	if len(txSigners(sent[0])) != 2 {
		t.Errorf("signers = %d, want 2", len(txSigners(sent[0])))
	}
	if h.recorder.count(events.KindSolution) < 2 || h.recorder.count(events.KindCycle) < 1 {
		t.Error("cycle telemetry missing")
	}
}

func TestMineAutoClaimsOnFirstCycle(t *testing.T) {
	h := newHarness(t, 1)
	h.setProof(t, h.signers[0].PublicKey(), &ore.Proof{ClaimableRewards: 42})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.recorder.hook = func(e *events.Event) {
		if e.Kind == events.KindSubmission && e.Operation == "mine" {
			cancel()
		}
	}

	beneficiary := solana.NewWallet().PublicKey()
	_ = h.miner(t, nil).Mine(ctx, MineOptions{Threads: 1, AutoClaim: true, Beneficiary: &beneficiary})

	sent := h.client.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d transactions, want claim then mine", len(sent))
	}
	if ixs := programInstructions(sent[0]); ixs[0][0] != byte(ore.InstructionClaim) {
		t.Error("first transaction is not the claim")
	}
	if ixs := programInstructions(sent[1]); ixs[0][0] != byte(ore.InstructionMine) {
		t.Error("second transaction is not the mine")
	}
}

// fakeSubmitter fails the first failures submissions with err.
type fakeSubmitter struct {
	mu       sync.Mutex
	payer    solana.PublicKey
	failures int
	err      error
	requests []submit.Request
	onSubmit func(n int)
}

func (f *fakeSubmitter) Submit(_ context.Context, req submit.Request) (solana.Signature, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	hook := f.onSubmit
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if n <= f.failures {
		return solana.Signature{}, f.err
	}
	return solana.Signature{byte(n)}, nil
}

func (f *fakeSubmitter) StrategyFor(submit.Request) txbuilder.Strategy { return txbuilder.DirectPoll }

func (f *fakeSubmitter) Payer() solana.PublicKey { return f.payer }

func (f *fakeSubmitter) requestsOf(kind string) []submit.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []submit.Request
	for _, r := range f.requests {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func TestMineRetriesWithSameSolution(t *testing.T) {
	h := newHarness(t, 2)
	h.registerAll(t)
	engine := &fakeSubmitter{
		payer:    h.signers[0].PublicKey(),
		failures: 2,
		err:      errors.New(errors.ErrorTypeRelay, "bundle", "rejected"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.recorder.hook = func(e *events.Event) {
		if e.Kind == events.KindSubmission {
			cancel()
		}
	}

	_ = h.miner(t, engine).Mine(ctx, MineOptions{Threads: 1})

	reqs := engine.requestsOf("mine")
	if len(reqs) != 3 {
		t.Fatalf("mine submissions = %d, want 3", len(reqs))
	}
	for i := 1; i < len(reqs); i++ {
		for j, ix := range reqs[i].Instructions {
			got, _ := ix.Data()
			want, _ := reqs[0].Instructions[j].Data()
			if string(got) != string(want) {
				t.Errorf("attempt %d instruction %d carries a different solution", i, j)
			}
		}
	}
	if got := h.recorder.count(events.KindSubmissionFailed); got != 2 {
		t.Errorf("failed submission events = %d, want 2", got)
	}
}

func TestMineStopsOnFatalError(t *testing.T) {
	h := newHarness(t, 1)
	h.registerAll(t)
	engine := &fakeSubmitter{
		payer:    h.signers[0].PublicKey(),
		failures: 100,
		err:      errors.New(errors.ErrorTypeBalance, "bootstrap", "payer has no balance"),
	}

	err := h.miner(t, engine).Mine(context.Background(), MineOptions{Threads: 1})
	if !errors.IsType(err, errors.ErrorTypeBalance) {
		t.Fatalf("Mine() error = %v, want balance error", err)
	}
	if n := len(engine.requestsOf("mine")); n != 1 {
		t.Errorf("mine submissions = %d, want 1", n)
	}
}

func TestMineRetriesUnusableNonceAccount(t *testing.T) {
	h := newHarness(t, 1)
	h.registerAll(t)
	payer := h.signers[0].PublicKey()
	addr, err := nonce.Address(payer)
	if err != nil {
		t.Fatalf("nonce.Address() error = %v", err)
	}
	uninitialized := &nonce.Record{State: nonce.StateUninitialized, Authority: payer}
	h.client.SetAccount(addr, solana.SystemProgramID, uninitialized.Encode())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var repaired atomic.Bool
	h.recorder.hook = func(e *events.Event) {
		switch e.Kind {
		case events.KindSubmissionFailed:
			if repaired.CompareAndSwap(false, true) {
				rec := &nonce.Record{State: nonce.StateInitialized, Authority: payer, Value: solana.Hash{0xbb}}
				h.client.SetAccount(addr, solana.SystemProgramID, rec.Encode())
			}
		case events.KindSubmission:
			cancel()
		}
	}

	err = h.miner(t, nil).Mine(ctx, MineOptions{Threads: 1})
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("Mine() error = %v, want context.Canceled", err)
	}
	if h.recorder.count(events.KindSubmissionFailed) < 1 {
		t.Error("unusable nonce account did not fail a submission")
	}
	if len(h.client.Sent()) != 1 {
		t.Errorf("sent %d transactions, want 1 after the account was usable", len(h.client.Sent()))
	}
}

func TestMineStartsNewCycleWhenProofsMoved(t *testing.T) {
	h := newHarness(t, 1)
	h.registerAll(t)
	signer := h.signers[0].PublicKey()

	engine := &fakeSubmitter{
		payer:    signer,
		failures: 1,
		err:      errors.New(errors.ErrorTypeSimulation, "simulate", "invalid hash"),
	}
	// The first attempt landed elsewhere: the proof moves before the failure is seen.
	engine.onSubmit = func(n int) {
		if n == 1 {
			h.setProof(t, signer, &ore.Proof{Hash: [32]byte{7}})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var cycles atomic.Int32
	h.recorder.hook = func(e *events.Event) {
		if e.Kind == events.KindCycle && cycles.Add(1) == 2 {
			cancel()
		}
	}

	_ = h.miner(t, engine).Mine(ctx, MineOptions{Threads: 1})

	if n := len(engine.requestsOf("mine")); n != 1 {
		t.Errorf("mine submissions in the stale cycle = %d, want 1", n)
	}
	if cycles.Load() < 2 {
		t.Error("no new cycle after the proof moved")
	}
}

func TestMineSkipsBusesWithMismatchedRecords(t *testing.T) {
	h := newHarness(t, 1)
	h.registerAll(t)
	const good = 5
	for id := range ore.BusCount {
		if id != good {
			b := &ore.Bus{ID: uint64(id) + 100, Rewards: 1_000}
			h.client.SetAccount(ore.BusAddresses[id], ore.ProgramID, b.Encode())
		}
	}
	engine := &fakeSubmitter{payer: h.signers[0].PublicKey()}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.recorder.hook = func(e *events.Event) {
		if e.Kind == events.KindSubmission {
			cancel()
		}
	}

	_ = h.miner(t, engine).Mine(ctx, MineOptions{Threads: 1})

	reqs := engine.requestsOf("mine")
	if len(reqs) != 1 {
		t.Fatalf("mine submissions = %d, want 1", len(reqs))
	}
	found := false
	for _, acct := range reqs[0].Instructions[0].Accounts() {
		if acct.PublicKey.Equals(ore.BusAddresses[good]) {
			found = true
		}
	}
	if !found {
		t.Errorf("mine instruction does not reference bus %d", good)
	}
}

// flakyClient fails the first n account reads.
type flakyClient struct {
	*chaintest.Client
	failures atomic.Int32
}

func (c *flakyClient) GetAccount(ctx context.Context, addr solana.PublicKey) (*chain.Account, error) {
	if c.failures.Add(-1) >= 0 {
		return nil, errors.New(errors.ErrorTypeRPC, "get_account", "connection reset")
	}
	return c.Client.GetAccount(ctx, addr)
}

func TestMineSurvivesStateReadFailures(t *testing.T) {
	h := newHarness(t, 2)
	h.registerAll(t)
	flaky := &flakyClient{Client: h.client}
	flaky.failures.Store(5)

	engine := &fakeSubmitter{payer: h.signers[0].PublicKey()}
	m, err := New(Session{Signers: h.signers}, flaky, engine, h.recorder, fastConfig(), log.Discard())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.recorder.hook = func(e *events.Event) {
		if e.Kind == events.KindSubmission {
			cancel()
		}
	}

	_ = m.Mine(ctx, MineOptions{Threads: 1})
	if n := len(engine.requestsOf("mine")); n != 1 {
		t.Errorf("mine submissions = %d, want 1", n)
	}
}
