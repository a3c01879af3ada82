package relay

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/bardlex/goore/pkg/circuit"
	"github.com/bardlex/goore/pkg/errors"
	"github.com/bardlex/goore/pkg/log"
	"github.com/bardlex/goore/pkg/retry"
)

// DefaultURLTemplate is formatted with the region name.
const DefaultURLTemplate = "https://%s.mainnet.block-engine.jito.wtf/api/v1/bundles"

// AuthHeader carries the relay credential.
const AuthHeader = "x-jito-auth"

// getInflightBundleStatuses accepts at most this many ids per call.
const maxStatusBatch = 5

// ErrBundleFailed reports a bundle the relay gave up on. The caller decides
// whether the payload landed anyway.
var ErrBundleFailed = stderrors.New("relay: bundle failed")

// expiredPatterns are rejection messages meaning the validity handle is gone:
// the payload already landed or its nonce has moved past it.
var expiredPatterns = []string{
	"blockhash not found",
	"already been processed",
	"alreadyprocessed",
	"expired blockhash",
	"blockhash expired",
	"nonce has been advanced",
}

// LeaderSource supplies the cluster leader schedule.
type LeaderSource interface {
	GetSlot(ctx context.Context) (uint64, error)
	GetSlotLeaders(ctx context.Context, start, limit uint64) ([]solana.PublicKey, error)
}

// Config configures a BlockEngine.
type Config struct {
	// URL is a block-engine endpoint; a %s verb is replaced by the region.
	URL  string
	Auth string

	// Validators maps relay-connected leader identities to their region.
	// An empty region lets the identity pick one of the requested regions.
	// Leaders missing from the map are never targeted.
	Validators map[solana.PublicKey]string

	LeaderLookahead    uint64
	StatusPollInterval time.Duration
	StatusTimeout      time.Duration
}

// DefaultConfig returns the block-engine defaults.
func DefaultConfig() Config {
	return Config{
		URL:                DefaultURLTemplate,
		LeaderLookahead:    128,
		StatusPollInterval: 500 * time.Millisecond,
		StatusTimeout:      30 * time.Second,
	}
}

type pendingBundle struct {
	region string
	sentAt time.Time
}

// BlockEngine talks JSON-RPC to block-engine regions. Bundle outcomes are
// discovered by polling getInflightBundleStatuses and fanned out to
// subscribers.
type BlockEngine struct {
	cfg            Config
	leaders        LeaderSource
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
	logger         *log.Logger

	clientsMu sync.Mutex
	clients   map[string]jsonrpc.RPCClient

	tipMu sync.Mutex
	tips  []solana.PublicKey

	pendingMu sync.Mutex
	pending   map[string]pendingBundle

	subMu       sync.Mutex
	subscribers map[int]chan BundleResult
	nextSub     int

	pollOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewBlockEngine creates a BlockEngine. leaders is usually the chain client.
func NewBlockEngine(cfg Config, leaders LeaderSource, logger *log.Logger) *BlockEngine {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.LeaderLookahead == 0 {
		cfg.LeaderLookahead = def.LeaderLookahead
	}
	if cfg.StatusPollInterval <= 0 {
		cfg.StatusPollInterval = def.StatusPollInterval
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = def.StatusTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &BlockEngine{
		cfg:     cfg,
		leaders: leaders,
		circuitBreaker: circuit.New(&circuit.Config{
			Name:            "relay",
			MaxFailures:     5,
			SuccessRequired: 2,
			Timeout:         10 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retryConfig: retry.RPCConfig(),
		logger:      logger.WithComponent("relay"),
		clients:     make(map[string]jsonrpc.RPCClient),
		pending:     make(map[string]pendingBundle),
		subscribers: make(map[int]chan BundleResult),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Close stops the status poller.
func (b *BlockEngine) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}

func (b *BlockEngine) endpoint(region string) string {
	if strings.Contains(b.cfg.URL, "%s") {
		return fmt.Sprintf(b.cfg.URL, region)
	}
	return b.cfg.URL
}

func (b *BlockEngine) client(region string) jsonrpc.RPCClient {
	b.clientsMu.Lock()
	defer b.clientsMu.Unlock()

	url := b.endpoint(region)
	if c, ok := b.clients[url]; ok {
		return c
	}

	opts := &jsonrpc.RPCClientOpts{}
	if b.cfg.Auth != "" {
		opts.CustomHeaders = map[string]string{AuthHeader: b.cfg.Auth}
	}
	c := jsonrpc.NewClientWithOpts(url, opts)
	b.clients[url] = c
	return c
}

func (b *BlockEngine) call(ctx context.Context, region string, out any, method string, params []any) error {
	return b.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, b.retryConfig, func() error {
			err := b.client(region).CallForInto(ctx, out, method, params)
			if err == nil {
				return nil
			}
			var rpcErr *jsonrpc.RPCError
			if stderrors.As(err, &rpcErr) {
				// An answer, not a transport failure.
				se := errors.Wrap(err, errors.ErrorTypeRelay, method, "relay rejected request").
					WithContext("region", region).
					WithContext("rpc_code", rpcErr.Code)
				se.Retryable = rpcErr.Code == 429
				return se
			}
			return errors.Wrap(err, errors.ErrorTypeRPC, method, "relay request failed").
				WithContext("region", region)
		})
	})
}

// TipAccount returns one of the relay's tip accounts, chosen at random.
func (b *BlockEngine) TipAccount(ctx context.Context) (solana.PublicKey, error) {
	b.tipMu.Lock()
	defer b.tipMu.Unlock()

	if len(b.tips) == 0 {
		var raw []string
		if err := b.call(ctx, DefaultRegions[0], &raw, "getTipAccounts", nil); err != nil {
			return solana.PublicKey{}, err
		}
		for _, s := range raw {
			pk, err := solana.PublicKeyFromBase58(s)
			if err != nil {
				b.logger.Warn("ignoring malformed tip account", "account", s)
				continue
			}
			b.tips = append(b.tips, pk)
		}
		if len(b.tips) == 0 {
			return solana.PublicKey{}, errors.New(errors.ErrorTypeRelay, "get_tip_accounts", "relay returned no tip accounts")
		}
	}
	return b.tips[rand.IntN(len(b.tips))], nil
}

// NextScheduledLeader scans the leader schedule ahead of the current slot
// for the first relay-connected validator serving one of regions.
func (b *BlockEngine) NextScheduledLeader(ctx context.Context, regions []string) (*Leader, error) {
	if len(regions) == 0 {
		regions = DefaultRegions
	}

	slot, err := b.leaders.GetSlot(ctx)
	if err != nil {
		return nil, err
	}
	schedule, err := b.leaders.GetSlotLeaders(ctx, slot, b.cfg.LeaderLookahead)
	if err != nil {
		return nil, err
	}

	for i, identity := range schedule {
		region, ok := b.regionOf(identity, regions)
		if !ok {
			continue
		}
		return &Leader{
			CurrentSlot:    slot,
			NextLeaderSlot: slot + uint64(i),
			Identity:       identity,
			Region:         region,
		}, nil
	}

	return nil, errors.New(errors.ErrorTypeRelayTimeout, "next_scheduled_leader", "no relay leader in lookahead window").
		WithContext("slot", slot).
		WithContext("lookahead", b.cfg.LeaderLookahead)
}

func (b *BlockEngine) regionOf(identity solana.PublicKey, regions []string) (string, bool) {
	region, ok := b.cfg.Validators[identity]
	if !ok {
		return "", false
	}
	if region == "" {
		// stable per validator, spread over the requested regions
		return regions[int(identity[0])%len(regions)], true
	}
	return region, slices.Contains(regions, region)
}

// SubscribeBundleResults registers a result stream. The channel is closed
// when ctx ends.
func (b *BlockEngine) SubscribeBundleResults(ctx context.Context) (<-chan BundleResult, error) {
	b.pollOnce.Do(func() {
		b.wg.Add(1)
		go b.pollStatuses()
	})

	ch := make(chan BundleResult, 16)
	b.subMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subscribers[id] = ch
	b.subMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		b.subMu.Lock()
		delete(b.subscribers, id)
		close(ch)
		b.subMu.Unlock()
	}()
	return ch, nil
}

// SendBundle submits txs to region.
func (b *BlockEngine) SendBundle(ctx context.Context, region string, txs []*solana.Transaction) (string, error) {
	encoded := make([]string, 0, len(txs))
	for _, tx := range txs {
		s, err := tx.ToBase64()
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeValidation, "send_bundle", "failed to encode transaction")
		}
		encoded = append(encoded, s)
	}

	var bundleID string
	params := []any{encoded, map[string]string{"encoding": "base64"}}
	if err := b.call(ctx, region, &bundleID, "sendBundle", params); err != nil {
		if isExpired(err) {
			return "", fmt.Errorf("%w: %v", ErrHandleExpired, err)
		}
		return "", err
	}

	b.pendingMu.Lock()
	b.pending[bundleID] = pendingBundle{region: region, sentAt: time.Now()}
	b.pendingMu.Unlock()

	b.logger.Debug("bundle sent", "bundle_id", bundleID, "region", region)
	return bundleID, nil
}

func isExpired(err error) bool {
	var rpcErr *jsonrpc.RPCError
	if !stderrors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	for _, p := range expiredPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

type inflightStatus struct {
	BundleID   string  `json:"bundle_id"`
	Status     string  `json:"status"`
	LandedSlot *uint64 `json:"landed_slot"`
}

type inflightStatuses struct {
	Value []inflightStatus `json:"value"`
}

func (b *BlockEngine) pollStatuses() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.checkPending(b.ctx)
		}
	}
}

func (b *BlockEngine) checkPending(ctx context.Context) {
	b.pendingMu.Lock()
	byRegion := make(map[string][]string)
	now := time.Now()
	var expired []string
	for id, p := range b.pending {
		if now.Sub(p.sentAt) > b.cfg.StatusTimeout {
			expired = append(expired, id)
			continue
		}
		byRegion[p.region] = append(byRegion[p.region], id)
	}
	for _, id := range expired {
		delete(b.pending, id)
	}
	b.pendingMu.Unlock()

	for _, id := range expired {
		b.broadcast(BundleResult{BundleID: id, Err: ErrStatusTimeout})
	}

	for region, ids := range byRegion {
		for batch := range slices.Chunk(ids, maxStatusBatch) {
			var out inflightStatuses
			if err := b.call(ctx, region, &out, "getInflightBundleStatuses", []any{batch}); err != nil {
				b.logger.WithError(err).Warn("bundle status poll failed", "region", region)
				continue
			}
			for _, st := range out.Value {
				b.resolve(st)
			}
		}
	}
}

func (b *BlockEngine) resolve(st inflightStatus) {
	var result BundleResult
	switch st.Status {
	case "Landed":
		result = BundleResult{BundleID: st.BundleID, Landed: true}
		if st.LandedSlot != nil {
			result.Slot = *st.LandedSlot
		}
	case "Failed":
		result = BundleResult{BundleID: st.BundleID, Err: ErrBundleFailed}
	default:
		// Pending or not yet visible
		return
	}

	b.pendingMu.Lock()
	_, tracked := b.pending[st.BundleID]
	delete(b.pending, st.BundleID)
	b.pendingMu.Unlock()

	if tracked {
		b.broadcast(result)
	}
}

func (b *BlockEngine) broadcast(result BundleResult) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- result:
		default:
			b.logger.Warn("dropping bundle result for slow subscriber", "bundle_id", result.BundleID)
		}
	}
}
