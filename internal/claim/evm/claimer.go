package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"spclaim/internal/claim"
	"spclaim/internal/task/engine"
	logx "spclaim/pkg/logx"
)

// Config controls transaction submission.
type Config struct {
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
	GasMultiplier  float64
	DialTimeout    time.Duration
}

const (
	defaultReceiptTimeout = 2 * time.Minute
	defaultReceiptPoll    = 3 * time.Second
	defaultGasMultiplier  = 1.2
	defaultDialTimeout    = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = defaultReceiptTimeout
	}
	if c.ReceiptPoll <= 0 {
		c.ReceiptPoll = defaultReceiptPoll
	}
	if c.GasMultiplier < 1 {
		c.GasMultiplier = defaultGasMultiplier
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	return c
}

type conn struct {
	b       Backend
	chainID *big.Int
}

// Claimer claims staking rewards for an owner. It is safe for concurrent use;
// transactions from the same signer are serialized so nonces do not collide.
type Claimer struct {
	dial Dialer
	log  logx.Logger

	mu      sync.Mutex
	cfg     Config
	clients map[string]*conn
	signers map[common.Address]*sync.Mutex
}

type Option func(*Claimer)

// WithDialer replaces the ethclient dialer.
func WithDialer(d Dialer) Option {
	return func(c *Claimer) { c.dial = d }
}

func New(cfg Config, log logx.Logger, opts ...Option) *Claimer {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Claimer{
		dial:    DialEthclient,
		log:     log,
		cfg:     cfg.withDefaults(),
		clients: map[string]*conn{},
		signers: map[common.Address]*sync.Mutex{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Apply swaps the submission config. Open connections are kept.
func (m *Claimer) Apply(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	m.mu.Unlock()
}

func (m *Claimer) config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Close closes every cached connection.
func (m *Claimer) Close() {
	m.mu.Lock()
	clients := m.clients
	m.clients = map[string]*conn{}
	m.mu.Unlock()
	for _, c := range clients {
		c.b.Close()
	}
}

var _ claim.Claimer = (*Claimer)(nil)

func (m *Claimer) ClaimRewards(ctx context.Context, owner string, cred claim.Credential, net claim.Network) error {
	if !common.IsHexAddress(owner) {
		return engine.NoRetry(fmt.Errorf("%w: %q", ErrInvalidOwner, owner))
	}
	if !common.IsHexAddress(net.RegistryAddress) {
		return engine.NoRetry(fmt.Errorf("registry address %q is not a hex address", net.RegistryAddress))
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cred.Reveal()), "0x"))
	if err != nil {
		// the parse error may quote key material
		return engine.NoRetry(ErrInvalidKey)
	}
	ownerAddr := common.HexToAddress(owner)
	registry := common.HexToAddress(net.RegistryAddress)
	from := crypto.PubkeyToAddress(key.PublicKey)

	c, err := m.connect(ctx, net.ProviderEndpoint)
	if err != nil {
		return err
	}

	unlock := m.lockSigner(from)
	defer unlock()

	log := m.log.With(logx.String("owner", ownerAddr.Hex()), logx.String("from", from.Hex()))

	claimsManager, err := m.lookup(ctx, c.b, registry, ClaimsManagerKey)
	if err != nil {
		return err
	}
	delegateManager, err := m.lookup(ctx, c.b, registry, DelegateManagerKey)
	if err != nil {
		return err
	}

	due, err := m.roundDue(ctx, c, net.ProviderEndpoint, claimsManager)
	if err != nil {
		return err
	}
	if due {
		log.Info("initiating funding round", logx.String("claims_manager", claimsManager.Hex()))
		data, err := claimsManagerABI.Pack("initiateRound")
		if err != nil {
			return err
		}
		if _, err := m.transact(ctx, c, key, from, claimsManager, data); err != nil {
			return fmt.Errorf("initiate round: %w", err)
		}
	}

	out, err := call(ctx, c.b, claimsManager, claimsManagerABI, "claimPending", ownerAddr)
	if err != nil {
		return err
	}
	pending, ok := out[0].(bool)
	if !ok {
		return fmt.Errorf("claimPending: unexpected result %T", out[0])
	}
	if !pending {
		log.Debug("no pending claim")
		return nil
	}

	data, err := delegateManagerABI.Pack("claimRewards", ownerAddr)
	if err != nil {
		return err
	}
	rcpt, err := m.transact(ctx, c, key, from, delegateManager, data)
	if err != nil {
		return fmt.Errorf("claim rewards: %w", err)
	}
	fields := []logx.Field{logx.String("tx", rcpt.TxHash.Hex()), logx.Uint64("gas_used", rcpt.GasUsed)}
	if rcpt.BlockNumber != nil {
		fields = append(fields, logx.String("block", rcpt.BlockNumber.String()))
	}
	log.Info("rewards claimed", fields...)

	if common.IsHexAddress(net.TokenAddress) {
		if bal, err := call(ctx, c.b, common.HexToAddress(net.TokenAddress), erc20ABI, "balanceOf", ownerAddr); err == nil {
			log.Info("owner token balance", logx.Any("balance", bal[0]))
		} else {
			log.Debug("token balance unavailable", logx.Err(err))
		}
	}
	return nil
}

// roundDue reports whether the current block is past the funding round.
func (m *Claimer) roundDue(ctx context.Context, c *conn, endpoint string, claimsManager common.Address) (bool, error) {
	block, err := c.b.BlockNumber(ctx)
	if err != nil {
		m.evict(endpoint, c)
		return false, fmt.Errorf("block number: %w", err)
	}
	last, err := callUint(ctx, c.b, claimsManager, claimsManagerABI, "getLastFundedBlock")
	if err != nil {
		return false, err
	}
	diff, err := callUint(ctx, c.b, claimsManager, claimsManagerABI, "getFundingRoundBlockDiff")
	if err != nil {
		return false, err
	}
	next := new(big.Int).Add(last, diff)
	return new(big.Int).SetUint64(block).Cmp(next) > 0, nil
}

func (m *Claimer) lookup(ctx context.Context, b Backend, registry common.Address, name string) (common.Address, error) {
	out, err := call(ctx, b, registry, registryABI, "getContract", registryKey(name))
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("getContract(%s): unexpected result %T", name, out[0])
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("registry %s has no %s", registry.Hex(), name)
	}
	return addr, nil
}

func call(ctx context.Context, b Backend, to common.Address, a abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: pack: %w", method, err)
	}
	raw, err := b.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	out, err := a.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%s: unpack: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func callUint(ctx context.Context, b Backend, to common.Address, a abi.ABI, method string) (*big.Int, error) {
	out, err := call(ctx, b, to, a, method)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected result %T", method, out[0])
	}
	return v, nil
}

// connect returns the cached connection for endpoint, dialing on first use.
func (m *Claimer) connect(ctx context.Context, endpoint string) (*conn, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, engine.NoRetry(fmt.Errorf("provider endpoint required"))
	}
	m.mu.Lock()
	c := m.clients[endpoint]
	timeout := m.cfg.DialTimeout
	m.mu.Unlock()
	if c != nil {
		return c, nil
	}

	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	b, err := m.dial(dctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", claim.EndpointHost(endpoint), err)
	}
	id, err := b.ChainID(dctx)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}

	m.mu.Lock()
	if existing := m.clients[endpoint]; existing != nil {
		m.mu.Unlock()
		b.Close()
		return existing, nil
	}
	c = &conn{b: b, chainID: id}
	m.clients[endpoint] = c
	m.mu.Unlock()

	m.log.Info("provider connected", logx.String("provider", claim.EndpointHost(endpoint)), logx.String("chain_id", id.String()))
	return c, nil
}

// evict drops a connection that failed so the next claim dials again.
func (m *Claimer) evict(endpoint string, c *conn) {
	endpoint = strings.TrimSpace(endpoint)
	m.mu.Lock()
	if m.clients[endpoint] != c {
		m.mu.Unlock()
		return
	}
	delete(m.clients, endpoint)
	m.mu.Unlock()
	c.b.Close()
}

func (m *Claimer) lockSigner(addr common.Address) func() {
	m.mu.Lock()
	mu := m.signers[addr]
	if mu == nil {
		mu = &sync.Mutex{}
		m.signers[addr] = mu
	}
	m.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

