package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	logx "spclaim/pkg/logx"
)

// transact signs and sends a call to `to` and waits for its receipt.
// EIP-1559 fees are used when the head block carries a base fee.
func (m *Claimer) transact(ctx context.Context, c *conn, key *ecdsa.PrivateKey, from, to common.Address, data []byte) (*types.Receipt, error) {
	cfg := m.config()

	nonce, err := c.b.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	est, err := c.b.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas := scaleGas(est, cfg.GasMultiplier)

	head, err := c.b.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("head: %w", err)
	}

	var txdata types.TxData
	if head.BaseFee != nil {
		tip, err := c.b.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas tip: %w", err)
		}
		feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		txdata = &types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     new(big.Int),
			Data:      data,
		}
	} else {
		price, err := c.b.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		if price.BitLen() == 0 {
			return nil, fmt.Errorf("gas price is 0")
		}
		txdata = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: price,
			Gas:      gas,
			To:       &to,
			Value:    new(big.Int),
			Data:     data,
		}
	}

	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(c.chainID), txdata)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := c.b.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	m.log.Debug("transaction sent",
		logx.String("tx", tx.Hash().Hex()),
		logx.String("to", to.Hex()),
		logx.Uint64("nonce", nonce),
		logx.Uint64("gas", gas),
	)
	return m.waitReceipt(ctx, c.b, tx.Hash(), cfg)
}

func (m *Claimer) waitReceipt(ctx context.Context, b Backend, hash common.Hash, cfg Config) (*types.Receipt, error) {
	wctx, cancel := context.WithTimeout(ctx, cfg.ReceiptTimeout)
	defer cancel()

	start := time.Now()
	t := time.NewTicker(cfg.ReceiptPoll)
	defer t.Stop()
	for {
		select {
		case <-wctx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		case <-t.C:
			r, err := b.TransactionReceipt(wctx, hash)
			if errors.Is(err, ethereum.NotFound) {
				continue
			}
			if err != nil {
				m.log.Debug("receipt check failed", logx.String("tx", hash.Hex()), logx.Err(err))
				continue
			}
			if r.Status == types.ReceiptStatusFailed {
				return r, fmt.Errorf("%w: %s", ErrReverted, hash.Hex())
			}
			m.log.Debug("transaction confirmed", logx.String("tx", hash.Hex()), logx.Duration("took", time.Since(start)))
			return r, nil
		}
	}
}

func scaleGas(est uint64, mult float64) uint64 {
	if mult <= 1 {
		return est
	}
	g := math.Ceil(float64(est) * mult)
	if g >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(g)
}
