package deployer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fees holds the pricing for one transaction. Exactly one of gasPrice or
// (tipCap, feeCap) is set.
type fees struct {
	gasPrice *big.Int
	tipCap   *big.Int
	feeCap   *big.Int
}

func (f fees) dynamic() bool { return f.feeCap != nil }

// suggestFees uses EIP-1559 pricing when the latest header carries a base
// fee: feeCap = 2*baseFee + tip. Otherwise it falls back to a legacy price.
func (d *Deployer) suggestFees(ctx context.Context) (fees, error) {
	head, err := d.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return fees{}, fmt.Errorf("get latest header: %w", err)
	}

	if head.BaseFee != nil {
		tip, err := d.client.SuggestGasTipCap(ctx)
		if err != nil {
			return fees{}, fmt.Errorf("suggest gas tip cap: %w", err)
		}
		feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
		feeCap.Add(feeCap, tip)
		return fees{tipCap: tip, feeCap: feeCap}, nil
	}

	price, err := d.client.SuggestGasPrice(ctx)
	if err != nil {
		return fees{}, fmt.Errorf("suggest gas price: %w", err)
	}
	return fees{gasPrice: price}, nil
}

// estimateGas returns the estimate plus the configured buffer, or the
// fallback limit when estimation fails.
func (d *Deployer) estimateGas(ctx context.Context, data []byte, value *big.Int, f fees) uint64 {
	msg := ethereum.CallMsg{
		From:      d.signer.Address(),
		Value:     value,
		Data:      data,
		GasPrice:  f.gasPrice,
		GasFeeCap: f.feeCap,
		GasTipCap: f.tipCap,
	}
	gas, err := d.client.EstimateGas(ctx, msg)
	if err != nil {
		d.logger.Warn("gas estimation failed, using fallback",
			slog.Uint64("gas_limit", d.cfg.FallbackGasLimit),
			slog.String("error", err.Error()),
		)
		return d.cfg.FallbackGasLimit
	}
	return withBuffer(gas, d.cfg.GasBufferPercent)
}

func withBuffer(gas, percent uint64) uint64 {
	return gas + gas*percent/100
}

// newCreationTx builds an unsigned contract creation transaction.
func (d *Deployer) newCreationTx(nonce, gas uint64, value *big.Int, data []byte, f fees) *types.Transaction {
	if f.dynamic() {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   d.signer.ChainID(),
			Nonce:     nonce,
			GasTipCap: f.tipCap,
			GasFeeCap: f.feeCap,
			Gas:       gas,
			Value:     value,
			Data:      data,
		})
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: f.gasPrice,
		Gas:      gas,
		Value:    value,
		Data:     data,
	})
}

// sentTx is a broadcast transaction.
type sentTx struct {
	hash  common.Hash
	nonce uint64
	at    time.Time
}

// sendCreation prices, signs and broadcasts a creation transaction.
// Transient errors are retried with exponential backoff; "nonce too low"
// re-reads the pending nonce before the next attempt.
func (d *Deployer) sendCreation(ctx context.Context, data []byte, value *big.Int) (*sentTx, error) {
	var lastErr error
	backoff := d.cfg.InitialBackoff

	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		if attempt > 0 && IsRetryable(lastErr) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, d.cfg.MaxBackoff)
		}

		nonce, err := d.nextNonce(ctx)
		if err != nil {
			return nil, err
		}

		f, err := d.suggestFees(ctx)
		if err != nil {
			lastErr = classifySendError(err)
			if IsRetryable(lastErr) {
				continue
			}
			return nil, err
		}
		gas := d.estimateGas(ctx, data, value, f)

		signed, err := d.signer.SignTransaction(ctx, d.newCreationTx(nonce, gas, value, data, f))
		if err != nil {
			return nil, fmt.Errorf("sign transaction: %w", err)
		}

		err = d.client.SendTransaction(ctx, signed)
		switch {
		case err == nil, isAlreadyKnown(err):
			d.nonce = nonce + 1
			return &sentTx{hash: signed.Hash(), nonce: nonce, at: d.now()}, nil
		case isNonceTooLow(err):
			d.logger.Warn("nonce too low, refreshing",
				slog.Uint64("nonce", nonce),
				slog.String("error", err.Error()),
			)
			d.hasNonce = false
			lastErr = err
			continue
		}

		lastErr = classifySendError(err)
		if !IsRetryable(lastErr) {
			return nil, fmt.Errorf("send transaction: %w", err)
		}
		d.logger.Warn("send failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("send transaction failed after %d attempts: %w", d.cfg.MaxRetries, lastErr)
}

// nextNonce reads the pending nonce once and then counts locally.
func (d *Deployer) nextNonce(ctx context.Context) (uint64, error) {
	if d.hasNonce {
		return d.nonce, nil
	}
	n, err := d.client.PendingNonceAt(ctx, d.signer.Address())
	if err != nil {
		return 0, fmt.Errorf("get pending nonce: %w", err)
	}
	d.nonce = n
	d.hasNonce = true
	return n, nil
}

// waitForReceipt polls for a receipt until it arrives or the receipt
// timeout elapses.
func (d *Deployer) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := d.client.TransactionReceipt(waitCtx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			d.logger.Debug("receipt lookup failed",
				slog.String("tx_hash", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}
