package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/rickgao/trader-chat/internal/metrics"
	"github.com/rickgao/trader-chat/internal/model"
)

// Funding errors
var (
	ErrAccountSetup = errors.New("provider account creation failed")
	ErrUnderfunded  = errors.New("provider account top-up failed")
)

// FundingPolicy decides when and how much to move into a sub-account.
type FundingPolicy struct {
	TopUp    *big.Int // Amount per transfer
	LowWater *big.Int // Balances at or below this are topped up
	Service  string   // Ledger service name, e.g. "inference"
}

// DefaultFundingPolicy transfers 2 tokens whenever the balance is at or
// below 1.5 tokens.
func DefaultFundingPolicy() FundingPolicy {
	return FundingPolicy{
		TopUp:    new(big.Int).Mul(big.NewInt(2), tokenUnit),
		LowWater: new(big.Int).Div(new(big.Int).Mul(big.NewInt(3), tokenUnit), big.NewInt(2)),
		Service:  "inference",
	}
}

var tokenUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// EnsureFunded makes sure the provider sub-account exists and holds more
// than the low-water mark. A missing account is created with one top-up and
// read back; a low balance gets one more top-up.
func EnsureFunded(ctx context.Context, b Broker, provider string, p FundingPolicy, logger *slog.Logger) (*model.Account, error) {
	if logger == nil {
		logger = slog.Default()
	}

	account, err := b.Account(ctx, provider)
	if errors.Is(err, ErrAccountNotFound) {
		logger.Info("provider account missing, funding new account",
			"provider", provider,
			"amount", p.TopUp.String(),
		)
		if err := b.TransferFunds(ctx, provider, p.Service, p.TopUp); err != nil {
			metrics.FundingTransfers.WithLabelValues("create", "error").Inc()
			return nil, fmt.Errorf("%w: %w", ErrAccountSetup, err)
		}
		metrics.FundingTransfers.WithLabelValues("create", "ok").Inc()

		account, err = b.Account(ctx, provider)
		if err != nil {
			return nil, fmt.Errorf("%w: read back account: %w", ErrAccountSetup, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	if account.Balance == nil || account.Balance.Cmp(p.LowWater) <= 0 {
		logger.Info("provider account low, topping up",
			"provider", provider,
			"balance", balanceString(account.Balance),
			"amount", p.TopUp.String(),
		)
		if err := b.TransferFunds(ctx, provider, p.Service, p.TopUp); err != nil {
			metrics.FundingTransfers.WithLabelValues("top_up", "error").Inc()
			return nil, fmt.Errorf("%w: %w", ErrUnderfunded, err)
		}
		metrics.FundingTransfers.WithLabelValues("top_up", "ok").Inc()
	}

	return account, nil
}

func balanceString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}
