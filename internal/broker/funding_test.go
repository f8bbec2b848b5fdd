package broker

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/rickgao/trader-chat/internal/model"
)

type fakeLedger struct {
	accounts    map[string]*big.Int
	accountErr  error
	transferErr error

	accountCalls int
	transfers    []*big.Int
}

func (f *fakeLedger) AcknowledgementStatus(context.Context, string) (bool, error) {
	return true, nil
}

func (f *fakeLedger) ServiceMetadata(context.Context, string) (model.ServiceMetadata, error) {
	return model.ServiceMetadata{}, nil
}

func (f *fakeLedger) RequestHeaders(context.Context, string, string) (map[string]string, error) {
	return nil, nil
}

func (f *fakeLedger) Account(_ context.Context, provider string) (*model.Account, error) {
	f.accountCalls++
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	bal, ok := f.accounts[provider]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &model.Account{Provider: provider, Balance: new(big.Int).Set(bal)}, nil
}

func (f *fakeLedger) TransferFunds(_ context.Context, provider, _ string, amount *big.Int) error {
	if f.transferErr != nil {
		return f.transferErr
	}
	f.transfers = append(f.transfers, amount)
	cur, ok := f.accounts[provider]
	if !ok {
		cur = new(big.Int)
	}
	f.accounts[provider] = new(big.Int).Add(cur, amount)
	return nil
}

func (f *fakeLedger) ProcessResponse(context.Context, string, string, string) error {
	return nil
}

func tokens(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

func TestDefaultFundingPolicy(t *testing.T) {
	p := DefaultFundingPolicy()
	if p.TopUp.String() != "2000000000000000000" {
		t.Errorf("TopUp = %s", p.TopUp)
	}
	if p.LowWater.String() != "1500000000000000000" {
		t.Errorf("LowWater = %s", p.LowWater)
	}
	if p.Service != "inference" {
		t.Errorf("Service = %q", p.Service)
	}
}

func TestEnsureFunded(t *testing.T) {
	policy := DefaultFundingPolicy()

	t.Run("missing account is created then read back", func(t *testing.T) {
		f := &fakeLedger{accounts: map[string]*big.Int{}}
		acct, err := EnsureFunded(context.Background(), f, "0xabc", policy, nil)
		if err != nil {
			t.Fatalf("EnsureFunded() error = %v", err)
		}
		if len(f.transfers) != 1 {
			t.Fatalf("transfers = %d, want 1", len(f.transfers))
		}
		if f.accountCalls != 2 {
			t.Errorf("accountCalls = %d, want 2", f.accountCalls)
		}
		if acct.Balance.Cmp(policy.TopUp) != 0 {
			t.Errorf("Balance = %s, want %s", acct.Balance, policy.TopUp)
		}
	})

	t.Run("healthy balance is left alone", func(t *testing.T) {
		f := &fakeLedger{accounts: map[string]*big.Int{"0xabc": tokens("1500000000000000001")}}
		if _, err := EnsureFunded(context.Background(), f, "0xabc", policy, nil); err != nil {
			t.Fatalf("EnsureFunded() error = %v", err)
		}
		if len(f.transfers) != 0 {
			t.Errorf("transfers = %d, want 0", len(f.transfers))
		}
	})

	t.Run("balance at low water is topped up", func(t *testing.T) {
		f := &fakeLedger{accounts: map[string]*big.Int{"0xabc": tokens("1500000000000000000")}}
		if _, err := EnsureFunded(context.Background(), f, "0xabc", policy, nil); err != nil {
			t.Fatalf("EnsureFunded() error = %v", err)
		}
		if len(f.transfers) != 1 || f.transfers[0].Cmp(policy.TopUp) != 0 {
			t.Errorf("transfers = %v, want one of %s", f.transfers, policy.TopUp)
		}
	})

	t.Run("creation failure", func(t *testing.T) {
		f := &fakeLedger{accounts: map[string]*big.Int{}, transferErr: errors.New("insufficient ledger balance")}
		_, err := EnsureFunded(context.Background(), f, "0xabc", policy, nil)
		if !errors.Is(err, ErrAccountSetup) {
			t.Errorf("error = %v, want ErrAccountSetup", err)
		}
	})

	t.Run("top-up failure", func(t *testing.T) {
		f := &fakeLedger{accounts: map[string]*big.Int{"0xabc": big.NewInt(1)}, transferErr: errors.New("insufficient ledger balance")}
		_, err := EnsureFunded(context.Background(), f, "0xabc", policy, nil)
		if !errors.Is(err, ErrUnderfunded) {
			t.Errorf("error = %v, want ErrUnderfunded", err)
		}
	})

	t.Run("revert survives wrapping", func(t *testing.T) {
		f := &fakeLedger{accounts: map[string]*big.Int{"0xabc": big.NewInt(1)}, transferErr: &Error{StatusCode: 500, Code: CodeRevert}}
		_, err := EnsureFunded(context.Background(), f, "0xabc", policy, nil)
		if !IsRevert(err) {
			t.Errorf("IsRevert(%v) = false, want true", err)
		}
		if !errors.Is(err, ErrUnderfunded) {
			t.Errorf("error = %v, want ErrUnderfunded", err)
		}
	})

	t.Run("account read failure is fatal", func(t *testing.T) {
		f := &fakeLedger{accounts: map[string]*big.Int{}, accountErr: errors.New("connection refused")}
		_, err := EnsureFunded(context.Background(), f, "0xabc", policy, nil)
		if err == nil {
			t.Fatal("EnsureFunded() should fail")
		}
		if errors.Is(err, ErrAccountSetup) || errors.Is(err, ErrUnderfunded) {
			t.Errorf("error = %v, should not be a funding error", err)
		}
		if len(f.transfers) != 0 {
			t.Errorf("transfers = %d, want 0", len(f.transfers))
		}
	})
}
