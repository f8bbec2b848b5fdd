package broker

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/rickgao/trader-chat/internal/model"
)

// Errors
var (
	ErrAccountNotFound  = errors.New("provider sub-account not found")
	ErrResponseRejected = errors.New("response verification rejected")
)

// Broker mediates the payment ledger, request headers and response
// verification for paid inference providers.
type Broker interface {
	// AcknowledgementStatus reports whether the user approved the provider.
	AcknowledgementStatus(ctx context.Context, provider string) (bool, error)

	// ServiceMetadata returns the provider's endpoint and model.
	ServiceMetadata(ctx context.Context, provider string) (model.ServiceMetadata, error)

	// RequestHeaders returns billing headers for a request whose signed
	// content is payload.
	RequestHeaders(ctx context.Context, provider, payload string) (map[string]string, error)

	// Account returns the provider sub-account, or ErrAccountNotFound.
	Account(ctx context.Context, provider string) (*model.Account, error)

	// TransferFunds moves amount base units from the main ledger into the
	// provider sub-account for the given service.
	TransferFunds(ctx context.Context, provider, service string, amount *big.Int) error

	// ProcessResponse verifies and settles a response. A nil error means the
	// response was accepted.
	ProcessResponse(ctx context.Context, provider, content, chatID string) error
}

// Error is a failure reported by the broker itself.
type Error struct {
	StatusCode int
	Code       string // Gateway error code, e.g. "revert"
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("broker error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *Error) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// CodeRevert marks a ledger contract call that reverted without data.
const CodeRevert = "revert"

// IsRevert reports whether err carries a contract-call revert from the broker.
func IsRevert(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == CodeRevert
}
