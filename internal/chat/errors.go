package chat

import (
	"errors"
	"fmt"
	"net"

	"github.com/rickgao/trader-chat/internal/broker"
	"github.com/rickgao/trader-chat/internal/inference"
)

// Errors
var (
	ErrSendInProgress  = errors.New("a message is already being sent")
	ErrNotAcknowledged = errors.New("provider has not been acknowledged")
)

var errNoProvider = errors.New("no provider selected")

// Kind classifies a failed send cycle.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnacknowledged
	KindUnderfunded
	KindAccountSetup
	KindNetworkFailure
	KindMalformedResponse
	KindUnverified
	KindContractRevert
)

var kindNames = map[Kind]string{
	KindUnknown:           "unknown",
	KindUnacknowledged:    "unacknowledged",
	KindUnderfunded:       "underfunded",
	KindAccountSetup:      "account_setup",
	KindNetworkFailure:    "network_failure",
	KindMalformedResponse: "malformed_response",
	KindUnverified:        "unverified",
	KindContractRevert:    "contract_revert",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a send-cycle failure.
type Error struct {
	Kind Kind
	Op   string // Step that failed, e.g. "get request headers"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// Friendly messages by kind.
const (
	msgContractRevert = "Contract call failed. Make sure that: 1) the provider is acknowledged 2) the account balance is sufficient 3) the network connection is working"
	msgUnderfunded    = "Insufficient account balance, top up A0GI tokens on the Account tab first"
	msgAccountSetup   = "Account creation failed, check that the main ledger balance is sufficient"
	msgAcknowledge    = "Acknowledge this service provider on the Services tab first"
)

// FriendlyMessage renders err for display. Kinds without instructions
// fall back to the raw error text.
func FriendlyMessage(err error) string {
	switch KindOf(err) {
	case KindContractRevert:
		return msgContractRevert
	case KindUnderfunded:
		return msgUnderfunded
	case KindAccountSetup:
		return msgAccountSetup
	case KindUnacknowledged, KindUnverified:
		return msgAcknowledge
	default:
		return err.Error()
	}
}

// classify wraps err from step op in an *Error with the matching Kind.
// Funding failures keep their funding kind even when the transfer reverted.
func classify(op string, err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	kind := KindUnknown
	var (
		apiErr *inference.APIError
		netErr net.Error
	)
	switch {
	case errors.Is(err, broker.ErrAccountSetup):
		kind = KindAccountSetup
	case errors.Is(err, broker.ErrUnderfunded):
		kind = KindUnderfunded
	case broker.IsRevert(err):
		kind = KindContractRevert
	case errors.Is(err, ErrNotAcknowledged):
		kind = KindUnacknowledged
	case errors.Is(err, broker.ErrResponseRejected):
		kind = KindUnverified
	case errors.Is(err, inference.ErrMalformedResponse):
		kind = KindMalformedResponse
	case errors.As(err, &apiErr), errors.As(err, &netErr):
		kind = KindNetworkFailure
	}

	return &Error{Kind: kind, Op: op, Err: err}
}
