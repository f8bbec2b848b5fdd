package model

import "math/big"

// -----------------------------------------------------------------------------
// Conversation Types
// -----------------------------------------------------------------------------

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	Role        Role   `json:"role"`
	Content     string `json:"content"`
	ID          string `json:"id,omitempty"`          // Inference response id
	Verified    bool   `json:"verified,omitempty"`    // Broker accepted the response
	VerifyError bool   `json:"verifyError,omitempty"` // Broker rejected the response
}

// Provider is a remote inference service selected by the user.
type Provider struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint"`
}

// -----------------------------------------------------------------------------
// Market Types
// -----------------------------------------------------------------------------

// Ticker is a last-price snapshot for one futures symbol.
type Ticker struct {
	Symbol string `json:"symbol"` // e.g. "BTCUSDT"
	Price  string `json:"price"`  // Decimal string, e.g. "67012.10"
}

// -----------------------------------------------------------------------------
// Broker Types
// -----------------------------------------------------------------------------

// ServiceMetadata describes where and how to reach a provider.
type ServiceMetadata struct {
	Endpoint string `json:"endpoint"`
	Model    string `json:"model"`
}

// Account is the provider sub-account funded from the main ledger.
type Account struct {
	Provider string
	Balance  *big.Int // Base units
}
