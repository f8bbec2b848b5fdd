// Package model defines shared data types used across the trader chat service.
//
// Conventions:
//   - Prices: decimal strings exactly as the exchange returned them
//   - Ledger amounts: *big.Int base units (1 token = 10^18 units)
//   - Message IDs: the inference response id, empty until the provider assigns one
package model
