// Package prices provides a client for the public futures ticker REST API.
//
// REST endpoints:
//   - Production: https://fapi.binance.com/fapi/v1/ticker/price
//   - Testnet: https://testnet.binancefuture.com/fapi/v1/ticker/price
//
// The formatted output of FormatForDisplay is appended to chat questions as
// market context for the model.
package prices
