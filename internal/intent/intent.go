// Package intent decides whether a chat question is about trading and which
// futures symbol it names.
//
// Both checks are keyword heuristics. They are best-effort hints used to
// decide whether to attach market data, never an authoritative classification.
package intent

import (
	"regexp"
	"strings"
)

// tradingKeywords are matched as lower-case substrings.
var tradingKeywords = []string{
	"交易", "价格", "币安", "binance", "btc", "eth", "买入", "卖出",
	"做多", "做空", "建议", "分析", "行情", "市场", "加密货币",
	"crypto", "trading", "price", "buy", "sell", "long", "short",
}

var symbolPattern = regexp.MustCompile(`(?i)[A-Z]{2,10}USDT`)

// IsTradingRelated reports whether text mentions any trading keyword.
func IsTradingRelated(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range tradingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractSymbol returns the first USDT-quoted pair in text, upper-cased.
// "price of ethusdt and BTCUSDT" -> "ETHUSDT", true
func ExtractSymbol(text string) (string, bool) {
	m := symbolPattern.FindString(text)
	if m == "" {
		return "", false
	}
	return strings.ToUpper(m), true
}
