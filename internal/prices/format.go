package prices

import (
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/trader-chat/internal/model"
)

const (
	// NoDataText is returned by FormatForDisplay for an empty ticker list.
	NoDataText = "No price data available"

	// MaxDisplayTickers caps the number of formatted price lines.
	MaxDisplayTickers = 20

	timestampLayout = "2006-01-02 15:04:05"
)

// FormatLines renders up to MaxDisplayTickers tickers as "SYMBOL: $price".
func FormatLines(tickers []model.Ticker) []string {
	if len(tickers) > MaxDisplayTickers {
		tickers = tickers[:MaxDisplayTickers]
	}

	lines := make([]string, 0, len(tickers))
	for _, t := range tickers {
		lines = append(lines, t.Symbol+": $"+formatPrice(t.Price))
	}
	return lines
}

// FormatForDisplay renders tickers under a header stamped with now.
func FormatForDisplay(tickers []model.Ticker, now time.Time) string {
	if len(tickers) == 0 {
		return NoDataText
	}

	var b strings.Builder
	b.WriteString("Futures prices (updated ")
	b.WriteString(now.Format(timestampLayout))
	b.WriteString("):\n")
	b.WriteString(strings.Join(FormatLines(tickers), "\n"))
	return b.String()
}

// formatPrice rounds a decimal string to two places. Unparseable input is
// returned unchanged.
func formatPrice(s string) string {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
