package prices

import (
	"context"

	"github.com/rickgao/trader-chat/internal/model"
)

// Cache holds recent single-symbol tickers. Implementations swallow their
// own storage errors; a miss simply falls through to the API.
type Cache interface {
	GetTicker(ctx context.Context, symbol string) (model.Ticker, bool)
	PutTicker(ctx context.Context, t model.Ticker)
}
