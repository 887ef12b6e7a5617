package ledger

import (
	"gridpilot/pkg/execution"
	"gridpilot/pkg/market"
)

// Venue is everything the bot needs from a trading venue: market data,
// routing quotes, and the ledger RPC surface.
type Venue interface {
	market.Provider
	execution.QuoteService
	execution.Endpoint
}
