package account

import (
	"math"

	"github.com/songzhibin97/tradeflux/internal/events"
)

// ExchangeWallet is the only wallet type the account trades from.
const ExchangeWallet = "exchange"

// applyWallets sets balances of exchange wallets. Deltas carry the new absolute balance.
func (s *Store) applyWallets(e events.WalletEvent) bool {
	changed := false
	for _, b := range e.Balances {
		if b.Type != ExchangeWallet {
			continue
		}
		s.wallets[b.Currency] = b.Balance
		changed = true
	}
	return changed
}

func (s *Store) applyPrice(e events.PriceEvent) bool {
	mid := e.WeightedMid()
	if math.IsNaN(mid) || math.IsInf(mid, 0) {
		s.logger.Warn("Dropping ticker with invalid mid", "symbol", e.Symbol)
		return false
	}
	s.prices[e.Symbol] = mid
	return true
}
