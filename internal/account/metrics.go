package account

import (
	"github.com/shopspring/decimal"

	"github.com/songzhibin97/tradeflux/internal/models"
)

// USD is the quote currency wallet.
const USD = "usd"

// Round rounds v half away from zero to places decimals.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// AvailableBalances returns wallet balances minus what open orders have reserved.
// Open sells reserve the base coin, open buys reserve usd at the order price.
func AvailableBalances(s Snapshot) map[string]float64 {
	balances := make(map[string]decimal.Decimal, len(s.Wallets)+1)
	for cur, v := range s.Wallets {
		balances[cur] = decimal.NewFromFloat(v)
	}

	for _, o := range s.OpenOrders {
		remaining := decimal.NewFromFloat(o.Remaining)
		switch {
		case o.Remaining < 0:
			base := models.BaseCurrency(o.Symbol)
			balances[base] = balances[base].Add(remaining)
		case o.Remaining > 0:
			balances[USD] = balances[USD].Sub(remaining.Mul(decimal.NewFromFloat(o.Price)))
		}
	}

	out := make(map[string]float64, len(balances))
	for cur, v := range balances {
		out[cur] = v.Round(8).InexactFloat64()
	}
	return out
}

// AvailableBalance returns the available balance of one currency, 0 if unknown.
func AvailableBalance(s Snapshot, currency string) float64 {
	return AvailableBalances(s)[currency]
}

// TotalValue sums every wallet at its last USD price. Currencies without a price count as zero.
func TotalValue(s Snapshot) float64 {
	total := decimal.Zero
	for cur, balance := range s.Wallets {
		b := decimal.NewFromFloat(balance)
		if cur == USD {
			total = total.Add(b)
			continue
		}
		price, ok := s.Prices[models.SymbolFor(cur)]
		if !ok {
			continue
		}
		total = total.Add(b.Mul(decimal.NewFromFloat(price)))
	}
	return total.Round(2).InexactFloat64()
}

// Position returns (coin value - usd) / total value for symbol, in [-1, 1] for
// non-negative balances. It returns 0 when the total value is not positive.
func Position(s Snapshot, symbol string) float64 {
	value := TotalValue(s)
	if value <= 0 {
		return 0
	}
	coin := s.Wallets[models.BaseCurrency(symbol)] * s.Prices[symbol]
	return (coin - s.Wallets[USD]) / value
}

// Positions returns Position for every priced symbol.
func Positions(s Snapshot) map[string]float64 {
	out := make(map[string]float64, len(s.Prices))
	for symbol := range s.Prices {
		out[symbol] = Position(s, symbol)
	}
	return out
}
