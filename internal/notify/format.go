package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// usd renders an amount as fixed-point dollars.
func usd(v float64) string {
	return "$" + decimal.NewFromFloat(v).StringFixed(2)
}

func pct(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(3) + "%"
}

func price(v float64) string {
	return decimal.NewFromFloat(v).Round(6).String()
}

// FormatOpportunity renders the alert body for one opportunity.
func FormatOpportunity(opp domain.ArbitrageOpportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Buy %s @ %s (impact %s)\n", opp.BuyVenue, price(opp.AdjustedBuyPrice), pct(opp.BuyPriceImpactPct))
	fmt.Fprintf(&b, "Sell %s @ %s (impact %s)\n", opp.SellVenue, price(opp.AdjustedSellPrice), pct(opp.SellPriceImpactPct))
	fmt.Fprintf(&b, "Size %s, gross %s\n", usd(opp.InvestmentAmount), usd(opp.GrossProfit))
	fmt.Fprintf(&b, "Fees: trading %s, platform %s, gas %s\n", usd(opp.TradingFees), usd(opp.PlatformFee), usd(opp.GasFee))
	fmt.Fprintf(&b, "Net %s (%s), confidence %s", usd(opp.NetProfit), pct(opp.NetProfitPct), opp.Confidence)
	return b.String()
}
