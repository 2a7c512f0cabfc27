package exchange

import "strings"

// quoteAssets are the quote currencies recognized when splitting a wire
// symbol. Longer suffixes are listed first so FDUSD wins over USD-like
// endings.
var quoteAssets = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

// PairToWire converts the app pair format to the exchange wire symbol:
// "BTC/USDT" -> "BTCUSDT".
func PairToWire(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}

// WireToPair converts an exchange wire symbol back to the app pair format:
// "BTCUSDT" -> "BTC/USDT". Symbols with an unrecognized quote asset return
// ok=false and are dropped by the feed.
func WireToPair(symbol string) (string, bool) {
	for _, quote := range quoteAssets {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			base := symbol[:len(symbol)-len(quote)]
			return base + "/" + quote, true
		}
	}
	return "", false
}
