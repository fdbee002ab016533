package symbols

import "strings"

// Normalize converts an exchange-specific symbol to the canonical form used
// in batch keys and storage paths: uppercase, no separators, BTC instead of
// XBT and USDT instead of Bitfinex's UST.
func Normalize(exchange, sym string) string {
	switch strings.ToLower(exchange) {
	case "binance":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "1000SHIBUSDT":
			sym = "SHIBUSDT"
		}
	case "bybit":
		switch sym {
		case "1000BONKUSDT":
			sym = "BONKUSDT"
		case "1000PEPEUSDT":
			sym = "PEPEUSDT"
		case "SHIB1000USDT":
			sym = "SHIBUSDT"
		}
	case "okx":
		sym = strings.TrimSuffix(sym, "-SWAP")
		sym = strings.ReplaceAll(sym, "-", "")
	case "bitfinex":
		// tBTCUSD, tBTC:USD and fUSD style pairs
		if len(sym) > 1 && (sym[0] == 't' || sym[0] == 'f') {
			sym = sym[1:]
		}
		sym = strings.ReplaceAll(sym, ":", "")
		if strings.HasSuffix(sym, "UST") {
			sym += "T"
		}
	}
	sym = strings.ToUpper(sym)
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}
	return sym
}
