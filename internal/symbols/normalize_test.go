package symbols

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"binance", "ETHUSDT", "ETHUSDT"},
		{"binance", "1000BONKUSDT", "BONKUSDT"},
		{"binance", "1000PEPEUSDT", "PEPEUSDT"},
		{"binance", "1000SHIBUSDT", "SHIBUSDT"},
		{"bybit", "SHIB1000USDT", "SHIBUSDT"},
		{"bybit", "1000BONKUSDT", "BONKUSDT"},
		{"okx", "BTC-USDT-SWAP", "BTCUSDT"},
		{"okx", "ETH-USDT", "ETHUSDT"},
		{"bitfinex", "tBTCUSD", "BTCUSD"},
		{"bitfinex", "tBTC:UST", "BTCUSDT"},
		{"bitfinex", "tXBTUSD", "BTCUSD"},
		{"Binance", "btcusdt", "BTCUSDT"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.exchange, tt.in); got != tt.want {
			t.Errorf("Normalize(%s,%s)=%s want %s", tt.exchange, tt.in, got, tt.want)
		}
	}
}
