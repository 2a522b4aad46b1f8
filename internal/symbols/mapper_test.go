package symbols

import "testing"

func TestCanonical(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"binance", "ETHUSDT", "ETHUSDT"},
		{"binance", "1000BONKUSDT", "BONKUSDT"},
		{"binance", "1000PEPEUSDT", "PEPEUSDT"},
		{"binance", "1000SHIBUSDT", "SHIBUSDT"},
		{"bybit", "BTCUSDT", "BTCUSDT"},
		{"bybit", "SHIB1000USDT", "SHIBUSDT"},
		{"bybit", "1000BONKUSDT", "BONKUSDT"},
		{"bybit", "1000PEPEUSDT", "PEPEUSDT"},
		{"binance", "btcusdt", "BTCUSDT"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.exchange, tt.in); got != tt.want {
			t.Errorf("Canonical(%s,%s)=%s want %s", tt.exchange, tt.in, got, tt.want)
		}
	}
}

func TestForExchange(t *testing.T) {
	tests := []struct {
		exchange string
		in       string
		want     string
	}{
		{"binance", "BTCUSDT", "BTCUSDT"},
		{"binance", "SHIBUSDT", "1000SHIBUSDT"},
		{"bybit", "SHIBUSDT", "SHIB1000USDT"},
		{"bybit", "PEPEUSDT", "1000PEPEUSDT"},
		{"bybit", "ethusdt", "ETHUSDT"},
	}
	for _, tt := range tests {
		if got := ForExchange(tt.exchange, tt.in); got != tt.want {
			t.Errorf("ForExchange(%s,%s)=%s want %s", tt.exchange, tt.in, got, tt.want)
		}
	}
}

func TestCanonicalRoundTrip(t *testing.T) {
	for _, exchange := range []string{"binance", "bybit"} {
		for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SHIBUSDT", "PEPEUSDT", "BONKUSDT"} {
			if got := Canonical(exchange, ForExchange(exchange, sym)); got != sym {
				t.Errorf("%s: %s does not round-trip, got %s", exchange, sym, got)
			}
		}
	}
}
