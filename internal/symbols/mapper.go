package symbols

import "strings"

// Canonical converts an exchange-reported symbol to the canonical dashboard
// form: uppercase, no separators, no contract-size prefixes. Binance and
// Bybit list some small-denomination perpetuals as 1000-multiples; those
// collapse onto the plain symbol so both exchanges land on the same key.
func Canonical(exchange, sym string) string {
	sym = strings.ToUpper(sym)
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
		sym = strings.ReplaceAll(sym, "-", "")
	}
	return sym
}

// ForExchange converts a canonical symbol to the form the exchange expects
// in REST and websocket requests. Inverse of Canonical for the symbols this
// service tracks.
func ForExchange(exchange, canonical string) string {
	canonical = strings.ToUpper(canonical)
	switch strings.ToLower(exchange) {
	case "binance":
		switch canonical {
		case "BONKUSDT":
			return "1000BONKUSDT"
		case "PEPEUSDT":
			return "1000PEPEUSDT"
		case "SHIBUSDT":
			return "1000SHIBUSDT"
		}
	case "bybit":
		switch canonical {
		case "BONKUSDT":
			return "1000BONKUSDT"
		case "PEPEUSDT":
			return "1000PEPEUSDT"
		case "SHIBUSDT":
			return "SHIB1000USDT"
		}
	}
	return canonical
}
