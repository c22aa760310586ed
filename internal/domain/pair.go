package domain

import "strings"

// TradingPair identifies a market as base/quote currency (e.g. BTC/USDT).
// It is an immutable value; two pairs are equal when both fields match.
type TradingPair struct {
	Base  string
	Quote string
}

// NewTradingPair normalizes both currencies to upper case.
func NewTradingPair(base, quote string) TradingPair {
	return TradingPair{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParsePair parses "BTC/USDT" (or "BTC-USDT") into a TradingPair.
// The zero value is returned for input without a separator.
func ParsePair(s string) TradingPair {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = "-"
	}
	parts := strings.SplitN(s, sep, 2)
	if len(parts) != 2 {
		return TradingPair{}
	}
	return NewTradingPair(parts[0], parts[1])
}

// String returns the canonical "BASE/QUOTE" form.
func (p TradingPair) String() string {
	return p.Base + "/" + p.Quote
}

// IsZero reports whether the pair is unset.
func (p TradingPair) IsZero() bool {
	return p.Base == "" || p.Quote == ""
}
