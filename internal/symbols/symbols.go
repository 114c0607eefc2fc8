package symbols

import (
	"fmt"
	"sort"
	"strings"
)

// Symbol identifies a tradable pair on the exchange, in Binance's
// uppercase wire format (e.g. "BTCUSDT").
type Symbol string

const (
	BTCUSDT  Symbol = "BTCUSDT"
	ETHUSDT  Symbol = "ETHUSDT"
	BNBUSDT  Symbol = "BNBUSDT"
	SOLUSDT  Symbol = "SOLUSDT"
	XRPUSDT  Symbol = "XRPUSDT"
	ADAUSDT  Symbol = "ADAUSDT"
	DOGEUSDT Symbol = "DOGEUSDT"
	LTCUSDT  Symbol = "LTCUSDT"
	DOTUSDT  Symbol = "DOTUSDT"
	LINKUSDT Symbol = "LINKUSDT"
)

var table = map[Symbol]struct{}{
	BTCUSDT:  {},
	ETHUSDT:  {},
	BNBUSDT:  {},
	SOLUSDT:  {},
	XRPUSDT:  {},
	ADAUSDT:  {},
	DOGEUSDT: {},
	LTCUSDT:  {},
	DOTUSDT:  {},
	LINKUSDT: {},
}

// Parse validates a symbol token against the known table. Input is
// case-insensitive; the returned Symbol is always uppercase.
func Parse(s string) (Symbol, error) {
	sym := Symbol(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := table[sym]; !ok {
		return "", fmt.Errorf("unknown symbol %q", s)
	}
	return sym, nil
}

// IsKnown reports whether sym is part of the symbol table.
func IsKnown(sym Symbol) bool {
	_, ok := table[sym]
	return ok
}

// All returns every known symbol in lexical order.
func All() []Symbol {
	out := make([]Symbol, 0, len(table))
	for s := range table {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lower returns the lowercase form used in stream names.
func (s Symbol) Lower() string {
	return strings.ToLower(string(s))
}

func (s Symbol) String() string {
	return string(s)
}
