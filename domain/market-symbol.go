package domain

import (
	"fmt"
	"strings"
)

// MarketSymbol identifies the single instrument the engine runs against.
type MarketSymbol struct {
	BaseAsset  string
	QuoteAsset string
}

func NewMarketSymbol(base, quote string) (*MarketSymbol, error) {
	if base == "" || quote == "" {
		return nil, fmt.Errorf("base and quote must not be empty")
	}
	if strings.EqualFold(base, quote) {
		return nil, fmt.Errorf("base and quote must be different")
	}
	return &MarketSymbol{
		BaseAsset:  strings.ToLower(base),
		QuoteAsset: strings.ToLower(quote),
	}, nil
}

// NewMarketSymbolFromString parses a "BASE_QUOTE" pair.
func NewMarketSymbolFromString(s string) (*MarketSymbol, error) {
	split := strings.Split(s, "_")
	if len(split) != 2 {
		return nil, fmt.Errorf("invalid symbol %q: expected BASE_QUOTE", s)
	}
	return NewMarketSymbol(split[0], split[1])
}

func (ms *MarketSymbol) Join(separator string) string {
	return ms.BaseAsset + separator + ms.QuoteAsset
}

// Upper returns the joined symbol in exchange REST notation, e.g. "XMRUSDT".
func (ms *MarketSymbol) Upper() string {
	return strings.ToUpper(ms.Join(""))
}

func (ms *MarketSymbol) String() string {
	return ms.Join("_")
}

func (ms *MarketSymbol) Equal(other *MarketSymbol) bool {
	return ms.BaseAsset == other.BaseAsset && ms.QuoteAsset == other.QuoteAsset
}
