package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Asset identifies a tradable asset (e.g., "BTC", "USDT").
type Asset string

// Price is a decimal value bound to an asset. Arithmetic between two Prices
// requires matching assets; monetary values never go through binary floats.
type Price struct {
	Asset Asset
	Value decimal.Decimal
}

// NewPrice creates a Price for the given asset.
func NewPrice(asset Asset, value decimal.Decimal) Price {
	return Price{Asset: asset, Value: value}
}

// NewPriceFromFloat creates a Price from a float64 observation (e.g., a candle
// close). The conversion happens exactly once at the boundary; all further
// arithmetic stays decimal.
func NewPriceFromFloat(asset Asset, value float64) Price {
	return Price{Asset: asset, Value: decimal.NewFromFloat(value)}
}

// IsZero reports whether the price has no asset and no value (the unset state).
func (p Price) IsZero() bool {
	return p.Asset == "" && p.Value.IsZero()
}

// Add returns p + other. Fails if the assets differ.
func (p Price) Add(other Price) (Price, error) {
	if p.Asset != other.Asset {
		return Price{}, fmt.Errorf("%w: cannot add %s to %s", ErrValidation, other.Asset, p.Asset)
	}
	return Price{Asset: p.Asset, Value: p.Value.Add(other.Value)}, nil
}

// Sub returns p - other. Fails if the assets differ.
func (p Price) Sub(other Price) (Price, error) {
	if p.Asset != other.Asset {
		return Price{}, fmt.Errorf("%w: cannot subtract %s from %s", ErrValidation, other.Asset, p.Asset)
	}
	return Price{Asset: p.Asset, Value: p.Value.Sub(other.Value)}, nil
}

// Mul returns the price scaled by a dimensionless factor.
func (p Price) Mul(factor decimal.Decimal) Price {
	return Price{Asset: p.Asset, Value: p.Value.Mul(factor)}
}

// String renders the price as "12.34 USDT".
func (p Price) String() string {
	return fmt.Sprintf("%s %s", p.Value.String(), p.Asset)
}

// Pair is an ordered (left, right) trading instrument, e.g. BTC/USDT.
// The left asset is held as a position, the right asset is the capital side.
type Pair struct {
	Left  Asset
	Right Asset
}

// NewPair creates a Pair and validates both legs are set and distinct.
func NewPair(left, right Asset) (Pair, error) {
	if left == "" || right == "" {
		return Pair{}, fmt.Errorf("%w: pair requires both assets", ErrValidation)
	}
	if left == right {
		return Pair{}, fmt.Errorf("%w: pair legs must differ (%s)", ErrValidation, left)
	}
	return Pair{Left: left, Right: right}, nil
}

// Symbol returns the venue-style concatenated symbol, e.g. "BTCUSDT".
func (p Pair) Symbol() string {
	return string(p.Left) + string(p.Right)
}

// String renders the pair as "BTC/USDT".
func (p Pair) String() string {
	return string(p.Left) + "/" + string(p.Right)
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.Left == "" && p.Right == ""
}
