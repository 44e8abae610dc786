// Package quant rounds prices and quantities to exchange tick/lot granularity.
//
// Pacifica rejects any price that is not an exact multiple of the symbol's
// tick size and any quantity that is not an exact multiple of its lot size,
// so every value leaving the bot passes through here first.
package quant

import (
	"math"
	"strconv"
	"strings"
)

// eps absorbs float64 representation noise when counting steps
// (0.000813/0.00001 evaluates to 81.299999... on IEEE754).
const eps = 1e-9

// Round snaps value to the nearest multiple of step.
// A step of 0 returns the value unchanged.
func Round(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	steps := math.Round(value/step + eps)
	return rescale(steps*step, step)
}

// Floor snaps value down to a multiple of step.
func Floor(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	steps := math.Floor(value/step + eps)
	return rescale(steps*step, step)
}

// Ceil snaps value up to a multiple of step.
func Ceil(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	steps := math.Ceil(value/step - eps)
	return rescale(steps*step, step)
}

// Quantity snaps a positive quantity to the lot grid without ever collapsing
// it to zero: anything at or above half a lot becomes at least one lot.
// Works for fractional lots (0.00001) and integer lots (>= 1) alike.
func Quantity(qty, lot float64) float64 {
	if lot <= 0 {
		return qty
	}
	q := Round(qty, lot)
	if q == 0 && qty >= lot/2 {
		return rescale(lot, lot)
	}
	return q
}

// Decimals reports how many decimal places a step uses (0.00001 -> 5, 10 -> 0).
func Decimals(step float64) int {
	s := strconv.FormatFloat(step, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// rescale strips accumulated float noise by re-rounding to the step's own
// decimal precision. Integer steps pass through math.Round only.
func rescale(v, step float64) float64 {
	d := Decimals(step)
	if d == 0 {
		return math.Round(v)
	}
	pow := math.Pow(10, float64(d))
	return math.Round(v*pow) / pow
}
