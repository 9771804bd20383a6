// Package models defines the data structures shared by the evaluator,
// the strategy store, the order router, and the backtest driver.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Variant identifies which per-phase evaluator a strategy runs under.
type Variant string

// Canonical variant identifiers. Both snake_case and hyphenated spellings
// are accepted on read (see UnmarshalJSON/UnmarshalYAML); snake_case is
// always written back out.
const (
	VariantTrailingStop     Variant = "trailing_stop"
	VariantBracket          Variant = "bracket"
	VariantScaleOut         Variant = "scale_out"
	VariantGrid             Variant = "grid"
	VariantPullbackTrailing Variant = "pullback_trailing"
)

// canonicalVariants maps every accepted spelling (hyphenated or snake_case)
// to its canonical snake_case form. Normalization happens once here, at
// the deserialization boundary, rather than being re-derived at each call
// site that reads a variant string.
var canonicalVariants = map[string]Variant{
	"trailing_stop":     VariantTrailingStop,
	"trailing-stop":     VariantTrailingStop,
	"bracket":           VariantBracket,
	"scale_out":         VariantScaleOut,
	"scale-out":         VariantScaleOut,
	"grid":              VariantGrid,
	"pullback_trailing": VariantPullbackTrailing,
	"pullback-trailing": VariantPullbackTrailing,
}

// CanonicalizeVariant normalizes a raw variant string to its canonical
// snake_case spelling. It returns an error for unknown variants.
func CanonicalizeVariant(raw string) (Variant, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if v, ok := canonicalVariants[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("unknown strategy variant %q", raw)
}

// UnmarshalJSON accepts canonical or hyphenated spellings and stores the
// canonical form.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	canonical, err := CanonicalizeVariant(raw)
	if err != nil {
		return err
	}
	*v = canonical
	return nil
}

// MarshalJSON always writes the canonical snake_case spelling.
func (v Variant) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

// UnmarshalYAML accepts canonical or hyphenated spellings and stores the
// canonical form.
func (v *Variant) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	canonical, err := CanonicalizeVariant(raw)
	if err != nil {
		return err
	}
	*v = canonical
	return nil
}

// Valid reports whether v is one of the recognized canonical variants.
func (v Variant) Valid() bool {
	switch v {
	case VariantTrailingStop, VariantBracket, VariantScaleOut, VariantGrid, VariantPullbackTrailing:
		return true
	default:
		return false
	}
}
