package models

import "time"

// Strategy is the central aggregate the evaluator, store, and router all
// operate on. It is intentionally a single tagged-variant record rather
// than a dynamic/dict-shaped document: VariantParams and RuntimeState
// carry only the fields relevant to Variant, set by the store's
// canonicalizing deserializer (see internal/store).
type Strategy struct {
	ID             string         `json:"id" yaml:"id"`
	Symbol         string         `json:"symbol" yaml:"symbol"`
	Variant        Variant        `json:"variant" yaml:"variant"`
	Quantity       int            `json:"quantity" yaml:"quantity"`
	EntryPrice     *float64       `json:"entry_price,omitempty" yaml:"entry_price,omitempty"`
	VariantParams  VariantParams  `json:"variant_params" yaml:"variant_params"`
	Phase          Phase          `json:"phase" yaml:"phase"`
	Enabled        bool           `json:"enabled" yaml:"enabled"`
	ScheduleEnabled bool          `json:"schedule_enabled" yaml:"schedule_enabled"`
	ScheduleAt     *time.Time     `json:"schedule_at,omitempty" yaml:"schedule_at,omitempty"`
	RuntimeState   RuntimeState   `json:"runtime_state" yaml:"runtime_state"`
	CreatedAt      time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" yaml:"updated_at"`
}

// VariantParams is a discriminated record: only the block matching
// Strategy.Variant is populated. §4.5 per-variant semantics.
type VariantParams struct {
	TrailingStop     *TrailingStopParams     `json:"trailing_stop,omitempty" yaml:"trailing_stop,omitempty"`
	Bracket          *BracketParams          `json:"bracket,omitempty" yaml:"bracket,omitempty"`
	ScaleOut         *ScaleOutParams         `json:"scale_out,omitempty" yaml:"scale_out,omitempty"`
	Grid             *GridParams             `json:"grid,omitempty" yaml:"grid,omitempty"`
	PullbackTrailing *PullbackTrailingParams `json:"pullback_trailing,omitempty" yaml:"pullback_trailing,omitempty"`
}

// TrailingStopParams configures the trailing-stop variant.
type TrailingStopParams struct {
	TrailingPct float64 `json:"trailing_pct" yaml:"trailing_pct"`
}

// BracketParams configures the bracket (OCO take-profit/stop-loss) variant.
type BracketParams struct {
	TakeProfitPct float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
	StopLossPct   float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
}

// ScaleOutParams configures the scale-out variant. Rungs and Fractions are
// parallel arrays; Fractions must sum to 1.0 (rounding residue is added
// to the last rung, see §4.5).
type ScaleOutParams struct {
	Rungs     []float64 `json:"rungs" yaml:"rungs"`
	Fractions []float64 `json:"fractions" yaml:"fractions"`
}

// GridParams configures the grid variant. Spacing is a fraction of
// ReferencePrice (e.g. 0.05 for 5%), not an absolute dollar increment —
// levels sit at ReferencePrice*(1±i*Spacing) per §4.5.
type GridParams struct {
	ReferencePrice float64 `json:"reference_price" yaml:"reference_price"`
	Spacing        float64 `json:"spacing" yaml:"spacing"`
	Levels         int     `json:"levels" yaml:"levels"`
}

// PullbackTrailingParams configures the pullback-trailing variant.
type PullbackTrailingParams struct {
	PullbackPct float64 `json:"pullback_pct" yaml:"pullback_pct"`
	TrailingPct float64 `json:"trailing_pct" yaml:"trailing_pct"`
}

// RuntimeState holds variant-specific and cross-cutting mutable state.
// Only the fields relevant to Strategy.Variant are meaningful at any time;
// Quarantined/LastError are cross-cutting (§7 propagation policy).
type RuntimeState struct {
	// Trailing-stop / pullback-trailing
	HighWatermark *float64 `json:"high_watermark,omitempty" yaml:"high_watermark,omitempty"`
	ObservedHigh  *float64 `json:"observed_high,omitempty" yaml:"observed_high,omitempty"`

	// Common to all variants once a position is open
	EntryFillPrice *float64 `json:"entry_fill_price,omitempty" yaml:"entry_fill_price,omitempty"`
	EntryOrderID   string   `json:"entry_order_id,omitempty" yaml:"entry_order_id,omitempty"`
	ExitOrderID    string   `json:"exit_order_id,omitempty" yaml:"exit_order_id,omitempty"`
	ExitFillPrice  *float64 `json:"exit_fill_price,omitempty" yaml:"exit_fill_price,omitempty"`

	// Bracket: TP is placed first; SL only once TPAccepted is observed by
	// the engine. Whichever of TPFilled/SLFilled is set first triggers
	// cancellation of the other (OcoCancelIssued guards against reissuing
	// that cancel every tick while it is in flight).
	TPOrderID       string `json:"tp_order_id,omitempty" yaml:"tp_order_id,omitempty"`
	SLOrderID       string `json:"sl_order_id,omitempty" yaml:"sl_order_id,omitempty"`
	TPAccepted      bool   `json:"tp_accepted,omitempty" yaml:"tp_accepted,omitempty"`
	TPFilled        bool   `json:"tp_filled,omitempty" yaml:"tp_filled,omitempty"`
	SLFilled        bool   `json:"sl_filled,omitempty" yaml:"sl_filled,omitempty"`
	OcoCancelIssued bool   `json:"oco_cancel_issued,omitempty" yaml:"oco_cancel_issued,omitempty"`
	OcoDesync       bool   `json:"oco_desync,omitempty" yaml:"oco_desync,omitempty"`

	// Scale-out
	RungsFilled []bool `json:"rungs_filled,omitempty" yaml:"rungs_filled,omitempty"`
	RungOrderIDs []string `json:"rung_order_ids,omitempty" yaml:"rung_order_ids,omitempty"`

	// Grid
	GridLevels []GridLevel `json:"grid_levels,omitempty" yaml:"grid_levels,omitempty"`

	// Cross-cutting error isolation (§7)
	Quarantined bool   `json:"quarantined,omitempty" yaml:"quarantined,omitempty"`
	LastError   string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// GridLevel represents one rung of a grid strategy's ladder.
type GridLevel struct {
	Price     float64 `json:"price" yaml:"price"`
	Side      Side    `json:"side" yaml:"side"`
	OrderID   string  `json:"order_id,omitempty" yaml:"order_id,omitempty"`
	Filled    bool    `json:"filled" yaml:"filled"`
	QueuedOpp bool    `json:"queued_opposite,omitempty" yaml:"queued_opposite,omitempty"`
}

// IsActive implements §4.1's active predicate: enabled ∧ ¬schedule_pending(now).
func (s *Strategy) IsActive(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.RuntimeState.Quarantined {
		return false
	}
	if s.SchedulePending(now) {
		return false
	}
	return !IsTerminalPhase(s.Phase)
}

// SchedulePending implements schedule_pending(t) ≡ schedule_enabled ∧ schedule_at > t.
func (s *Strategy) SchedulePending(now time.Time) bool {
	return s.ScheduleEnabled && s.ScheduleAt != nil && s.ScheduleAt.After(now)
}

// ExitFilled reports whether the single outstanding exit order (used by
// the trailing-stop and pullback-trailing variants) has been observed
// filled by the engine.
func (r *RuntimeState) ExitFilled() bool {
	return r.ExitFillPrice != nil
}

// RequiresEntryFillPrice reports whether the current phase invariant
// requires a non-nil RuntimeState.EntryFillPrice (§3 invariants).
func (s *Strategy) RequiresEntryFillPrice() bool {
	return s.Phase == PhasePositionOpen || s.Phase == PhaseExiting
}
