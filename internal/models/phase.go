package models

import "fmt"

// Phase is the high-level lifecycle state of a Strategy.
type Phase string

const (
	// PhasePending means the entry condition has not yet been met.
	PhasePending Phase = "pending"
	// PhaseEntryActive means an entry order has been submitted, awaiting fill.
	PhaseEntryActive Phase = "entry_active"
	// PhasePositionOpen means the entry filled and the position is live.
	PhasePositionOpen Phase = "position_open"
	// PhaseExiting means an exit condition fired and exit order(s) are working.
	PhaseExiting Phase = "exiting"
	// PhaseCompleted is terminal: the strategy's position lifecycle finished normally.
	PhaseCompleted Phase = "completed"
	// PhaseCancelled is terminal: the strategy was cancelled from any non-terminal phase.
	PhaseCancelled Phase = "cancelled"
)

// Condition names used on PhaseTransition entries and in audit records.
const (
	ConditionEntryMet       = "entry_condition_met"
	ConditionEntryFill      = "entry_fill"
	ConditionExitMet        = "exit_condition_met"
	ConditionExitFill       = "exit_fill"
	ConditionExternalCancel = "external_cancel"
	ConditionSkipEntry      = "skip_entry"
)

// PhaseTransition mirrors the teacher's StateTransition table: an explicit,
// inspectable list of the only moves the evaluator is allowed to make.
type PhaseTransition struct {
	From      Phase
	To        Phase
	Condition string
}

// ValidPhaseTransitions enumerates every transition the evaluator may
// perform. A strategy's phase monotonically advances through this table;
// PhaseCancelled is reachable from any non-terminal phase.
var ValidPhaseTransitions = []PhaseTransition{
	{PhasePending, PhaseEntryActive, ConditionEntryMet},
	{PhasePending, PhasePositionOpen, ConditionSkipEntry}, // grid/pre-filled runtime_state
	{PhaseEntryActive, PhasePositionOpen, ConditionEntryFill},
	{PhasePositionOpen, PhaseExiting, ConditionExitMet},
	{PhaseExiting, PhaseCompleted, ConditionExitFill},

	{PhasePending, PhaseCancelled, ConditionExternalCancel},
	{PhaseEntryActive, PhaseCancelled, ConditionExternalCancel},
	{PhasePositionOpen, PhaseCancelled, ConditionExternalCancel},
	{PhaseExiting, PhaseCancelled, ConditionExternalCancel},
}

var phaseLookup map[Phase]map[Phase]map[string]bool

func init() {
	phaseLookup = make(map[Phase]map[Phase]map[string]bool)
	for _, t := range ValidPhaseTransitions {
		if phaseLookup[t.From] == nil {
			phaseLookup[t.From] = make(map[Phase]map[string]bool)
		}
		if phaseLookup[t.From][t.To] == nil {
			phaseLookup[t.From][t.To] = make(map[string]bool)
		}
		phaseLookup[t.From][t.To][t.Condition] = true
	}
}

// IsValidPhaseTransition reports whether moving from `from` to `to` under
// `condition` is one of the defined transitions.
func IsValidPhaseTransition(from, to Phase, condition string) bool {
	if toMap, ok := phaseLookup[from]; ok {
		if condMap, ok := toMap[to]; ok {
			return condMap[condition]
		}
	}
	return false
}

// IsTerminalPhase reports whether a phase has no further outgoing transitions.
func IsTerminalPhase(p Phase) bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// TransitionPhase validates and applies a phase transition in place,
// returning an error for any move not present in ValidPhaseTransitions.
// Grid strategies have no terminal phase (§4.5); callers that need a
// direct pending->position_open move for grid pass ConditionSkipEntry.
func TransitionPhase(current *Phase, to Phase, condition string) error {
	if !IsValidPhaseTransition(*current, to, condition) {
		return fmt.Errorf("invalid phase transition from %s to %s with condition %q", *current, to, condition)
	}
	*current = to
	return nil
}
