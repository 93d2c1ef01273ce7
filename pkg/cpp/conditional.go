// conditional.go implements conditional compilation state (#if, #ifdef, etc.)
package cpp

// ConditionalState tracks whether the current region is skipped. While an
// outer conditional is skipped, inner #if...#endif pairs are only counted so
// their #else and #endif do not affect the outer region.
type ConditionalState struct {
	skipping bool
	nested   int // inner conditionals opened while skipping
}

// Skipping reports whether tokens are currently being skipped.
func (cs *ConditionalState) Skipping() bool {
	return cs.skipping
}

// NestedDepth returns the number of open conditionals swallowed by a skipped region.
func (cs *ConditionalState) NestedDepth() int {
	return cs.nested
}

// Reset returns to the initial, non-skipping state.
func (cs *ConditionalState) Reset() {
	cs.skipping = false
	cs.nested = 0
}

// enterNested records an #if/#ifdef/#ifndef met while skipping. It reports
// whether the directive was swallowed and must not be evaluated.
func (cs *ConditionalState) enterNested() bool {
	if !cs.skipping {
		return false
	}
	cs.nested++
	return true
}

// Begin opens a conditional whose condition evaluated to active.
func (cs *ConditionalState) Begin(active bool) {
	cs.skipping = !active
}

// Else handles #else: it only applies to the outermost skipped conditional.
// It reports whether the skipping state changed.
func (cs *ConditionalState) Else() bool {
	if cs.nested > 0 {
		return false
	}
	cs.skipping = !cs.skipping
	return true
}

// Endif handles #endif. It reports whether skipping was turned off.
func (cs *ConditionalState) Endif() bool {
	if cs.nested > 0 {
		cs.nested--
		return false
	}
	wasSkipping := cs.skipping
	cs.skipping = false
	return wasSkipping
}
