package generic

// =============================================================================
// PERIOD - The boundary every balance is computed for
// =============================================================================

// Period is an inclusive range of calendar days.
// Balances are always computed for the calendar year:
//
//	YearPeriod(2025) = [2025-01-01, 2025-12-31]
type Period struct {
	Start TimePoint
	End   TimePoint
}

// YearPeriod returns [year-01-01, year-12-31].
func YearPeriod(year int) Period {
	return Period{Start: StartOfYear(year), End: EndOfYear(year)}
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

func StartOfYear(year int) TimePoint { return NewTimePoint(year, 1, 1) }
func EndOfYear(year int) TimePoint   { return NewTimePoint(year, 12, 31) }
