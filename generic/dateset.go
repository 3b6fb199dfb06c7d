package generic

import "sort"

// =============================================================================
// DATE SET - Calendar days without duplicates
// =============================================================================

// DateSet is a set of calendar days keyed by their YYYY-MM-DD form.
// The zero value is not usable; use NewDateSet.
type DateSet struct {
	days map[string]TimePoint
}

func NewDateSet(days ...TimePoint) DateSet {
	s := DateSet{days: make(map[string]TimePoint, len(days))}
	for _, d := range days {
		s.Add(d)
	}
	return s
}

func (s DateSet) Add(d TimePoint) {
	s.days[d.String()] = FromTime(d.Time)
}

func (s DateSet) Has(d TimePoint) bool {
	_, ok := s.days[d.String()]
	return ok
}

func (s DateSet) Len() int { return len(s.days) }

// Union returns s ∪ other.
func (s DateSet) Union(other DateSet) DateSet {
	out := NewDateSet()
	for k, v := range s.days {
		out.days[k] = v
	}
	for k, v := range other.days {
		out.days[k] = v
	}
	return out
}

// Intersect returns s ∩ other.
func (s DateSet) Intersect(other DateSet) DateSet {
	out := NewDateSet()
	for k, v := range s.days {
		if _, ok := other.days[k]; ok {
			out.days[k] = v
		}
	}
	return out
}

// Difference returns s \ other.
func (s DateSet) Difference(other DateSet) DateSet {
	out := NewDateSet()
	for k, v := range s.days {
		if _, ok := other.days[k]; !ok {
			out.days[k] = v
		}
	}
	return out
}

// Sorted returns the days in ascending order. Never nil.
func (s DateSet) Sorted() []TimePoint {
	out := make([]TimePoint, 0, len(s.days))
	for _, v := range s.days {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
