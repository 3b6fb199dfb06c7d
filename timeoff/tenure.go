package timeoff

import (
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/generic"
)

const monthsPerYear = 12

// EligibleMonths returns how many months of year the worker is employed for
// entitlement purposes, in [0, 12].
//
// A join in year removes the months before the join month. A notice start in
// year removes the months after the notice month.
func EligibleMonths(w Worker, year int) int {
	months := monthsPerYear
	if w.JoinDate != nil && !w.JoinDate.IsZero() && w.JoinDate.Year() == year {
		months -= w.JoinDate.MonthIndex()
	}
	if w.NoticeStartDate != nil && !w.NoticeStartDate.IsZero() && w.NoticeStartDate.Year() == year {
		months -= monthsPerYear - w.NoticeStartDate.MonthIndex() - 1
	}
	if months < 0 {
		return 0
	}
	if months > monthsPerYear {
		return monthsPerYear
	}
	return months
}

// Scale prorates a yearly entitlement: ceil(entitlement * months / 12).
func Scale(entitlement decimal.Decimal, w Worker, year int) decimal.Decimal {
	months := generic.Days(int64(EligibleMonths(w, year)))
	return generic.CeilDiv(entitlement.Mul(months), generic.Days(monthsPerYear))
}
